package persist

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"pinion/protocol"
)

const maxPinKey = 31

var (
	bucketName = []byte("pinion")
	ssidKey    = []byte("ssid")
)

// KV is a device-side configuration store. Pin functions live under
// one single-byte key per BCM pin so each change touches only that
// pin's entry.
type KV struct {
	db *bolt.DB
}

// OpenKV opens (creating if needed) the store at path.
func OpenKV(path string) (*KV, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: init %s: %w", path, err)
	}
	return &KV{db: db}, nil
}

// Close releases the underlying database.
func (kv *KV) Close() error {
	return kv.db.Close()
}

func pinKey(pin protocol.BCMPinNumber) []byte {
	return []byte{byte(pin)}
}

// StoreConfigChange applies the persistence side of a config message.
// A full NewConfig replaces every stored pin entry. A pin reconfigured
// to no function has its entry deleted. A level change on an output is
// stored as an output with that initial level, so the pin comes back
// in its last driven state after a restart.
func (kv *KV) StoreConfigChange(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.NewConfig:
		return kv.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketName)
			for pin := protocol.BCMPinNumber(0); pin <= maxPinKey; pin++ {
				if err := b.Delete(pinKey(pin)); err != nil {
					return err
				}
			}
			for pin, fn := range m.Config.Pins {
				if pin > maxPinKey {
					continue
				}
				if err := b.Put(pinKey(pin), protocol.EncodePinFunction(fn)); err != nil {
					return err
				}
			}
			return nil
		})
	case protocol.NewPinConfig:
		if m.Pin > maxPinKey {
			return nil
		}
		return kv.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketName)
			if m.Function == nil {
				return b.Delete(pinKey(m.Pin))
			}
			return b.Put(pinKey(m.Pin), protocol.EncodePinFunction(*m.Function))
		})
	case protocol.IOLevelChanged:
		if m.Pin > maxPinKey {
			return nil
		}
		fn := protocol.OutputWithLevel(m.Change.NewLevel)
		return kv.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketName).Put(pinKey(m.Pin), protocol.EncodePinFunction(fn))
		})
	default:
		return nil
	}
}

// LoadConfig rebuilds the pin configuration from the stored entries.
func (kv *KV) LoadConfig() (protocol.HardwareConfig, error) {
	cfg := protocol.NewHardwareConfig()
	err := kv.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for pin := protocol.BCMPinNumber(0); pin <= maxPinKey; pin++ {
			v := b.Get(pinKey(pin))
			if v == nil {
				continue
			}
			fn, err := protocol.DecodePinFunction(v)
			if err != nil {
				return fmt.Errorf("pin %d: %w", pin, err)
			}
			cfg.Pins[pin] = fn
		}
		return nil
	})
	if err != nil {
		return protocol.HardwareConfig{}, fmt.Errorf("persist: load config: %w", err)
	}
	return cfg, nil
}

// StoreSsid saves the Wi-Fi network the device should join.
func (kv *KV) StoreSsid(spec protocol.SsidSpec) error {
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(ssidKey, protocol.EncodeSsidSpec(spec))
	})
}

// Ssid returns the stored Wi-Fi network, or nil when none is stored.
func (kv *KV) Ssid() (*protocol.SsidSpec, error) {
	var spec *protocol.SsidSpec
	err := kv.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get(ssidKey)
		if v == nil {
			return nil
		}
		s, err := protocol.DecodeSsidSpec(v)
		if err != nil {
			return err
		}
		spec = &s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist: load ssid: %w", err)
	}
	return spec, nil
}

// DeleteSsid removes any stored Wi-Fi network.
func (kv *KV) DeleteSsid() error {
	return kv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete(ssidKey)
	})
}
