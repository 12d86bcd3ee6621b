package protocol

import (
	"fmt"
	"time"
)

// Wire format. Integers and lengths are unsigned varints (7 bits per
// byte, LSB group first, high bit = continuation). Tagged unions are a
// one-varint discriminant followed by the variant payload. Optionals
// are a presence byte (0/1) followed, if present, by the value. Strings
// are a varint length followed by UTF-8 bytes. Maps are a varint count
// followed by key/value pairs in ascending key order. There is no outer
// length prefix: framing belongs to the transport.

// Message discriminants.
const (
	tagNewConfig = iota
	tagNewPinConfig
	tagIOLevelChanged
	tagGetConfig
	tagDisconnect
)

// DecodeError reports a truncated or corrupted wire buffer. The caller
// must discard the offending message and carry on.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "protocol: malformed message: " + e.Reason
}

func decodeErr(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

type encoder struct {
	buf []byte
}

func (e *encoder) uvarint(v uint64) {
	for v >= 0x80 {
		e.buf = append(e.buf, byte(v)|0x80)
		v >>= 7
	}
	e.buf = append(e.buf, byte(v))
}

func (e *encoder) byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) bool(v bool) {
	if v {
		e.byte(1)
	} else {
		e.byte(0)
	}
}

func (e *encoder) string(s string) {
	e.uvarint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	buf []byte
}

func (d *decoder) uvarint() (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; ; i++ {
		if len(d.buf) == 0 {
			return 0, decodeErr("truncated varint")
		}
		if shift > 63 {
			return 0, decodeErr("varint overflow")
		}
		b := d.buf[0]
		d.buf = d.buf[1:]
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

func (d *decoder) byte() (byte, error) {
	if len(d.buf) == 0 {
		return 0, decodeErr("truncated buffer")
	}
	b := d.buf[0]
	d.buf = d.buf[1:]
	return b, nil
}

func (d *decoder) bool() (bool, error) {
	b, err := d.byte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, decodeErr("invalid bool byte 0x%02x", b)
	}
}

func (d *decoder) string() (string, error) {
	n, err := d.uvarint()
	if err != nil {
		return "", err
	}
	if n > uint64(len(d.buf)) {
		return "", decodeErr("string length %d exceeds buffer", n)
	}
	s := string(d.buf[:n])
	d.buf = d.buf[n:]
	return s, nil
}

func (d *decoder) remaining() int { return len(d.buf) }

func (e *encoder) pinFunction(f PinFunction) {
	e.uvarint(uint64(f.Kind))
	switch f.Kind {
	case FunctionInput:
		e.bool(f.HasPull)
		if f.HasPull {
			e.byte(byte(f.Pull))
		}
	case FunctionOutput:
		e.bool(f.HasLevel)
		if f.HasLevel {
			e.bool(f.Level)
		}
	}
}

func (d *decoder) pinFunction() (PinFunction, error) {
	kind, err := d.uvarint()
	if err != nil {
		return PinFunction{}, err
	}
	switch FunctionKind(kind) {
	case FunctionNone:
		return NoFunction(), nil
	case FunctionInput:
		has, err := d.bool()
		if err != nil {
			return PinFunction{}, err
		}
		if !has {
			return Input(), nil
		}
		p, err := d.byte()
		if err != nil {
			return PinFunction{}, err
		}
		if p > byte(PullNone) {
			return PinFunction{}, decodeErr("invalid pull %d", p)
		}
		return InputWithPull(Pull(p)), nil
	case FunctionOutput:
		has, err := d.bool()
		if err != nil {
			return PinFunction{}, err
		}
		if !has {
			return Output(), nil
		}
		level, err := d.bool()
		if err != nil {
			return PinFunction{}, err
		}
		return OutputWithLevel(level), nil
	default:
		return PinFunction{}, decodeErr("invalid pin function discriminant %d", kind)
	}
}

func (e *encoder) config(c HardwareConfig) {
	e.uvarint(uint64(len(c.Pins)))
	for _, pin := range c.SortedPins() {
		e.byte(pin)
		e.pinFunction(c.Pins[pin])
	}
}

func (d *decoder) config() (HardwareConfig, error) {
	n, err := d.uvarint()
	if err != nil {
		return HardwareConfig{}, err
	}
	if n > uint64(d.remaining()) {
		return HardwareConfig{}, decodeErr("config entry count %d exceeds buffer", n)
	}
	c := NewHardwareConfig()
	for i := uint64(0); i < n; i++ {
		pin, err := d.byte()
		if err != nil {
			return HardwareConfig{}, err
		}
		fn, err := d.pinFunction()
		if err != nil {
			return HardwareConfig{}, err
		}
		if _, dup := c.Pins[pin]; dup {
			return HardwareConfig{}, decodeErr("duplicate entry for pin %d", pin)
		}
		c.Pins[pin] = fn
	}
	return c, nil
}

func (e *encoder) levelChange(lc LevelChange) {
	e.bool(lc.NewLevel)
	e.uvarint(uint64(lc.Timestamp / time.Second))
	e.uvarint(uint64(lc.Timestamp % time.Second))
}

func (d *decoder) levelChange() (LevelChange, error) {
	level, err := d.bool()
	if err != nil {
		return LevelChange{}, err
	}
	secs, err := d.uvarint()
	if err != nil {
		return LevelChange{}, err
	}
	nanos, err := d.uvarint()
	if err != nil {
		return LevelChange{}, err
	}
	if nanos >= uint64(time.Second) {
		return LevelChange{}, decodeErr("nanoseconds %d out of range", nanos)
	}
	ts := time.Duration(secs)*time.Second + time.Duration(nanos)
	return LevelChange{NewLevel: level, Timestamp: ts}, nil
}

func (e *encoder) details(det HardwareDetails) {
	e.string(det.Hardware)
	e.string(det.Revision)
	e.string(det.Serial)
	e.string(det.Model)
	e.bool(det.Wifi)
	e.string(det.AppName)
	e.string(det.AppVersion)
}

func (d *decoder) details() (HardwareDetails, error) {
	var det HardwareDetails
	var err error
	if det.Hardware, err = d.string(); err != nil {
		return det, err
	}
	if det.Revision, err = d.string(); err != nil {
		return det, err
	}
	if det.Serial, err = d.string(); err != nil {
		return det, err
	}
	if det.Model, err = d.string(); err != nil {
		return det, err
	}
	if det.Wifi, err = d.bool(); err != nil {
		return det, err
	}
	if det.AppName, err = d.string(); err != nil {
		return det, err
	}
	if det.AppVersion, err = d.string(); err != nil {
		return det, err
	}
	return det, nil
}

func (e *encoder) pinDescription(p PinDescription) {
	e.byte(p.BoardPinNumber)
	e.bool(p.BCM != nil)
	if p.BCM != nil {
		e.byte(*p.BCM)
	}
	e.string(p.Name)
	e.uvarint(uint64(len(p.Options)))
	for _, fn := range p.Options {
		e.pinFunction(fn)
	}
}

func (d *decoder) pinDescription() (PinDescription, error) {
	var p PinDescription
	var err error
	if p.BoardPinNumber, err = d.byte(); err != nil {
		return p, err
	}
	hasBCM, err := d.bool()
	if err != nil {
		return p, err
	}
	if hasBCM {
		bcm, err := d.byte()
		if err != nil {
			return p, err
		}
		p.BCM = &bcm
	}
	if p.Name, err = d.string(); err != nil {
		return p, err
	}
	n, err := d.uvarint()
	if err != nil {
		return p, err
	}
	if n > uint64(d.remaining()) {
		return p, decodeErr("option count %d exceeds buffer", n)
	}
	for i := uint64(0); i < n; i++ {
		fn, err := d.pinFunction()
		if err != nil {
			return p, err
		}
		p.Options = append(p.Options, fn)
	}
	return p, nil
}

func (e *encoder) description(desc HardwareDescription) {
	e.details(desc.Details)
	e.uvarint(uint64(len(desc.Pins.Pins)))
	for _, pin := range desc.Pins.Pins {
		e.pinDescription(pin)
	}
}

func (d *decoder) description() (HardwareDescription, error) {
	var desc HardwareDescription
	var err error
	if desc.Details, err = d.details(); err != nil {
		return desc, err
	}
	n, err := d.uvarint()
	if err != nil {
		return desc, err
	}
	if n > uint64(d.remaining()) {
		return desc, decodeErr("pin count %d exceeds buffer", n)
	}
	for i := uint64(0); i < n; i++ {
		pin, err := d.pinDescription()
		if err != nil {
			return desc, err
		}
		desc.Pins.Pins = append(desc.Pins.Pins, pin)
	}
	return desc, nil
}

// Encode serializes a Message to its wire form.
func Encode(m Message) []byte {
	var e encoder
	switch msg := m.(type) {
	case NewConfig:
		e.uvarint(tagNewConfig)
		e.config(msg.Config)
	case NewPinConfig:
		e.uvarint(tagNewPinConfig)
		e.byte(msg.Pin)
		e.bool(msg.Function != nil)
		if msg.Function != nil {
			e.pinFunction(*msg.Function)
		}
	case IOLevelChanged:
		e.uvarint(tagIOLevelChanged)
		e.byte(msg.Pin)
		e.levelChange(msg.Change)
	case GetConfig:
		e.uvarint(tagGetConfig)
	case Disconnect:
		e.uvarint(tagDisconnect)
	}
	return e.buf
}

// Decode parses one Message from buf. The whole buffer must be consumed;
// trailing bytes are treated as corruption.
func Decode(buf []byte) (Message, error) {
	d := decoder{buf: buf}
	m, err := decodeMessage(&d)
	if err != nil {
		return nil, err
	}
	if d.remaining() != 0 {
		return nil, decodeErr("%d trailing bytes after message", d.remaining())
	}
	return m, nil
}

func decodeMessage(d *decoder) (Message, error) {
	tag, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNewConfig:
		cfg, err := d.config()
		if err != nil {
			return nil, err
		}
		return NewConfig{Config: cfg}, nil
	case tagNewPinConfig:
		pin, err := d.byte()
		if err != nil {
			return nil, err
		}
		has, err := d.bool()
		if err != nil {
			return nil, err
		}
		msg := NewPinConfig{Pin: pin}
		if has {
			fn, err := d.pinFunction()
			if err != nil {
				return nil, err
			}
			msg.Function = &fn
		}
		return msg, nil
	case tagIOLevelChanged:
		pin, err := d.byte()
		if err != nil {
			return nil, err
		}
		lc, err := d.levelChange()
		if err != nil {
			return nil, err
		}
		return IOLevelChanged{Pin: pin, Change: lc}, nil
	case tagGetConfig:
		return GetConfig{}, nil
	case tagDisconnect:
		return Disconnect{}, nil
	default:
		return nil, decodeErr("unknown message discriminant %d", tag)
	}
}

// EncodeDescription serializes a HardwareDescription, the first payload
// a device sends after accepting a connection.
func EncodeDescription(desc HardwareDescription) []byte {
	var e encoder
	e.description(desc)
	return e.buf
}

// DecodeDescription parses a HardwareDescription.
func DecodeDescription(buf []byte) (HardwareDescription, error) {
	d := decoder{buf: buf}
	desc, err := d.description()
	if err != nil {
		return HardwareDescription{}, err
	}
	if d.remaining() != 0 {
		return HardwareDescription{}, decodeErr("%d trailing bytes after description", d.remaining())
	}
	return desc, nil
}

// EncodeDescriptionAndConfig serializes the description/config pair the
// device sends as the first frame on TCP and P2P connections.
func EncodeDescriptionAndConfig(desc HardwareDescription, cfg HardwareConfig) []byte {
	var e encoder
	e.description(desc)
	e.config(cfg)
	return e.buf
}

// DecodeDescriptionAndConfig parses the initial description/config pair.
func DecodeDescriptionAndConfig(buf []byte) (HardwareDescription, HardwareConfig, error) {
	d := decoder{buf: buf}
	desc, err := d.description()
	if err != nil {
		return HardwareDescription{}, HardwareConfig{}, err
	}
	cfg, err := d.config()
	if err != nil {
		return HardwareDescription{}, HardwareConfig{}, err
	}
	if d.remaining() != 0 {
		return HardwareDescription{}, HardwareConfig{}, decodeErr("%d trailing bytes after config", d.remaining())
	}
	return desc, cfg, nil
}

// EncodeDetails serializes HardwareDetails (USB get-hardware-details).
func EncodeDetails(det HardwareDetails) []byte {
	var e encoder
	e.details(det)
	return e.buf
}

// DecodeDetails parses HardwareDetails.
func DecodeDetails(buf []byte) (HardwareDetails, error) {
	d := decoder{buf: buf}
	det, err := d.details()
	if err != nil {
		return HardwareDetails{}, err
	}
	if d.remaining() != 0 {
		return HardwareDetails{}, decodeErr("%d trailing bytes after details", d.remaining())
	}
	return det, nil
}

// EncodeConfig serializes a bare HardwareConfig (USB get-config).
func EncodeConfig(cfg HardwareConfig) []byte {
	var e encoder
	e.config(cfg)
	return e.buf
}

// DecodeConfig parses a bare HardwareConfig.
func DecodeConfig(buf []byte) (HardwareConfig, error) {
	d := decoder{buf: buf}
	cfg, err := d.config()
	if err != nil {
		return HardwareConfig{}, err
	}
	if d.remaining() != 0 {
		return HardwareConfig{}, decodeErr("%d trailing bytes after config", d.remaining())
	}
	return cfg, nil
}

// EncodePinFunction serializes a bare PinFunction.
func EncodePinFunction(fn PinFunction) []byte {
	var e encoder
	e.pinFunction(fn)
	return e.buf
}

// DecodePinFunction parses a bare PinFunction.
func DecodePinFunction(buf []byte) (PinFunction, error) {
	d := decoder{buf: buf}
	fn, err := d.pinFunction()
	if err != nil {
		return PinFunction{}, err
	}
	if d.remaining() != 0 {
		return PinFunction{}, decodeErr("%d trailing bytes after pin function", d.remaining())
	}
	return fn, nil
}

// EncodeSsidSpec serializes an SsidSpec (USB set-ssid).
func EncodeSsidSpec(spec SsidSpec) []byte {
	var e encoder
	e.string(spec.Name)
	e.string(spec.Pass)
	e.string(spec.Security)
	return e.buf
}

// DecodeSsidSpec parses an SsidSpec.
func DecodeSsidSpec(buf []byte) (SsidSpec, error) {
	d := decoder{buf: buf}
	var spec SsidSpec
	var err error
	if spec.Name, err = d.string(); err != nil {
		return SsidSpec{}, err
	}
	if spec.Pass, err = d.string(); err != nil {
		return SsidSpec{}, err
	}
	if spec.Security, err = d.string(); err != nil {
		return SsidSpec{}, err
	}
	if d.remaining() != 0 {
		return SsidSpec{}, decodeErr("%d trailing bytes after ssid spec", d.remaining())
	}
	return spec, nil
}

// EncodeWiFiDetails serializes WiFiDetails (USB get-wifi-details).
func EncodeWiFiDetails(w WiFiDetails) []byte {
	var e encoder
	e.bool(w.Spec != nil)
	if w.Spec != nil {
		e.string(w.Spec.Name)
		e.string(w.Spec.Pass)
		e.string(w.Spec.Security)
	}
	e.bool(w.TCP != nil)
	if w.TCP != nil {
		e.buf = append(e.buf, w.TCP.IP[:]...)
		e.uvarint(uint64(w.TCP.Port))
	}
	return e.buf
}

// DecodeWiFiDetails parses WiFiDetails.
func DecodeWiFiDetails(buf []byte) (WiFiDetails, error) {
	d := decoder{buf: buf}
	var w WiFiDetails
	hasSpec, err := d.bool()
	if err != nil {
		return WiFiDetails{}, err
	}
	if hasSpec {
		var spec SsidSpec
		if spec.Name, err = d.string(); err != nil {
			return WiFiDetails{}, err
		}
		if spec.Pass, err = d.string(); err != nil {
			return WiFiDetails{}, err
		}
		if spec.Security, err = d.string(); err != nil {
			return WiFiDetails{}, err
		}
		w.Spec = &spec
	}
	hasTCP, err := d.bool()
	if err != nil {
		return WiFiDetails{}, err
	}
	if hasTCP {
		var addr TCPListenerAddr
		for i := range addr.IP {
			if addr.IP[i], err = d.byte(); err != nil {
				return WiFiDetails{}, err
			}
		}
		port, err := d.uvarint()
		if err != nil {
			return WiFiDetails{}, err
		}
		if port > 0xffff {
			return WiFiDetails{}, decodeErr("port %d out of range", port)
		}
		addr.Port = uint16(port)
		w.TCP = &addr
	}
	if d.remaining() != 0 {
		return WiFiDetails{}, decodeErr("%d trailing bytes after wifi details", d.remaining())
	}
	return w, nil
}
