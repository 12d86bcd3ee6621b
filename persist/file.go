// Package persist stores the pin configuration durably: a YAML file on
// hosts, a key-value store on devices. Store failures are reported but
// never block hardware control; the in-memory config stays
// authoritative.
package persist

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pinion/protocol"
)

type filePin struct {
	Function string `yaml:"function"`
	Pull     string `yaml:"pull,omitempty"`
	Level    *bool  `yaml:"level,omitempty"`
}

type fileConfig struct {
	Pins map[protocol.BCMPinNumber]filePin `yaml:"pins"`
}

func toFilePin(fn protocol.PinFunction) filePin {
	switch fn.Kind {
	case protocol.FunctionInput:
		p := filePin{Function: "input"}
		if fn.HasPull {
			switch fn.Pull {
			case protocol.PullUp:
				p.Pull = "up"
			case protocol.PullDown:
				p.Pull = "down"
			case protocol.PullNone:
				p.Pull = "none"
			}
		}
		return p
	case protocol.FunctionOutput:
		p := filePin{Function: "output"}
		if fn.HasLevel {
			level := fn.Level
			p.Level = &level
		}
		return p
	default:
		return filePin{Function: "none"}
	}
}

func fromFilePin(pin protocol.BCMPinNumber, p filePin) (protocol.PinFunction, error) {
	switch p.Function {
	case "input":
		switch p.Pull {
		case "":
			return protocol.Input(), nil
		case "up":
			return protocol.InputWithPull(protocol.PullUp), nil
		case "down":
			return protocol.InputWithPull(protocol.PullDown), nil
		case "none":
			return protocol.InputWithPull(protocol.PullNone), nil
		default:
			return protocol.PinFunction{}, fmt.Errorf("persist: pin %d: unknown pull %q", pin, p.Pull)
		}
	case "output":
		if p.Level != nil {
			return protocol.OutputWithLevel(*p.Level), nil
		}
		return protocol.Output(), nil
	case "none":
		return protocol.NoFunction(), nil
	default:
		return protocol.PinFunction{}, fmt.Errorf("persist: pin %d: unknown function %q", pin, p.Function)
	}
}

// LoadFile reads a pin configuration from a YAML file.
func LoadFile(path string) (protocol.HardwareConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.HardwareConfig{}, fmt.Errorf("persist: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return protocol.HardwareConfig{}, fmt.Errorf("persist: parse %s: %w", path, err)
	}
	cfg := protocol.NewHardwareConfig()
	for pin, fp := range fc.Pins {
		fn, err := fromFilePin(pin, fp)
		if err != nil {
			return protocol.HardwareConfig{}, err
		}
		cfg.Pins[pin] = fn
	}
	return cfg, nil
}

// SaveFile writes a pin configuration to a YAML file, replacing any
// previous contents.
func SaveFile(path string, cfg protocol.HardwareConfig) error {
	fc := fileConfig{Pins: make(map[protocol.BCMPinNumber]filePin, len(cfg.Pins))}
	for pin, fn := range cfg.Pins {
		fc.Pins[pin] = toFilePin(fn)
	}
	data, err := yaml.Marshal(&fc)
	if err != nil {
		return fmt.Errorf("persist: marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("persist: write %s: %w", path, err)
	}
	return nil
}
