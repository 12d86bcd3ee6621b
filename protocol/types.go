// Package protocol defines the messages exchanged between a controller
// and a GPIO device, and their compact binary encoding.
//
// The vocabulary is deliberately small: after the initial
// HardwareDescription sent by the device on accept, the only payload
// that ever travels the wire, in either direction, is a Message.
package protocol

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BCMPinNumber refers to a GPIO pin by its Broadcom SOC channel number,
// as opposed to its physical position on the header.
type BCMPinNumber = uint8

// BoardPinNumber refers to a GPIO pin by the numbering printed on the
// board header, starting at 1.
type BoardPinNumber = uint8

// PinLevel is the logical level of a pin: high (true) or low (false).
type PinLevel = bool

// Pull is the optional pull resistor configuration of an input.
type Pull uint8

const (
	PullUp Pull = iota
	PullDown
	PullNone
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "Pull Up"
	case PullDown:
		return "Pull Down"
	default:
		return "None"
	}
}

// FunctionKind discriminates the PinFunction variants.
type FunctionKind uint8

const (
	// FunctionNone marks a pin that carries no configurable function
	// (power, ground, reserved).
	FunctionNone FunctionKind = iota
	FunctionInput
	FunctionOutput
)

// PinFunction is the function configured on a pin: none, an input with
// an optional pull, or an output with an optional initial level.
// The zero value is FunctionNone.
type PinFunction struct {
	Kind FunctionKind

	// Input only. HasPull false means no pull was specified.
	HasPull bool
	Pull    Pull

	// Output only. HasLevel false means no initial level was specified.
	HasLevel bool
	Level    PinLevel
}

// NoFunction returns the PinFunction of a fixed-purpose pin.
func NoFunction() PinFunction { return PinFunction{Kind: FunctionNone} }

// Input returns an input PinFunction with no pull specified.
func Input() PinFunction { return PinFunction{Kind: FunctionInput} }

// InputWithPull returns an input PinFunction with the given pull.
func InputWithPull(p Pull) PinFunction {
	return PinFunction{Kind: FunctionInput, HasPull: true, Pull: p}
}

// Output returns an output PinFunction with no initial level.
func Output() PinFunction { return PinFunction{Kind: FunctionOutput} }

// OutputWithLevel returns an output PinFunction driving the given level.
func OutputWithLevel(level PinLevel) PinFunction {
	return PinFunction{Kind: FunctionOutput, HasLevel: true, Level: level}
}

func (f PinFunction) String() string {
	switch f.Kind {
	case FunctionInput:
		return "Input"
	case FunctionOutput:
		return "Output"
	default:
		return "None"
	}
}

// HardwareConfig maps each configured pin to its function. Pins absent
// from the map are unconfigured. There is never more than one entry per
// pin, and fixed-purpose pins never appear.
type HardwareConfig struct {
	Pins map[BCMPinNumber]PinFunction
}

// NewHardwareConfig returns an empty config.
func NewHardwareConfig() HardwareConfig {
	return HardwareConfig{Pins: make(map[BCMPinNumber]PinFunction)}
}

// Clone returns a deep copy of the config.
func (c HardwareConfig) Clone() HardwareConfig {
	out := NewHardwareConfig()
	for pin, fn := range c.Pins {
		out.Pins[pin] = fn
	}
	return out
}

// Equal reports whether both configs hold the same pin entries.
func (c HardwareConfig) Equal(other HardwareConfig) bool {
	if len(c.Pins) != len(other.Pins) {
		return false
	}
	for pin, fn := range c.Pins {
		if o, ok := other.Pins[pin]; !ok || o != fn {
			return false
		}
	}
	return true
}

// SortedPins returns the configured pin numbers in ascending order.
func (c HardwareConfig) SortedPins() []BCMPinNumber {
	pins := make([]BCMPinNumber, 0, len(c.Pins))
	for pin := range c.Pins {
		pins = append(pins, pin)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return pins
}

func (c HardwareConfig) String() string {
	if len(c.Pins) == 0 {
		return "No Pins are Configured"
	}
	var b strings.Builder
	b.WriteString("Configured Pins:\n")
	for _, pin := range c.SortedPins() {
		fmt.Fprintf(&b, "\tBCM Pin #: %d - %s\n", pin, c.Pins[pin])
	}
	return b.String()
}

// HardwareDetails describes the board a device is running on. It is
// immutable for the lifetime of a boot.
type HardwareDetails struct {
	Hardware   string
	Revision   string
	Serial     string
	Model      string
	Wifi       bool
	AppName    string
	AppVersion string
}

func (d HardwareDetails) String() string {
	return fmt.Sprintf("Hardware: %s\nRevision: %s\nSerial: %s\nModel: %s",
		d.Hardware, d.Revision, d.Serial, d.Model)
}

// PinDescription describes one physical pin position on the header.
// BCM is nil for pins without a Broadcom channel (power, ground).
// Options is the set of functions the pin may legally take; a pin whose
// Options has at most one entry is fixed-purpose and not configurable.
type PinDescription struct {
	BoardPinNumber BoardPinNumber
	BCM            *BCMPinNumber
	Name           string
	Options        []PinFunction
}

// PinDescriptionSet is the fixed catalogue of all physical pin
// positions of a board, created once at startup and read-only after.
type PinDescriptionSet struct {
	Pins []PinDescription
}

// BCMToBoard finds the board position of the pin with the given BCM
// number, if any.
func (s PinDescriptionSet) BCMToBoard(bcm BCMPinNumber) (BoardPinNumber, bool) {
	for _, pin := range s.Pins {
		if pin.BCM != nil && *pin.BCM == bcm {
			return pin.BoardPinNumber, true
		}
	}
	return 0, false
}

// BCMPins returns only the configurable pins that have a BCM number.
func (s PinDescriptionSet) BCMPins() []PinDescription {
	var out []PinDescription
	for _, pin := range s.Pins {
		if pin.BCM != nil && len(pin.Options) > 1 {
			out = append(out, pin)
		}
	}
	return out
}

// BCMPinsSorted returns BCMPins in ascending BCM-number order.
func (s PinDescriptionSet) BCMPinsSorted() []PinDescription {
	pins := s.BCMPins()
	sort.Slice(pins, func(i, j int) bool { return *pins[i].BCM < *pins[j].BCM })
	return pins
}

// ByBCM returns the description of the pin with the given BCM number.
func (s PinDescriptionSet) ByBCM(bcm BCMPinNumber) (PinDescription, bool) {
	for _, pin := range s.Pins {
		if pin.BCM != nil && *pin.BCM == bcm {
			return pin, true
		}
	}
	return PinDescription{}, false
}

// HardwareDescription is sent once per session, immediately after a
// connection is accepted.
type HardwareDescription struct {
	Details HardwareDetails
	Pins    PinDescriptionSet
}

// LevelChange reports a pin level transition. Timestamp is the duration
// since the device booted; it is monotonic within one device session
// and must not be compared across devices.
type LevelChange struct {
	NewLevel  PinLevel
	Timestamp time.Duration
}

// NewLevelChange builds a LevelChange with the given uptime timestamp.
func NewLevelChange(level PinLevel, uptime time.Duration) LevelChange {
	return LevelChange{NewLevel: level, Timestamp: uptime}
}

// Message is the command/event union carried on the wire after the
// initial HardwareDescription. Implementations: NewConfig,
// NewPinConfig, IOLevelChanged, GetConfig, Disconnect.
type Message interface {
	isMessage()
}

// NewConfig replaces the device's entire configuration.
type NewConfig struct {
	Config HardwareConfig
}

// NewPinConfig configures exactly one pin. A nil Function removes the
// pin from the configuration.
type NewPinConfig struct {
	Pin      BCMPinNumber
	Function *PinFunction
}

// IOLevelChanged reports a level transition on a pin. Device to
// controller it is an input event; controller to device it sets an
// output level.
type IOLevelChanged struct {
	Pin    BCMPinNumber
	Change LevelChange
}

// GetConfig asks the device to reply with NewConfig of its current
// configuration.
type GetConfig struct{}

// Disconnect is the normal, clean session-end signal, recognized
// identically on both sides.
type Disconnect struct{}

func (NewConfig) isMessage()      {}
func (NewPinConfig) isMessage()   {}
func (IOLevelChanged) isMessage() {}
func (GetConfig) isMessage()      {}
func (Disconnect) isMessage()     {}

// SsidSpec holds the Wi-Fi network credentials a device stores to bring
// up its TCP listener.
type SsidSpec struct {
	Name     string
	Pass     string
	Security string
}

// TCPListenerAddr advertises an active TCP listener on a device.
type TCPListenerAddr struct {
	IP   [4]byte
	Port uint16
}

// WiFiDetails is the Wi-Fi state a device reports over USB: the stored
// network spec, if any, and the address of its TCP listener, if up.
type WiFiDetails struct {
	Spec *SsidSpec
	TCP  *TCPListenerAddr
}
