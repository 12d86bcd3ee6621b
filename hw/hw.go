// Package hw is the GPIO capability the device session loop drives.
// Two implementations exist: a fake for hosts without GPIO hardware
// (development and tests), and a periph.io backend for Linux boards.
package hw

import (
	"errors"
	"fmt"
	"time"

	"pinion/protocol"
)

var (
	// ErrFixedPurposePin is returned when a config addresses a pin
	// whose catalogue entry is power/ground/reserved.
	ErrFixedPurposePin = errors.New("hw: pin is fixed-purpose and cannot be configured")

	// ErrUnknownPin is returned for a BCM number absent from the
	// board's pin catalogue.
	ErrUnknownPin = errors.New("hw: unknown BCM pin number")

	// ErrNotAnInput is returned when reading the level of a pin not
	// configured as an input.
	ErrNotAnInput = errors.New("hw: pin is not configured as an input")

	// ErrNotAnOutput is returned when writing the level of a pin not
	// configured as an output.
	ErrNotAnOutput = errors.New("hw: pin is not configured as an output")
)

// LevelCallback receives input level transitions detected by edge
// interrupts. It may be invoked from a non-cooperative context and must
// not block.
type LevelCallback func(pin protocol.BCMPinNumber, change protocol.LevelChange)

// Hardware is the capability interface the session loop calls into.
type Hardware interface {
	// Description returns the board details and pin catalogue.
	Description() (protocol.HardwareDescription, error)

	// ApplyConfig applies every pin in cfg. A failure on one pin is
	// recorded but does not stop the remaining pins from being
	// applied; the joined error is returned.
	ApplyConfig(cfg protocol.HardwareConfig, callback LevelCallback) error

	// ApplyPinConfig applies one pin's function. A nil function
	// releases the pin.
	ApplyPinConfig(pin protocol.BCMPinNumber, fn *protocol.PinFunction, callback LevelCallback) error

	// InputLevel reads the current level of an input pin.
	InputLevel(pin protocol.BCMPinNumber) (protocol.PinLevel, error)

	// SetOutputLevel drives an output pin to the given level.
	SetOutputLevel(pin protocol.BCMPinNumber, level protocol.PinLevel) error

	// Uptime is the monotonic duration since the device booted, the
	// timestamp base of every LevelChange this device emits.
	Uptime() time.Duration
}

// checkConfigurable rejects pins that are absent from the catalogue or
// fixed-purpose. Shared by both implementations.
func checkConfigurable(pins protocol.PinDescriptionSet, pin protocol.BCMPinNumber) error {
	desc, ok := pins.ByBCM(pin)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPin, pin)
	}
	if len(desc.Options) <= 1 {
		return fmt.Errorf("%w: %s (pin %d)", ErrFixedPurposePin, desc.Name, pin)
	}
	return nil
}
