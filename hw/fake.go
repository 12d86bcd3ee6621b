package hw

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pinion/protocol"
)

// Fake is the host implementation of Hardware: it tracks pin modes and
// levels in memory so the protocol, session loop and controller can be
// exercised without a board. SetInputLevel simulates an edge interrupt
// by invoking the registered callback, from whatever goroutine calls it.
type Fake struct {
	mu       sync.Mutex
	pins     protocol.PinDescriptionSet
	modes    map[protocol.BCMPinNumber]protocol.FunctionKind
	levels   map[protocol.BCMPinNumber]protocol.PinLevel
	callback LevelCallback
	boot     time.Time
}

// NewFake returns a Fake with the standard 40-pin catalogue.
func NewFake() *Fake {
	return &Fake{
		pins:   PinDescriptions(),
		modes:  make(map[protocol.BCMPinNumber]protocol.FunctionKind),
		levels: make(map[protocol.BCMPinNumber]protocol.PinLevel),
		boot:   time.Now(),
	}
}

func (f *Fake) Description() (protocol.HardwareDescription, error) {
	return protocol.HardwareDescription{
		Details: protocol.HardwareDetails{
			Hardware:   "fake",
			Revision:   "0",
			Serial:     "00000000fa4ef51e",
			Model:      "Fake Hardware",
			AppName:    "piniond",
			AppVersion: protocol.Version,
		},
		Pins: f.pins,
	}, nil
}

func (f *Fake) ApplyConfig(cfg protocol.HardwareConfig, callback LevelCallback) error {
	var errs []error
	for _, pin := range cfg.SortedPins() {
		fn := cfg.Pins[pin]
		if err := f.ApplyPinConfig(pin, &fn, callback); err != nil {
			errs = append(errs, fmt.Errorf("pin %d: %w", pin, err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fake) ApplyPinConfig(pin protocol.BCMPinNumber, fn *protocol.PinFunction, callback LevelCallback) error {
	if err := checkConfigurable(f.pins, pin); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if fn == nil {
		delete(f.modes, pin)
		delete(f.levels, pin)
		return nil
	}

	switch fn.Kind {
	case protocol.FunctionInput:
		f.modes[pin] = protocol.FunctionInput
		if _, ok := f.levels[pin]; !ok {
			// Pulled-up inputs read high until driven.
			f.levels[pin] = fn.HasPull && fn.Pull == protocol.PullUp
		}
		f.callback = callback
	case protocol.FunctionOutput:
		f.modes[pin] = protocol.FunctionOutput
		if fn.HasLevel {
			f.levels[pin] = fn.Level
		}
	default:
		delete(f.modes, pin)
		delete(f.levels, pin)
	}
	return nil
}

func (f *Fake) InputLevel(pin protocol.BCMPinNumber) (protocol.PinLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modes[pin] != protocol.FunctionInput {
		return false, fmt.Errorf("%w: %d", ErrNotAnInput, pin)
	}
	return f.levels[pin], nil
}

func (f *Fake) SetOutputLevel(pin protocol.BCMPinNumber, level protocol.PinLevel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modes[pin] != protocol.FunctionOutput {
		return fmt.Errorf("%w: %d", ErrNotAnOutput, pin)
	}
	f.levels[pin] = level
	return nil
}

func (f *Fake) Uptime() time.Duration {
	return time.Since(f.boot)
}

// SetInputLevel simulates an external level transition on an input pin,
// firing the registered edge callback on a change.
func (f *Fake) SetInputLevel(pin protocol.BCMPinNumber, level protocol.PinLevel) error {
	f.mu.Lock()
	if f.modes[pin] != protocol.FunctionInput {
		f.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotAnInput, pin)
	}
	changed := f.levels[pin] != level
	f.levels[pin] = level
	callback := f.callback
	f.mu.Unlock()

	if changed && callback != nil {
		callback(pin, protocol.NewLevelChange(level, f.Uptime()))
	}
	return nil
}

// OutputLevel reports the last level driven on an output pin, for tests.
func (f *Fake) OutputLevel(pin protocol.BCMPinNumber) (protocol.PinLevel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modes[pin] != protocol.FunctionOutput {
		return false, false
	}
	level, ok := f.levels[pin]
	return level, ok
}
