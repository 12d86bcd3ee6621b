//go:build linux

package hw

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"pinion/protocol"
)

var hostInit sync.Once

// RPi drives the 40-pin header through periph.io. Each input pin gets a
// watcher goroutine blocked in WaitForEdge; transitions are handed to
// the registered callback.
type RPi struct {
	mu      sync.Mutex
	pins    protocol.PinDescriptionSet
	inputs  map[protocol.BCMPinNumber]chan struct{}
	outputs map[protocol.BCMPinNumber]gpio.PinIO
	boot    time.Time
	details protocol.HardwareDetails
}

// NewRPi initialises periph host state and returns the board hardware.
func NewRPi() (*RPi, error) {
	var initErr error
	hostInit.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("hw: periph host init: %w", initErr)
	}

	return &RPi{
		pins:    PinDescriptions(),
		inputs:  make(map[protocol.BCMPinNumber]chan struct{}),
		outputs: make(map[protocol.BCMPinNumber]gpio.PinIO),
		boot:    time.Now(),
		details: boardDetails(),
	}, nil
}

// boardDetails reads model/revision/serial from the kernel's exports,
// falling back to empty strings off-Pi.
func boardDetails() protocol.HardwareDetails {
	details := protocol.HardwareDetails{
		Hardware:   "BCM2835",
		Model:      "Unknown",
		AppName:    "piniond",
		AppVersion: protocol.Version,
	}

	if model, err := os.ReadFile("/proc/device-tree/model"); err == nil {
		details.Model = strings.TrimRight(string(model), "\x00\n")
	}
	if cpuinfo, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		for _, line := range strings.Split(string(cpuinfo), "\n") {
			key, value, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			switch key {
			case "Revision":
				details.Revision = value
			case "Serial":
				details.Serial = value
			case "Hardware":
				details.Hardware = value
			}
		}
	}
	details.Wifi = strings.Contains(details.Model, "W") ||
		strings.Contains(details.Model, "3") || strings.Contains(details.Model, "4") ||
		strings.Contains(details.Model, "5")
	return details
}

func (r *RPi) Description() (protocol.HardwareDescription, error) {
	return protocol.HardwareDescription{Details: r.details, Pins: r.pins}, nil
}

func (r *RPi) ApplyConfig(cfg protocol.HardwareConfig, callback LevelCallback) error {
	var errs []error
	for _, pin := range cfg.SortedPins() {
		fn := cfg.Pins[pin]
		if err := r.ApplyPinConfig(pin, &fn, callback); err != nil {
			errs = append(errs, fmt.Errorf("pin %d: %w", pin, err))
		}
	}
	return errors.Join(errs...)
}

func (r *RPi) ApplyPinConfig(pin protocol.BCMPinNumber, fn *protocol.PinFunction, callback LevelCallback) error {
	if err := checkConfigurable(r.pins, pin); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Releasing or re-configuring stops any existing watcher.
	if stop, ok := r.inputs[pin]; ok {
		close(stop)
		delete(r.inputs, pin)
	}
	delete(r.outputs, pin)

	if fn == nil || fn.Kind == protocol.FunctionNone {
		return nil
	}

	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return fmt.Errorf("%w: GPIO%d not registered", ErrUnknownPin, pin)
	}

	switch fn.Kind {
	case protocol.FunctionInput:
		pull := gpio.Float
		if fn.HasPull {
			switch fn.Pull {
			case protocol.PullUp:
				pull = gpio.PullUp
			case protocol.PullDown:
				pull = gpio.PullDown
			}
		}
		if err := p.In(pull, gpio.BothEdges); err != nil {
			return fmt.Errorf("hw: configure GPIO%d as input: %w", pin, err)
		}
		stop := make(chan struct{})
		r.inputs[pin] = stop
		go r.watchEdges(pin, p, stop, callback)
	case protocol.FunctionOutput:
		level := gpio.Low
		if fn.HasLevel && fn.Level {
			level = gpio.High
		}
		if err := p.Out(level); err != nil {
			return fmt.Errorf("hw: configure GPIO%d as output: %w", pin, err)
		}
		r.outputs[pin] = p
	}
	return nil
}

// watchEdges blocks in WaitForEdge and reports transitions until the
// pin is released. The one-second timeout lets it notice stop requests.
func (r *RPi) watchEdges(pin protocol.BCMPinNumber, p gpio.PinIO, stop <-chan struct{}, callback LevelCallback) {
	last := p.Read()
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !p.WaitForEdge(time.Second) {
			continue
		}
		level := p.Read()
		if level == last {
			continue
		}
		last = level
		if callback != nil {
			callback(pin, protocol.NewLevelChange(level == gpio.High, r.Uptime()))
		}
	}
}

func (r *RPi) InputLevel(pin protocol.BCMPinNumber) (protocol.PinLevel, error) {
	r.mu.Lock()
	_, isInput := r.inputs[pin]
	r.mu.Unlock()
	if !isInput {
		return false, fmt.Errorf("%w: %d", ErrNotAnInput, pin)
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", pin))
	if p == nil {
		return false, fmt.Errorf("%w: GPIO%d not registered", ErrUnknownPin, pin)
	}
	return p.Read() == gpio.High, nil
}

func (r *RPi) SetOutputLevel(pin protocol.BCMPinNumber, level protocol.PinLevel) error {
	r.mu.Lock()
	p, ok := r.outputs[pin]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotAnOutput, pin)
	}
	l := gpio.Low
	if level {
		l = gpio.High
	}
	return p.Out(l)
}

func (r *RPi) Uptime() time.Duration {
	return time.Since(r.boot)
}
