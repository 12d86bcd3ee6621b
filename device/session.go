package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"pinion/hw"
	"pinion/protocol"
)

// Store persists config changes between boots. The bbolt store on
// devices and the YAML file on hosts both satisfy it.
type Store interface {
	StoreConfigChange(msg protocol.Message) error
}

// Conn is one accepted controller connection, as seen by the session
// loop. Hello delivers the description and current config that open
// every connection; after that the loop exchanges Messages.
type Conn interface {
	Hello(ctx context.Context, desc protocol.HardwareDescription, cfg protocol.HardwareConfig) error
	Send(ctx context.Context, msg protocol.Message) error
	Receive(ctx context.Context) (protocol.Message, error)
}

// Session owns the hardware and the current pin configuration. One
// session serves many connections over its lifetime, strictly one at
// a time.
type Session struct {
	log    *slog.Logger
	hw     hw.Hardware
	store  Store
	desc   protocol.HardwareDescription
	events *EventQueue

	// serveMu serializes connections when several listeners accept at
	// once: whoever loses the race waits for the session to free up.
	serveMu sync.Mutex

	mu     sync.Mutex
	config protocol.HardwareConfig
}

// NewSession builds a session around the given hardware. store may be
// nil when the device runs without persistence. initial is applied to
// the hardware before any controller connects; pass an empty config
// for a clean boot.
func NewSession(log *slog.Logger, hardware hw.Hardware, store Store, initial protocol.HardwareConfig) (*Session, error) {
	desc, err := hardware.Description()
	if err != nil {
		return nil, err
	}
	s := &Session{
		log:    log,
		hw:     hardware,
		store:  store,
		desc:   desc,
		events: NewEventQueue(DefaultEventQueueCap),
		config: protocol.NewHardwareConfig(),
	}
	if len(initial.Pins) > 0 {
		s.config = s.applyAccepted(initial)
	}
	return s, nil
}

// Description returns the board details and pin catalogue sent to every
// controller.
func (s *Session) Description() protocol.HardwareDescription {
	return s.desc
}

// Config returns a copy of the current pin configuration.
func (s *Session) Config() protocol.HardwareConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config.Clone()
}

// enqueue is the edge callback handed to the hardware. It must not
// block; a full queue drops the event.
func (s *Session) enqueue(pin protocol.BCMPinNumber, change protocol.LevelChange) {
	if !s.events.Enqueue(protocol.IOLevelChanged{Pin: pin, Change: change}) {
		s.log.Warn("event queue full, dropping input event", "pin", pin)
	}
}

// applyAccepted applies every pin in cfg and returns the subset the
// hardware accepted. A failing pin does not stop the rest of the batch,
// but a rejected pin never enters the session config or the store.
func (s *Session) applyAccepted(cfg protocol.HardwareConfig) protocol.HardwareConfig {
	accepted := protocol.NewHardwareConfig()
	for _, pin := range cfg.SortedPins() {
		fn := cfg.Pins[pin]
		if err := s.hw.ApplyPinConfig(pin, &fn, s.enqueue); err != nil {
			s.log.Error("applying pin config", "pin", pin, "err", err)
			continue
		}
		accepted.Pins[pin] = fn
	}
	return accepted
}

// persist records a config change. Persistence failure is logged and
// swallowed: the hardware state already changed and the controller is
// not made to wait on storage.
func (s *Session) persist(msg protocol.Message) {
	if s.store == nil {
		return
	}
	if err := s.store.StoreConfigChange(msg); err != nil {
		s.log.Error("persisting config change", "err", err)
	}
}

// ServeConn runs one connection until the controller disconnects or the
// transport fails, then returns so the caller can listen again.
func (s *Session) ServeConn(ctx context.Context, c Conn) error {
	s.serveMu.Lock()
	defer s.serveMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.events.Clear()
	if err := c.Hello(ctx, s.desc, s.Config()); err != nil {
		return err
	}

	type inboundResult struct {
		msg protocol.Message
		err error
	}
	inbound := make(chan inboundResult)
	go func() {
		for {
			msg, err := c.Receive(ctx)
			select {
			case inbound <- inboundResult{msg, err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !isDecodeError(err) {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events.C():
			if err := c.Send(ctx, ev); err != nil {
				return err
			}
		case r := <-inbound:
			if r.err != nil {
				if isDecodeError(r.err) {
					// A bad frame does not cost the connection.
					s.log.Warn("dropping malformed message", "err", r.err)
					continue
				}
				if errors.Is(r.err, io.EOF) || errors.Is(r.err, context.Canceled) {
					return nil
				}
				return r.err
			}
			done, err := s.handle(ctx, c, r.msg)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// handle applies one controller message. The returned bool is true when
// the controller asked to disconnect.
func (s *Session) handle(ctx context.Context, c Conn, msg protocol.Message) (bool, error) {
	switch m := msg.(type) {
	case protocol.NewConfig:
		accepted := s.applyAccepted(m.Config)
		s.mu.Lock()
		s.config = accepted
		s.mu.Unlock()
		s.persist(protocol.NewConfig{Config: accepted})
		return false, s.sendInputLevels(ctx, c, accepted)

	case protocol.NewPinConfig:
		if err := s.hw.ApplyPinConfig(m.Pin, m.Function, s.enqueue); err != nil {
			s.log.Error("applying pin config", "pin", m.Pin, "err", err)
			return false, nil
		}
		s.mu.Lock()
		if m.Function == nil {
			delete(s.config.Pins, m.Pin)
		} else {
			s.config.Pins[m.Pin] = *m.Function
		}
		s.mu.Unlock()
		s.persist(m)
		if m.Function != nil && m.Function.Kind == protocol.FunctionInput {
			return false, s.sendInputLevel(ctx, c, m.Pin)
		}
		return false, nil

	case protocol.IOLevelChanged:
		// Inbound level changes are output writes. The level sticks
		// in the config so the pin comes back driven the same way.
		if err := s.hw.SetOutputLevel(m.Pin, m.Change.NewLevel); err != nil {
			s.log.Error("setting output level", "pin", m.Pin, "err", err)
			return false, nil
		}
		s.mu.Lock()
		s.config.Pins[m.Pin] = protocol.OutputWithLevel(m.Change.NewLevel)
		s.mu.Unlock()
		s.persist(m)
		return false, nil

	case protocol.GetConfig:
		return false, c.Send(ctx, protocol.NewConfig{Config: s.Config()})

	case protocol.Disconnect:
		s.log.Info("controller requested disconnect")
		return true, nil

	default:
		s.log.Warn("unhandled message", "msg", msg)
		return false, nil
	}
}

// sendInputLevels pushes the current level of every input in cfg, so
// the controller renders real state instead of waiting for the first
// edge.
func (s *Session) sendInputLevels(ctx context.Context, c Conn, cfg protocol.HardwareConfig) error {
	for _, pin := range cfg.SortedPins() {
		if cfg.Pins[pin].Kind != protocol.FunctionInput {
			continue
		}
		if err := s.sendInputLevel(ctx, c, pin); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendInputLevel(ctx context.Context, c Conn, pin protocol.BCMPinNumber) error {
	level, err := s.hw.InputLevel(pin)
	if err != nil {
		s.log.Warn("reading input level", "pin", pin, "err", err)
		return nil
	}
	change := protocol.NewLevelChange(level, s.hw.Uptime())
	return c.Send(ctx, protocol.IOLevelChanged{Pin: pin, Change: change})
}

func isDecodeError(err error) bool {
	var derr *protocol.DecodeError
	return errors.As(err, &derr)
}
