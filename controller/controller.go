// Package controller runs the host side of a pinion link: a state
// machine that connects to one device at a time, relays config
// commands to it and surfaces its events.
package controller

import (
	"context"
	"fmt"
	"log/slog"

	"pinion/protocol"
	"pinion/transport"
)

// Event is something the connected device (or the connection itself)
// did. Consumers read these from Events.
type Event interface {
	isEvent()
}

// Connected reports a fresh connection, carrying what the device sent
// on connect.
type Connected struct {
	Target      transport.Target
	Description protocol.HardwareDescription
	Config      protocol.HardwareConfig
}

// InputChange reports an input level transition on the device.
type InputChange struct {
	Pin    protocol.BCMPinNumber
	Change protocol.LevelChange
}

// ConfigRefresh carries the device's answer to a GetConfig.
type ConfigRefresh struct {
	Config protocol.HardwareConfig
}

// ConnectionError reports a failure. The controller may still be
// connected; pair it with Disconnected to know.
type ConnectionError struct {
	Err error
}

// Disconnected reports that the connection ended.
type Disconnected struct{}

func (Connected) isEvent()       {}
func (ConfigRefresh) isEvent()   {}
func (InputChange) isEvent()     {}
func (ConnectionError) isEvent() {}
func (Disconnected) isEvent()    {}

type command interface {
	isCommand()
}

// newConnection retargets the controller, dropping any existing
// connection first.
type newConnection struct {
	target transport.Target
}

// hardwareMessage is an outbound config message for the device.
type hardwareMessage struct {
	msg protocol.Message
}

func (newConnection) isCommand()   {}
func (hardwareMessage) isCommand() {}

type state uint8

const (
	stateDisconnected state = iota
	stateConnecting
	stateConnected
)

// Controller drives at most one device connection. Commands go in via
// Connect and Send; what happens comes out of Events. Run owns all
// state; the other methods only enqueue.
type Controller struct {
	log      *slog.Logger
	commands chan command
	events   chan Event

	// connect is swapped in tests.
	connect func(ctx context.Context, target transport.Target) (transport.Conn, error)
}

// New builds a controller that dials through connector.
func New(log *slog.Logger, connector *transport.Connector) *Controller {
	return &Controller{
		log:      log,
		commands: make(chan command, 16),
		events:   make(chan Event, 64),
		connect:  connector.Connect,
	}
}

// Events is the stream of device and connection events.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Connect asks the controller to drop any current connection and dial
// target.
func (c *Controller) Connect(ctx context.Context, target transport.Target) error {
	return c.enqueue(ctx, newConnection{target: target})
}

// Send queues a config message for the connected device.
func (c *Controller) Send(ctx context.Context, msg protocol.Message) error {
	return c.enqueue(ctx, hardwareMessage{msg: msg})
}

func (c *Controller) enqueue(ctx context.Context, cmd command) error {
	select {
	case c.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes the state machine until ctx is cancelled. There is no
// automatic reconnect: every connection traces back to a Connect call.
func (c *Controller) Run(ctx context.Context) error {
	current := stateDisconnected
	target := transport.NoTarget()
	var conn transport.Conn

	for {
		switch current {
		case stateDisconnected:
			if !target.IsNone() {
				current = stateConnecting
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case cmd := <-c.commands:
				switch cmd := cmd.(type) {
				case newConnection:
					target = cmd.target
				case hardwareMessage:
					c.emit(ctx, ConnectionError{Err: fmt.Errorf("controller: not connected")})
				}
			}

		case stateConnecting:
			c.log.Info("connecting", "target", target)
			dialed, err := c.connect(ctx, target)
			if err != nil {
				c.log.Warn("connect failed", "target", target, "err", err)
				c.emit(ctx, ConnectionError{Err: err})
				target = transport.NoTarget()
				current = stateDisconnected
				continue
			}
			conn = dialed
			c.emit(ctx, Connected{
				Target:      target,
				Description: conn.Description(),
				Config:      conn.InitialConfig(),
			})
			current = stateConnected

		case stateConnected:
			next, retarget := c.serve(ctx, conn)
			conn = nil
			target = retarget
			current = next
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// serve runs one connection. Outbound commands and inbound device
// traffic race each other fairly: the select is re-armed every
// iteration and neither source can starve the other. It returns the
// next state and target.
func (c *Controller) serve(ctx context.Context, conn transport.Conn) (state, transport.Target) {
	recvCtx, stopRecv := context.WithCancel(ctx)
	defer stopRecv()

	type inboundResult struct {
		msg protocol.Message
		err error
	}
	inbound := make(chan inboundResult)
	go func() {
		for {
			msg, err := conn.Receive(recvCtx)
			select {
			case inbound <- inboundResult{msg, err}:
			case <-recvCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Disconnect(context.Background())
			return stateDisconnected, transport.NoTarget()

		case cmd := <-c.commands:
			switch cmd := cmd.(type) {
			case newConnection:
				if err := conn.Disconnect(ctx); err != nil {
					c.log.Warn("disconnect before retarget", "err", err)
				}
				c.emit(ctx, Disconnected{})
				return stateDisconnected, cmd.target
			case hardwareMessage:
				if err := conn.Send(ctx, cmd.msg); err != nil {
					c.log.Warn("send failed", "err", err)
					conn.Close()
					c.emit(ctx, ConnectionError{Err: err})
					c.emit(ctx, Disconnected{})
					return stateDisconnected, transport.NoTarget()
				}
			}

		case r := <-inbound:
			if r.err != nil {
				conn.Close()
				c.emit(ctx, ConnectionError{Err: r.err})
				c.emit(ctx, Disconnected{})
				return stateDisconnected, transport.NoTarget()
			}
			switch msg := r.msg.(type) {
			case protocol.IOLevelChanged:
				c.emit(ctx, InputChange{Pin: msg.Pin, Change: msg.Change})
			case protocol.NewConfig:
				c.emit(ctx, ConfigRefresh{Config: msg.Config})
			case protocol.Disconnect:
				// The device already ended the link; close locally
				// without a goodbye.
				conn.Close()
				c.emit(ctx, Disconnected{})
				return stateDisconnected, transport.NoTarget()
			default:
				// Devices only originate level events; anything else
				// is reported but does not cost the connection.
				c.emit(ctx, ConnectionError{Err: fmt.Errorf("controller: unexpected %T from device", msg)})
			}
		}
	}
}

func (c *Controller) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
