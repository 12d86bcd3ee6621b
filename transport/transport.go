package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pinion/device"
	"pinion/protocol"
)

// ErrClosed is returned by operations on a connection that has been
// disconnected.
var ErrClosed = errors.New("transport: connection closed")

// Conn is an established connection to a device. The description and
// initial config arrive during connect; afterwards the link carries
// Messages. Send may be called from multiple goroutines; Receive must
// stay on one.
type Conn interface {
	// Description is the board description received on connect.
	Description() protocol.HardwareDescription

	// InitialConfig is the pin config the device held on connect.
	InitialConfig() protocol.HardwareConfig

	Send(ctx context.Context, msg protocol.Message) error

	// Receive blocks for the next device message. A device that went
	// away is surfaced as a Disconnect message, not an error.
	Receive(ctx context.Context) (protocol.Message, error)

	// Disconnect tells the device this controller is leaving, then
	// tears the connection down.
	Disconnect(ctx context.Context) error

	// Close tears the connection down without a goodbye, for links the
	// device side already ended.
	Close() error
}

// Connector dials targets. Local holds the in-process device session
// that MethodLocal connects to, when this process runs one.
type Connector struct {
	Log   *slog.Logger
	Local *device.Session
}

// Connect establishes a connection to the target.
func (c *Connector) Connect(ctx context.Context, target Target) (Conn, error) {
	switch target.Method {
	case MethodLocal:
		if c.Local == nil {
			return nil, fmt.Errorf("transport: no local device session in this process")
		}
		return ConnectLocal(ctx, c.Local)
	case MethodTCP:
		return ConnectTCP(ctx, target.IP, target.Port)
	case MethodP2P:
		return ConnectP2P(ctx, target)
	case MethodUSB:
		return ConnectUSB(ctx, target.Serial)
	default:
		return nil, fmt.Errorf("transport: cannot connect to target %q", target)
	}
}
