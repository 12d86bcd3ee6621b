package transport

import (
	"context"
	"fmt"
	"time"

	"pinion/device"
	"pinion/protocol"
)

const localQueueCap = 64

type localHello struct {
	desc protocol.HardwareDescription
	cfg  protocol.HardwareConfig
}

// localConn links a controller to the device session running in the
// same process. No bytes are framed; messages cross between goroutines
// on channels.
type localConn struct {
	desc         protocol.HardwareDescription
	cfg          protocol.HardwareConfig
	toDevice     chan protocol.Message
	toController chan protocol.Message
	cancel       context.CancelFunc
}

// ConnectLocal attaches to the in-process session. It only fails when
// ctx is cancelled before the session picks the connection up.
func ConnectLocal(ctx context.Context, session *device.Session) (Conn, error) {
	l := &localConn{
		toDevice:     make(chan protocol.Message, localQueueCap),
		toController: make(chan protocol.Message, localQueueCap),
	}
	sessionCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	hello := make(chan localHello, 1)
	go session.ServeConn(sessionCtx, &localDeviceEnd{conn: l, hello: hello})

	select {
	case h := <-hello:
		l.desc = h.desc
		l.cfg = h.cfg
		return l, nil
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("transport: local connect: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		cancel()
		return nil, fmt.Errorf("transport: local session did not answer")
	}
}

func (l *localConn) Description() protocol.HardwareDescription {
	return l.desc
}

func (l *localConn) InitialConfig() protocol.HardwareConfig {
	return l.cfg
}

func (l *localConn) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case l.toDevice <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *localConn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-l.toController:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *localConn) Disconnect(ctx context.Context) error {
	err := l.Send(ctx, protocol.Disconnect{})
	l.cancel()
	return err
}

func (l *localConn) Close() error {
	l.cancel()
	return nil
}

// localDeviceEnd is the session loop's view of a local connection.
type localDeviceEnd struct {
	conn  *localConn
	hello chan localHello
}

func (d *localDeviceEnd) Hello(_ context.Context, desc protocol.HardwareDescription, cfg protocol.HardwareConfig) error {
	d.hello <- localHello{desc: desc, cfg: cfg}
	return nil
}

func (d *localDeviceEnd) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case d.conn.toController <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *localDeviceEnd) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case msg := <-d.conn.toDevice:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
