package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pinion/protocol"
	"pinion/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type inboundFrame struct {
	msg protocol.Message
	err error
}

type fakeConn struct {
	desc    protocol.HardwareDescription
	cfg     protocol.HardwareConfig
	sent    chan protocol.Message
	inbound chan inboundFrame

	sendErr error

	mu           sync.Mutex
	disconnected bool
	closed       bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		desc:    protocol.HardwareDescription{Details: protocol.HardwareDetails{Model: "Fake Hardware"}},
		cfg:     protocol.NewHardwareConfig(),
		sent:    make(chan protocol.Message, 128),
		inbound: make(chan inboundFrame, 128),
	}
}

func (f *fakeConn) Description() protocol.HardwareDescription { return f.desc }
func (f *fakeConn) InitialConfig() protocol.HardwareConfig    { return f.cfg }

func (f *fakeConn) Send(_ context.Context, msg protocol.Message) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent <- msg
	return nil
}

func (f *fakeConn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case in := <-f.inbound:
		return in.msg, in.err
	}
}

func (f *fakeConn) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) wasDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

func (f *fakeConn) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// newTestController wires a controller to a dialer returning conns in
// order, failing once the list is exhausted.
func newTestController(t *testing.T, conns ...transport.Conn) (*Controller, context.CancelFunc) {
	t.Helper()
	c := New(discardLogger(), &transport.Connector{Log: discardLogger()})
	next := 0
	c.connect = func(_ context.Context, _ transport.Target) (transport.Conn, error) {
		if next >= len(conns) {
			return nil, errors.New("no device there")
		}
		conn := conns[next]
		next++
		return conn, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(cancel)
	return c, cancel
}

func nextEvent(t *testing.T, c *Controller) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func TestConnectEmitsConnected(t *testing.T) {
	conn := newFakeConn()
	conn.cfg.Pins[17] = protocol.Output()
	c, _ := newTestController(t, conn)

	ctx := context.Background()
	if err := c.Connect(ctx, transport.USBTarget("e661")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ev := nextEvent(t, c)
	connected, ok := ev.(Connected)
	if !ok {
		t.Fatalf("got %T, want Connected", ev)
	}
	if connected.Description.Details.Model != "Fake Hardware" {
		t.Errorf("description model = %q", connected.Description.Details.Model)
	}
	if _, ok := connected.Config.Pins[17]; !ok {
		t.Error("initial config lost pin 17")
	}
}

func TestConnectFailureEmitsError(t *testing.T) {
	c, _ := newTestController(t) // no conns: every dial fails
	ctx := context.Background()
	c.Connect(ctx, transport.USBTarget("e661"))
	if _, ok := nextEvent(t, c).(ConnectionError); !ok {
		t.Fatal("no ConnectionError after failed dial")
	}
	// No automatic reconnect: nothing else arrives.
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %T after failure", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendWhileDisconnectedReportsError(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	c.Send(ctx, protocol.GetConfig{})
	if _, ok := nextEvent(t, c).(ConnectionError); !ok {
		t.Fatal("send with no connection did not report an error")
	}
}

func TestSendReachesDevice(t *testing.T) {
	conn := newFakeConn()
	c, _ := newTestController(t, conn)
	ctx := context.Background()
	c.Connect(ctx, transport.LocalTarget())
	nextEvent(t, c) // Connected

	cfg := protocol.NewHardwareConfig()
	cfg.Pins[4] = protocol.Input()
	c.Send(ctx, protocol.NewConfig{Config: cfg})
	select {
	case msg := <-conn.sent:
		sent, ok := msg.(protocol.NewConfig)
		if !ok || !sent.Config.Equal(cfg) {
			t.Errorf("device received %v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the device")
	}
}

func TestInputChangeSurfaces(t *testing.T) {
	conn := newFakeConn()
	c, _ := newTestController(t, conn)
	ctx := context.Background()
	c.Connect(ctx, transport.LocalTarget())
	nextEvent(t, c) // Connected

	change := protocol.NewLevelChange(true, 3*time.Second)
	conn.inbound <- inboundFrame{msg: protocol.IOLevelChanged{Pin: 23, Change: change}}
	ev := nextEvent(t, c)
	input, ok := ev.(InputChange)
	if !ok {
		t.Fatalf("got %T, want InputChange", ev)
	}
	if input.Pin != 23 || !input.Change.NewLevel {
		t.Errorf("got %+v", input)
	}
}

func TestConfigRefreshSurfaces(t *testing.T) {
	conn := newFakeConn()
	c, _ := newTestController(t, conn)
	ctx := context.Background()
	c.Connect(ctx, transport.LocalTarget())
	nextEvent(t, c) // Connected

	cfg := protocol.NewHardwareConfig()
	cfg.Pins[17] = protocol.OutputWithLevel(true)
	conn.inbound <- inboundFrame{msg: protocol.NewConfig{Config: cfg}}
	ev := nextEvent(t, c)
	refresh, ok := ev.(ConfigRefresh)
	if !ok {
		t.Fatalf("got %T, want ConfigRefresh", ev)
	}
	if !refresh.Config.Equal(cfg) {
		t.Errorf("got %v, want %v", refresh.Config, cfg)
	}
}

func TestUnexpectedInboundKeepsConnection(t *testing.T) {
	conn := newFakeConn()
	c, _ := newTestController(t, conn)
	ctx := context.Background()
	c.Connect(ctx, transport.LocalTarget())
	nextEvent(t, c) // Connected

	conn.inbound <- inboundFrame{msg: protocol.GetConfig{}}
	if _, ok := nextEvent(t, c).(ConnectionError); !ok {
		t.Fatal("unexpected inbound was not reported")
	}

	// Still connected: a level event still surfaces.
	conn.inbound <- inboundFrame{msg: protocol.IOLevelChanged{Pin: 4, Change: protocol.NewLevelChange(false, time.Second)}}
	if _, ok := nextEvent(t, c).(InputChange); !ok {
		t.Fatal("connection was dropped after an unexpected message")
	}
}

func TestRetargetDisconnectsFirst(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	c, _ := newTestController(t, first, second)
	ctx := context.Background()

	c.Connect(ctx, transport.USBTarget("aaaa"))
	nextEvent(t, c) // Connected to first

	c.Connect(ctx, transport.USBTarget("bbbb"))
	if _, ok := nextEvent(t, c).(Disconnected); !ok {
		t.Fatal("no Disconnected before the new connection")
	}
	if !first.wasDisconnected() {
		t.Error("first connection was not told to disconnect")
	}
	if _, ok := nextEvent(t, c).(Connected); !ok {
		t.Fatal("no Connected on the new target")
	}
}

func TestDeviceDisconnectSurfaces(t *testing.T) {
	conn := newFakeConn()
	c, _ := newTestController(t, conn)
	ctx := context.Background()
	c.Connect(ctx, transport.LocalTarget())
	nextEvent(t, c) // Connected

	conn.inbound <- inboundFrame{msg: protocol.Disconnect{}}
	if _, ok := nextEvent(t, c).(Disconnected); !ok {
		t.Fatal("device disconnect did not surface")
	}
	if !conn.wasClosed() {
		t.Error("handle was not closed after the device disconnected")
	}
}

func TestReceiveErrorDisconnects(t *testing.T) {
	conn := newFakeConn()
	c, _ := newTestController(t, conn)
	ctx := context.Background()
	c.Connect(ctx, transport.LocalTarget())
	nextEvent(t, c) // Connected

	conn.inbound <- inboundFrame{err: errors.New("wire fell out")}
	if _, ok := nextEvent(t, c).(ConnectionError); !ok {
		t.Fatal("receive failure was not reported")
	}
	if _, ok := nextEvent(t, c).(Disconnected); !ok {
		t.Fatal("receive failure did not disconnect")
	}
	if !conn.wasClosed() {
		t.Error("handle was not closed after the receive failure")
	}
}

func TestSendFailureClosesHandle(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = errors.New("pipe broke")
	c, _ := newTestController(t, conn)
	ctx := context.Background()
	c.Connect(ctx, transport.LocalTarget())
	nextEvent(t, c) // Connected

	c.Send(ctx, protocol.GetConfig{})
	if _, ok := nextEvent(t, c).(ConnectionError); !ok {
		t.Fatal("send failure was not reported")
	}
	if _, ok := nextEvent(t, c).(Disconnected); !ok {
		t.Fatal("send failure did not disconnect")
	}
	if !conn.wasClosed() {
		t.Error("handle was not closed after the send failure")
	}
}

// Commands and inbound traffic race fairly: pushing both at once, every
// one arrives.
func TestNeitherSourceStarves(t *testing.T) {
	const n = 50
	conn := newFakeConn()
	c, _ := newTestController(t, conn)
	ctx := context.Background()
	c.Connect(ctx, transport.LocalTarget())
	nextEvent(t, c) // Connected

	go func() {
		for i := 0; i < n; i++ {
			conn.inbound <- inboundFrame{msg: protocol.IOLevelChanged{
				Pin:    4,
				Change: protocol.NewLevelChange(i%2 == 0, time.Duration(i)*time.Millisecond),
			}}
		}
	}()
	go func() {
		for i := 0; i < n; i++ {
			c.Send(ctx, protocol.GetConfig{})
		}
	}()

	gotSent, gotEvents := 0, 0
	deadline := time.After(5 * time.Second)
	for gotSent < n || gotEvents < n {
		select {
		case <-conn.sent:
			gotSent++
		case ev := <-c.Events():
			if _, ok := ev.(InputChange); ok {
				gotEvents++
			}
		case <-deadline:
			t.Fatalf("starved: %d/%d sends, %d/%d events", gotSent, n, gotEvents, n)
		}
	}
}
