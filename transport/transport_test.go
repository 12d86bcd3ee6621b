package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"pinion/device"
	"pinion/hw"
	"pinion/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T) *device.Session {
	t.Helper()
	s, err := device.NewSession(discardLogger(), hw.NewFake(), nil, protocol.NewHardwareConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func receiveUntil[T protocol.Message](t *testing.T, conn Conn) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		msg, err := conn.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if want, ok := msg.(T); ok {
			return want
		}
	}
}

func TestTargetString(t *testing.T) {
	tests := []struct {
		target Target
		want   string
	}{
		{NoTarget(), "none"},
		{LocalTarget(), "local"},
		{USBTarget("e66164084310b235"), "usb:e66164084310b235"},
		{TCPTarget(net.IPv4(192, 168, 1, 9).To4(), 40000), "tcp:192.168.1.9:40000"},
		{P2PTarget("ab12", "", "10.0.0.2:4433"), "p2p:ab12@10.0.0.2:4433"},
		{P2PTarget("ab12", "https://relay.example.com", ""), "p2p:ab12 via https://relay.example.com"},
	}
	for _, tc := range tests {
		if got := tc.target.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestNoTargetIsNone(t *testing.T) {
	if !NoTarget().IsNone() {
		t.Error("NoTarget is not none")
	}
	if LocalTarget().IsNone() {
		t.Error("LocalTarget is none")
	}
}

func TestConnectorRejectsNoTarget(t *testing.T) {
	c := &Connector{Log: discardLogger()}
	if _, err := c.Connect(context.Background(), NoTarget()); err == nil {
		t.Error("connected to no target")
	}
	if _, err := c.Connect(context.Background(), LocalTarget()); err == nil {
		t.Error("local connect succeeded without a session in the process")
	}
}

func TestLocalConnRoundTrip(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	conn, err := ConnectLocal(ctx, session)
	if err != nil {
		t.Fatalf("ConnectLocal: %v", err)
	}
	defer conn.Disconnect(ctx)

	if conn.Description().Details.Model == "" {
		t.Error("description has no model")
	}
	if len(conn.InitialConfig().Pins) != 0 {
		t.Errorf("fresh session initial config has %d pins", len(conn.InitialConfig().Pins))
	}

	cfg := protocol.NewHardwareConfig()
	cfg.Pins[17] = protocol.OutputWithLevel(true)
	if err := conn.Send(ctx, protocol.NewConfig{Config: cfg}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := conn.Send(ctx, protocol.GetConfig{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	echoed := receiveUntil[protocol.NewConfig](t, conn)
	if !echoed.Config.Equal(cfg) {
		t.Errorf("echoed %v, want %v", echoed.Config, cfg)
	}
}

func TestTCPConnRoundTrip(t *testing.T) {
	session := newTestSession(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	serveCtx, stopServe := context.WithCancel(context.Background())
	defer stopServe()
	go func() {
		for {
			c, err := listener.Accept()
			if err != nil {
				return
			}
			session.ServeTCP(serveCtx, c)
			c.Close()
		}
	}()

	addr := listener.Addr().(*net.TCPAddr)
	ctx := context.Background()
	conn, err := ConnectTCP(ctx, addr.IP, uint16(addr.Port))
	if err != nil {
		t.Fatalf("ConnectTCP: %v", err)
	}

	if len(conn.Description().Pins.Pins) == 0 {
		t.Error("description has no pins")
	}

	fn := protocol.InputWithPull(protocol.PullUp)
	if err := conn.Send(ctx, protocol.NewPinConfig{Pin: 4, Function: &fn}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	initial := receiveUntil[protocol.IOLevelChanged](t, conn)
	if initial.Pin != 4 {
		t.Errorf("initial level for pin %d, want 4", initial.Pin)
	}
	if !initial.Change.NewLevel {
		t.Error("pulled-up input did not read high")
	}

	if err := conn.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	// The device is listening again: a second controller connects.
	conn2, err := ConnectTCP(ctx, addr.IP, uint16(addr.Port))
	if err != nil {
		t.Fatalf("second ConnectTCP: %v", err)
	}
	if conn2.InitialConfig().Pins[4] != fn {
		t.Errorf("config did not survive reconnect: %v", conn2.InitialConfig())
	}
	conn2.Disconnect(ctx)
}

func TestWriterSerializesAndCloses(t *testing.T) {
	var frames [][]byte
	w := newWriter(func(frame []byte) error {
		frames = append(frames, frame)
		return nil
	})
	ctx := context.Background()
	for i := byte(0); i < 10; i++ {
		if err := w.send(ctx, []byte{i}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if len(frames) != 10 {
		t.Fatalf("wrote %d frames, want 10", len(frames))
	}
	for i, frame := range frames {
		if frame[0] != byte(i) {
			t.Errorf("frame %d carries %d", i, frame[0])
		}
	}
	w.close()
	w.close()
	if err := w.send(ctx, []byte{99}); err != ErrClosed {
		t.Errorf("send after close = %v, want ErrClosed", err)
	}
}

func TestP2PDialAddr(t *testing.T) {
	tests := []struct {
		target  Target
		want    string
		wantErr bool
	}{
		{P2PTarget("ab", "", "10.0.0.2:4433"), "10.0.0.2:4433", false},
		{P2PTarget("ab", "https://relay.example.com", ""), "relay.example.com:4433", false},
		{P2PTarget("ab", "https://relay.example.com:7842", ""), "relay.example.com:7842", false},
		{P2PTarget("ab", "", ""), "", true},
	}
	for _, tc := range tests {
		got, err := p2pDialAddr(tc.target)
		if tc.wantErr {
			if err == nil {
				t.Errorf("p2pDialAddr(%v) succeeded, want error", tc.target)
			}
			continue
		}
		if err != nil {
			t.Errorf("p2pDialAddr(%v): %v", tc.target, err)
			continue
		}
		if got != tc.want {
			t.Errorf("p2pDialAddr(%v) = %q, want %q", tc.target, got, tc.want)
		}
	}
}
