package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"pinion/protocol"
)

const (
	tcpReadBufferSize  = 1024
	tcpHelloBufferSize = 4096
)

type tcpTransport struct {
	conn net.Conn
	desc protocol.HardwareDescription
	cfg  protocol.HardwareConfig
	w    *writer
}

// ConnectTCP dials a device's TCP listener and reads the opening
// description and config frame.
func ConnectTCP(ctx context.Context, ip net.IP, port uint16) (Conn, error) {
	var dialer net.Dialer
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %s: %w", addr, err)
	}
	buf := make([]byte, tcpHelloBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: reading hello from %s: %w", addr, err)
	}
	desc, cfg, err := protocol.DecodeDescriptionAndConfig(buf[:n])
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: hello from %s: %w", addr, err)
	}
	return &tcpTransport{
		conn: conn,
		desc: desc,
		cfg:  cfg,
		w: newWriter(func(frame []byte) error {
			_, err := conn.Write(frame)
			return err
		}),
	}, nil
}

func (t *tcpTransport) Description() protocol.HardwareDescription {
	return t.desc
}

func (t *tcpTransport) InitialConfig() protocol.HardwareConfig {
	return t.cfg
}

func (t *tcpTransport) Send(ctx context.Context, msg protocol.Message) error {
	return t.w.send(ctx, protocol.Encode(msg))
}

func (t *tcpTransport) Receive(_ context.Context) (protocol.Message, error) {
	buf := make([]byte, tcpReadBufferSize)
	n, err := t.conn.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return protocol.Disconnect{}, nil
		}
		return nil, err
	}
	if n == 0 {
		// The device side closed its end.
		return protocol.Disconnect{}, nil
	}
	return protocol.Decode(buf[:n])
}

func (t *tcpTransport) Disconnect(ctx context.Context) error {
	sendErr := t.Send(ctx, protocol.Disconnect{})
	closeErr := t.Close()
	if sendErr != nil {
		return sendErr
	}
	return closeErr
}

func (t *tcpTransport) Close() error {
	t.w.close()
	return t.conn.Close()
}
