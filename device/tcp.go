package device

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"pinion/protocol"
)

const (
	tcpBindAttempts   = 4
	tcpBindRetryDelay = 10 * time.Second

	// One message per read. Controllers write each message as a
	// single frame well under this.
	tcpReadBufferSize = 1024

	// The hello frame carries the full pin catalogue and is bigger
	// than any later message.
	tcpHelloBufferSize = 4096
)

// TCPDevice accepts controller connections over TCP, one at a time.
type TCPDevice struct {
	session  *Session
	log      *slog.Logger
	listener net.Listener
	addr     protocol.TCPListenerAddr

	// Overridable in tests.
	listen     func(network, address string) (net.Listener, error)
	localIP    func() (net.IP, error)
	retryDelay time.Duration
}

// NewTCPDevice wraps session with a TCP listener. Call Bind then Serve.
func NewTCPDevice(session *Session, log *slog.Logger) *TCPDevice {
	return &TCPDevice{
		session:    session,
		log:        log,
		listen:     net.Listen,
		localIP:    LocalIPv4,
		retryDelay: tcpBindRetryDelay,
	}
}

// Bind discovers the local IP and binds an ephemeral port. Interfaces
// can still be coming up at boot, so binding is retried before giving
// up.
func (d *TCPDevice) Bind(ctx context.Context) (protocol.TCPListenerAddr, error) {
	var lastErr error
	for attempt := 1; attempt <= tcpBindAttempts; attempt++ {
		ip, err := d.localIP()
		if err == nil {
			var l net.Listener
			l, err = d.listen("tcp", net.JoinHostPort(ip.String(), "0"))
			if err == nil {
				d.listener = l
				copy(d.addr.IP[:], ip.To4())
				d.addr.Port = uint16(l.Addr().(*net.TCPAddr).Port)
				d.log.Info("tcp listener bound", "addr", l.Addr())
				return d.addr, nil
			}
		}
		lastErr = err
		if attempt < tcpBindAttempts {
			d.log.Warn("tcp bind failed, retrying", "attempt", attempt, "err", err)
			select {
			case <-time.After(d.retryDelay):
			case <-ctx.Done():
				return protocol.TCPListenerAddr{}, ctx.Err()
			}
		}
	}
	return protocol.TCPListenerAddr{}, fmt.Errorf("device: tcp bind failed after %d attempts: %w", tcpBindAttempts, lastErr)
}

// Addr returns the bound listener address.
func (d *TCPDevice) Addr() protocol.TCPListenerAddr {
	return d.addr
}

// Serve accepts connections until ctx is cancelled. Each connection is
// served to completion before the next accept.
func (d *TCPDevice) Serve(ctx context.Context) error {
	if d.listener == nil {
		return fmt.Errorf("device: Serve before Bind")
	}
	go func() {
		<-ctx.Done()
		d.listener.Close()
	}()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("device: tcp accept: %w", err)
		}
		d.log.Info("controller connected", "remote", conn.RemoteAddr())
		if err := d.session.ServeTCP(ctx, conn); err != nil && ctx.Err() == nil {
			d.log.Warn("session ended", "err", err)
		}
		conn.Close()
		d.log.Info("controller disconnected, listening")
	}
}

// ServeTCP runs one controller connection carried by conn.
func (s *Session) ServeTCP(ctx context.Context, conn net.Conn) error {
	return s.ServeConn(ctx, &tcpConn{conn: conn})
}

// tcpConn adapts a net.Conn to the session loop. Every message is one
// write; a zero-length read means the controller went away and is
// surfaced as a Disconnect.
type tcpConn struct {
	conn net.Conn
}

func (c *tcpConn) Hello(_ context.Context, desc protocol.HardwareDescription, cfg protocol.HardwareConfig) error {
	_, err := c.conn.Write(protocol.EncodeDescriptionAndConfig(desc, cfg))
	return err
}

func (c *tcpConn) Send(_ context.Context, msg protocol.Message) error {
	_, err := c.conn.Write(protocol.Encode(msg))
	return err
}

func (c *tcpConn) Receive(_ context.Context) (protocol.Message, error) {
	buf := make([]byte, tcpReadBufferSize)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return protocol.Disconnect{}, nil
	}
	return protocol.Decode(buf[:n])
}

// LocalIPv4 returns the first non-loopback IPv4 address of this host.
func LocalIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("device: listing interface addresses: %w", err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("device: no non-loopback IPv4 address found")
}
