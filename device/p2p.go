package device

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"pinion/protocol"
)

// P2PDevice accepts controller connections over QUIC. The device's
// identity is its Ed25519 public key; controllers verify it against
// the node id they dialed.
type P2PDevice struct {
	session  *Session
	log      *slog.Logger
	key      ed25519.PrivateKey
	nodeID   string
	listener *quic.Listener
}

// NewP2PDevice wraps session with a QUIC listener. A nil key generates
// a fresh identity, giving the device a new node id each boot.
func NewP2PDevice(session *Session, log *slog.Logger, key ed25519.PrivateKey) (*P2PDevice, error) {
	if key == nil {
		var err error
		_, key, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("device: generating node key: %w", err)
		}
	}
	return &P2PDevice{
		session: session,
		log:     log,
		key:     key,
		nodeID:  NodeID(key.Public().(ed25519.PublicKey)),
	}, nil
}

// NodeID renders a public key as the node id string used in discovery
// and dialing.
func NodeID(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// NodeID returns this device's node id.
func (d *P2PDevice) NodeID() string {
	return d.nodeID
}

// Addr returns the bound UDP address.
func (d *P2PDevice) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Listen binds the QUIC listener. addr is a UDP address such as
// ":5353" or ":0" for an ephemeral port.
func (d *P2PDevice) Listen(addr string) error {
	tlsConf, err := selfSignedTLS(d.key)
	if err != nil {
		return err
	}
	l, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("device: quic listen: %w", err)
	}
	d.listener = l
	d.log.Info("p2p listener bound", "addr", l.Addr(), "node", d.nodeID)
	return nil
}

// Serve accepts connections until ctx is cancelled, one at a time.
func (d *P2PDevice) Serve(ctx context.Context) error {
	if d.listener == nil {
		return fmt.Errorf("device: Serve before Listen")
	}
	defer d.listener.Close()
	for {
		conn, err := d.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("device: quic accept: %w", err)
		}
		d.log.Info("controller connected", "remote", conn.RemoteAddr())
		if err := d.session.ServeConn(ctx, &quicConn{conn: conn}); err != nil && ctx.Err() == nil {
			d.log.Warn("session ended", "err", err)
		}
		conn.CloseWithError(0, "session ended")
		d.log.Info("controller disconnected, listening")
	}
}

// quicConn adapts a QUIC connection to the session loop: every message
// travels in its own unidirectional stream, opened for one write and
// closed, so message boundaries need no framing.
type quicConn struct {
	conn *quic.Conn
}

func (c *quicConn) Hello(ctx context.Context, desc protocol.HardwareDescription, cfg protocol.HardwareConfig) error {
	return c.sendFrame(ctx, protocol.EncodeDescriptionAndConfig(desc, cfg))
}

func (c *quicConn) Send(ctx context.Context, msg protocol.Message) error {
	return c.sendFrame(ctx, protocol.Encode(msg))
}

func (c *quicConn) sendFrame(ctx context.Context, frame []byte) error {
	stream, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return err
	}
	if _, err := stream.Write(frame); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}

func (c *quicConn) Receive(ctx context.Context) (protocol.Message, error) {
	stream, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	frame, err := io.ReadAll(stream)
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return protocol.Disconnect{}, nil
	}
	return protocol.Decode(frame)
}

// selfSignedTLS builds the listener's TLS config: a certificate over
// the node key that controllers pin by public key rather than by CA.
func selfSignedTLS(key ed25519.PrivateKey) (*tls.Config, error) {
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "pinion-device"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("device: creating node certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
		}},
		NextProtos: []string{protocol.ALPN},
	}, nil
}
