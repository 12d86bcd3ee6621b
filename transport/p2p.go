package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"

	"github.com/quic-go/quic-go"

	"pinion/protocol"
)

const defaultP2PPort = "4433"

type p2pTransport struct {
	conn *quic.Conn
	desc protocol.HardwareDescription
	cfg  protocol.HardwareConfig
	w    *writer
}

// ConnectP2P dials a device by node id. The direct address is tried
// when the target has one; otherwise the relay is dialed. The TLS
// handshake is pinned to the node's public key, so a relay cannot
// impersonate the device.
func ConnectP2P(ctx context.Context, target Target) (Conn, error) {
	pub, err := nodePublicKey(target.NodeID)
	if err != nil {
		return nil, err
	}
	addr, err := p2pDialAddr(target)
	if err != nil {
		return nil, err
	}
	tlsConf := &tls.Config{
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: pinPublicKey(pub),
		NextProtos:            []string{protocol.ALPN},
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing node %s at %s: %w", target.NodeID, addr, err)
	}

	// The device's first stream carries the description and config.
	hello, err := conn.AcceptUniStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "no hello")
		return nil, fmt.Errorf("transport: waiting for hello: %w", err)
	}
	frame, err := io.ReadAll(hello)
	if err != nil {
		conn.CloseWithError(0, "bad hello")
		return nil, fmt.Errorf("transport: reading hello: %w", err)
	}
	desc, cfg, err := protocol.DecodeDescriptionAndConfig(frame)
	if err != nil {
		conn.CloseWithError(0, "bad hello")
		return nil, fmt.Errorf("transport: hello: %w", err)
	}

	t := &p2pTransport{conn: conn, desc: desc, cfg: cfg}
	t.w = newWriter(t.writeFrame)
	return t, nil
}

func nodePublicKey(nodeID string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(nodeID)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("transport: %q is not a node id", nodeID)
	}
	return ed25519.PublicKey(raw), nil
}

func p2pDialAddr(target Target) (string, error) {
	if target.Addr != "" {
		return target.Addr, nil
	}
	if target.RelayURL == "" {
		return "", fmt.Errorf("transport: target %s has neither address nor relay", target.NodeID)
	}
	u, err := url.Parse(target.RelayURL)
	if err != nil {
		return "", fmt.Errorf("transport: relay url %q: %w", target.RelayURL, err)
	}
	host := u.Host
	if u.Port() == "" {
		host = u.Hostname() + ":" + defaultP2PPort
	}
	return host, nil
}

func pinPublicKey(pub ed25519.PublicKey) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("transport: peer presented no certificate")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("transport: parsing peer certificate: %w", err)
		}
		peerPub, ok := cert.PublicKey.(ed25519.PublicKey)
		if !ok || !peerPub.Equal(pub) {
			return fmt.Errorf("transport: peer key does not match node id")
		}
		return nil
	}
}

func (t *p2pTransport) writeFrame(frame []byte) error {
	stream, err := t.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return err
	}
	if _, err := stream.Write(frame); err != nil {
		stream.Close()
		return err
	}
	return stream.Close()
}

func (t *p2pTransport) Description() protocol.HardwareDescription {
	return t.desc
}

func (t *p2pTransport) InitialConfig() protocol.HardwareConfig {
	return t.cfg
}

func (t *p2pTransport) Send(ctx context.Context, msg protocol.Message) error {
	return t.w.send(ctx, protocol.Encode(msg))
}

func (t *p2pTransport) Receive(ctx context.Context) (protocol.Message, error) {
	stream, err := t.conn.AcceptUniStream(ctx)
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

func (t *p2pTransport) Disconnect(ctx context.Context) error {
	sendErr := t.Send(ctx, protocol.Disconnect{})
	closeErr := t.Close()
	if sendErr != nil {
		return sendErr
	}
	return closeErr
}

func (t *p2pTransport) Close() error {
	t.w.close()
	return t.conn.CloseWithError(0, "controller disconnect")
}
