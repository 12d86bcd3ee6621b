// Package transport establishes controller-side connections to pinion
// devices over the supported methods and hides their framing behind one
// Conn interface.
package transport

import (
	"fmt"
	"net"
)

// Method enumerates the ways a controller can reach a device.
type Method uint8

const (
	MethodNone Method = iota
	MethodLocal
	MethodUSB
	MethodTCP
	MethodP2P
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodLocal:
		return "local"
	case MethodUSB:
		return "usb"
	case MethodTCP:
		return "tcp"
	case MethodP2P:
		return "p2p"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// Target identifies one device over one method. The zero value is no
// target at all.
type Target struct {
	Method Method

	// Serial selects a USB device.
	Serial string

	// IP and Port locate a TCP listener.
	IP   net.IP
	Port uint16

	// NodeID pins a P2P device's identity. Addr is its direct address
	// when known; RelayURL is dialed when there is no direct path.
	NodeID   string
	RelayURL string
	Addr     string
}

// NoTarget is the disconnected controller's target.
func NoTarget() Target {
	return Target{}
}

// LocalTarget addresses the device session running in this process.
func LocalTarget() Target {
	return Target{Method: MethodLocal}
}

// USBTarget addresses a USB device by serial number.
func USBTarget(serial string) Target {
	return Target{Method: MethodUSB, Serial: serial}
}

// TCPTarget addresses a device's TCP listener.
func TCPTarget(ip net.IP, port uint16) Target {
	return Target{Method: MethodTCP, IP: ip, Port: port}
}

// P2PTarget addresses a device by node id. addr may be empty when only
// the relay is known.
func P2PTarget(nodeID, relayURL, addr string) Target {
	return Target{Method: MethodP2P, NodeID: nodeID, RelayURL: relayURL, Addr: addr}
}

// IsNone reports whether the target addresses nothing.
func (t Target) IsNone() bool {
	return t.Method == MethodNone
}

func (t Target) String() string {
	switch t.Method {
	case MethodLocal:
		return "local"
	case MethodUSB:
		return fmt.Sprintf("usb:%s", t.Serial)
	case MethodTCP:
		return fmt.Sprintf("tcp:%s:%d", t.IP, t.Port)
	case MethodP2P:
		if t.Addr != "" {
			return fmt.Sprintf("p2p:%s@%s", t.NodeID, t.Addr)
		}
		return fmt.Sprintf("p2p:%s via %s", t.NodeID, t.RelayURL)
	default:
		return "none"
	}
}
