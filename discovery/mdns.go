package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/grandcat/zeroconf"

	"pinion/protocol"
	"pinion/transport"
)

const mdnsDomain = "local."

// MDNS browses the local network for devices advertising the pinion
// service. A record that also carries node properties yields a second,
// P2P-reachable device.
type MDNS struct {
	log *slog.Logger
}

// NewMDNS returns an mDNS producer.
func NewMDNS(log *slog.Logger) *MDNS {
	return &MDNS{log: log}
}

// Scan browses until ctx expires and returns everything heard.
func (m *MDNS) Scan(ctx context.Context) ([]Device, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, protocol.MDNSServiceType, mdnsDomain, entries); err != nil {
		return nil, fmt.Errorf("discovery: mdns browse: %w", err)
	}

	var devices []Device
	for entry := range entries {
		devices = append(devices, entryToDevices(entry)...)
	}
	return devices, nil
}

func entryToDevices(entry *zeroconf.ServiceEntry) []Device {
	props := parseTXT(entry.Text)
	base := Device{
		Serial:     props[protocol.TXTSerial],
		Model:      props[protocol.TXTModel],
		AppName:    props[protocol.TXTAppName],
		AppVersion: props[protocol.TXTAppVersion],
	}
	if base.Serial == "" {
		base.Serial = entry.Instance
	}

	var devices []Device
	if len(entry.AddrIPv4) > 0 {
		dev := base
		dev.Method = transport.MethodTCP
		dev.Target = transport.TCPTarget(entry.AddrIPv4[0], uint16(entry.Port))
		devices = append(devices, dev)
	}
	if nodeID := props[protocol.TXTNodeID]; nodeID != "" {
		dev := base
		dev.Method = transport.MethodP2P
		dev.Target = transport.P2PTarget(nodeID, props[protocol.TXTRelayURL], "")
		devices = append(devices, dev)
	}
	return devices
}

func parseTXT(text []string) map[string]string {
	props := make(map[string]string, len(text))
	for _, kv := range text {
		key, value, ok := strings.Cut(kv, "=")
		if ok {
			props[key] = value
		}
	}
	return props
}

// Announce registers this device in mDNS so controllers can find it.
// The returned stop function withdraws the record.
func Announce(log *slog.Logger, details protocol.HardwareDetails, port uint16, extra map[string]string) (stop func(), err error) {
	txt := []string{
		protocol.TXTSerial + "=" + details.Serial,
		protocol.TXTModel + "=" + details.Model,
		protocol.TXTAppName + "=" + details.AppName,
		protocol.TXTAppVersion + "=" + details.AppVersion,
	}
	for key, value := range extra {
		txt = append(txt, key+"="+value)
	}
	server, err := zeroconf.Register(details.Serial, protocol.MDNSServiceType, mdnsDomain, int(port), txt, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns register: %w", err)
	}
	log.Info("mdns record registered", "serial", details.Serial, "port", port)
	return server.Shutdown, nil
}
