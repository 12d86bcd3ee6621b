package device

import (
	"context"
	"fmt"
	"log/slog"

	"pinion/protocol"
)

// USBInboundQueueCap bounds messages parked between control transfers
// and the session loop.
const USBInboundQueueCap = 16

// SsidStore holds the Wi-Fi network a device should join. The bbolt
// store satisfies it.
type SsidStore interface {
	Ssid() (*protocol.SsidSpec, error)
	StoreSsid(spec protocol.SsidSpec) error
	DeleteSsid() error
}

// ControlDispatcher answers vendor control transfers on the pinion USB
// interface. IN requests are one-shot queries served from current
// state; OUT requests carry Wi-Fi management and config messages.
// Config messages land on a bounded queue the session loop drains.
type ControlDispatcher struct {
	log      *slog.Logger
	session  *Session
	ssids    SsidStore
	iface    uint16
	inbound  chan protocol.Message
	outbound chan protocol.Message

	// tcpAddr is the Wi-Fi listener advertised to the host, when the
	// device joined a network.
	tcpAddr *protocol.TCPListenerAddr

	// OnSsidChange runs after set-ssid or reset-ssid so the caller can
	// schedule a restart onto the new network.
	OnSsidChange func()
}

// NewControlDispatcher builds a dispatcher for the given interface
// number. ssids may be nil on devices without Wi-Fi.
func NewControlDispatcher(session *Session, log *slog.Logger, ssids SsidStore, iface uint16) *ControlDispatcher {
	return &ControlDispatcher{
		log:      log,
		session:  session,
		ssids:    ssids,
		iface:    iface,
		inbound:  make(chan protocol.Message, USBInboundQueueCap),
		outbound: make(chan protocol.Message, USBInboundQueueCap),
	}
}

// SetTCPAddr records the Wi-Fi listener address reported by
// get-wifi-details.
func (d *ControlDispatcher) SetTCPAddr(addr protocol.TCPListenerAddr) {
	d.tcpAddr = &addr
}

// HandleControlIn serves a vendor IN request. The returned bool is
// false when the request should stall.
func (d *ControlDispatcher) HandleControlIn(request uint8, value, index uint16) ([]byte, bool) {
	if request != protocol.USBVendorRequest || index != d.iface {
		return nil, false
	}
	switch value {
	case protocol.USBValueGetDescription:
		return protocol.EncodeDescription(d.session.Description()), true
	case protocol.USBValueGetDetails:
		return protocol.EncodeDetails(d.session.Description().Details), true
	case protocol.USBValueGetWiFiDetails:
		details := protocol.WiFiDetails{TCP: d.tcpAddr}
		if d.ssids != nil {
			spec, err := d.ssids.Ssid()
			if err != nil {
				d.log.Error("loading ssid", "err", err)
				return nil, false
			}
			details.Spec = spec
		}
		return protocol.EncodeWiFiDetails(details), true
	case protocol.USBValueGetConfig:
		return protocol.EncodeConfig(d.session.Config()), true
	case protocol.USBValueGetConfigMessage:
		// Polling fallback for hosts not reading the interrupt
		// endpoint: one queued event per request, empty when none.
		select {
		case msg := <-d.outbound:
			return protocol.Encode(msg), true
		default:
			return nil, true
		}
	default:
		d.log.Warn("unknown vendor IN value", "value", value)
		return nil, false
	}
}

// HandleControlOut accepts a vendor OUT request. The returned bool is
// false when the request should stall.
func (d *ControlDispatcher) HandleControlOut(request uint8, value, index uint16, data []byte) bool {
	if request != protocol.USBVendorRequest || index != d.iface {
		return false
	}
	switch value {
	case protocol.USBValueSetSsid:
		if d.ssids == nil {
			return false
		}
		spec, err := protocol.DecodeSsidSpec(data)
		if err != nil {
			d.log.Warn("malformed ssid spec", "err", err)
			return false
		}
		if err := d.ssids.StoreSsid(spec); err != nil {
			d.log.Error("storing ssid", "err", err)
			return false
		}
		d.log.Info("ssid stored", "name", spec.Name)
		if d.OnSsidChange != nil {
			d.OnSsidChange()
		}
		return true
	case protocol.USBValueResetSsid:
		if d.ssids == nil {
			return false
		}
		if err := d.ssids.DeleteSsid(); err != nil {
			d.log.Error("deleting ssid", "err", err)
			return false
		}
		d.log.Info("ssid cleared")
		if d.OnSsidChange != nil {
			d.OnSsidChange()
		}
		return true
	case protocol.USBValueConfigMessage:
		msg, err := protocol.Decode(data)
		if err != nil {
			d.log.Warn("malformed config message", "err", err)
			return false
		}
		select {
		case d.inbound <- msg:
			return true
		default:
			d.log.Warn("usb inbound queue full, dropping message")
			return false
		}
	default:
		d.log.Warn("unknown vendor OUT value", "value", value)
		return false
	}
}

// SetAltSetting handles the host selecting an alternate setting on the
// pinion interface. Resetting to 0 is how hosts signal disconnect.
func (d *ControlDispatcher) SetAltSetting(alt uint16) {
	if alt != 0 {
		return
	}
	select {
	case d.inbound <- protocol.Disconnect{}:
	default:
	}
}

// USBDevice runs the session loop over the control dispatcher. Events
// flow to the host through sink, the interrupt IN endpoint.
type USBDevice struct {
	session    *Session
	log        *slog.Logger
	dispatcher *ControlDispatcher
	sink       func(frame []byte) error
}

// NewUSBDevice wires session, dispatcher and the event sink together.
func NewUSBDevice(session *Session, log *slog.Logger, dispatcher *ControlDispatcher, sink func([]byte) error) *USBDevice {
	return &USBDevice{session: session, log: log, dispatcher: dispatcher, sink: sink}
}

// Serve waits for a controller to send its first message, serves the
// session until it disconnects, then waits again.
func (d *USBDevice) Serve(ctx context.Context) error {
	for {
		var first protocol.Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case first = <-d.dispatcher.inbound:
		}
		if _, off := first.(protocol.Disconnect); off {
			continue
		}
		d.log.Info("usb controller connected")
		conn := &usbConn{dispatcher: d.dispatcher, sink: d.sink, pending: first}
		if err := d.session.ServeConn(ctx, conn); err != nil && ctx.Err() == nil {
			d.log.Warn("session ended", "err", err)
		}
		d.log.Info("usb controller disconnected, listening")
	}
}

// usbConn adapts the dispatcher queue and event sink to the session
// loop. The host already fetched the description over control IN, so
// Hello sends nothing.
type usbConn struct {
	dispatcher *ControlDispatcher
	sink       func(frame []byte) error
	pending    protocol.Message
}

func (c *usbConn) Hello(context.Context, protocol.HardwareDescription, protocol.HardwareConfig) error {
	return nil
}

func (c *usbConn) Send(_ context.Context, msg protocol.Message) error {
	if c.sink != nil {
		return c.sink(protocol.Encode(msg))
	}
	select {
	case c.dispatcher.outbound <- msg:
		return nil
	default:
		return fmt.Errorf("device: usb outbound queue full")
	}
}

func (c *usbConn) Receive(ctx context.Context) (protocol.Message, error) {
	if c.pending != nil {
		msg := c.pending
		c.pending = nil
		return msg, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-c.dispatcher.inbound:
		return msg, nil
	}
}
