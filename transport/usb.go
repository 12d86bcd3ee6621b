package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"

	"pinion/protocol"
)

const (
	usbInterfaceNumber = 0

	// Alt setting 1 marks an attached controller; releasing back to 0
	// tells the device the controller went away.
	usbActiveAltSetting = 1

	usbEventEndpoint     = 1
	usbControlBufferSize = 4096
)

type usbTransport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	usbc *gousb.Config
	intf *gousb.Interface
	ep   *gousb.InEndpoint
	desc protocol.HardwareDescription
	cfg  protocol.HardwareConfig
	w    *writer
}

// ConnectUSB opens the pinion device with the given serial number,
// claims its vendor interface and fetches the description and config
// over control transfers.
func ConnectUSB(_ context.Context, serial string) (conn Conn, err error) {
	usbCtx := gousb.NewContext()
	defer func() {
		if err != nil {
			usbCtx.Close()
		}
	}()

	dev, err := openBySerial(usbCtx, serial)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			dev.Close()
		}
	}()
	dev.SetAutoDetach(true)

	usbc, err := dev.Config(1)
	if err != nil {
		return nil, fmt.Errorf("transport: claiming usb config: %w", err)
	}
	intf, err := usbc.Interface(usbInterfaceNumber, usbActiveAltSetting)
	if err != nil {
		usbc.Close()
		return nil, fmt.Errorf("transport: claiming usb interface: %w", err)
	}
	ep, err := intf.InEndpoint(usbEventEndpoint)
	if err != nil {
		intf.Close()
		usbc.Close()
		return nil, fmt.Errorf("transport: opening event endpoint: %w", err)
	}

	descFrame, err := USBControlIn(dev, protocol.USBValueGetDescription)
	if err != nil {
		intf.Close()
		usbc.Close()
		return nil, fmt.Errorf("transport: get-description: %w", err)
	}
	desc, err := protocol.DecodeDescription(descFrame)
	if err != nil {
		intf.Close()
		usbc.Close()
		return nil, fmt.Errorf("transport: get-description: %w", err)
	}
	cfgFrame, err := USBControlIn(dev, protocol.USBValueGetConfig)
	if err != nil {
		intf.Close()
		usbc.Close()
		return nil, fmt.Errorf("transport: get-config: %w", err)
	}
	cfg, err := protocol.DecodeConfig(cfgFrame)
	if err != nil {
		intf.Close()
		usbc.Close()
		return nil, fmt.Errorf("transport: get-config: %w", err)
	}

	t := &usbTransport{
		ctx:  usbCtx,
		dev:  dev,
		usbc: usbc,
		intf: intf,
		ep:   ep,
		desc: desc,
		cfg:  cfg,
	}
	t.w = newWriter(t.writeFrame)
	return t, nil
}

func openBySerial(usbCtx *gousb.Context, serial string) (*gousb.Device, error) {
	devs, err := usbCtx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return d.Vendor == gousb.ID(protocol.USBVendorID) && d.Product == gousb.ID(protocol.USBProductID)
	})
	if err != nil && len(devs) == 0 {
		return nil, fmt.Errorf("transport: enumerating usb devices: %w", err)
	}
	var found *gousb.Device
	for _, dev := range devs {
		if found != nil {
			dev.Close()
			continue
		}
		s, serr := dev.SerialNumber()
		if serr == nil && (serial == "" || s == serial) {
			found = dev
			continue
		}
		dev.Close()
	}
	if found == nil {
		return nil, fmt.Errorf("transport: no usb device with serial %q", serial)
	}
	return found, nil
}

// USBControlIn performs a one-shot vendor IN query against a pinion
// device. Discovery uses it to read details without claiming the
// interface.
func USBControlIn(dev *gousb.Device, value uint16) ([]byte, error) {
	buf := make([]byte, usbControlBufferSize)
	n, err := dev.Control(
		gousb.ControlIn|gousb.ControlVendor|gousb.ControlInterface,
		protocol.USBVendorRequest, value, usbInterfaceNumber, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (t *usbTransport) writeFrame(frame []byte) error {
	_, err := t.dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlInterface,
		protocol.USBVendorRequest, protocol.USBValueConfigMessage, usbInterfaceNumber, frame)
	return err
}

func (t *usbTransport) Description() protocol.HardwareDescription {
	return t.desc
}

func (t *usbTransport) InitialConfig() protocol.HardwareConfig {
	return t.cfg
}

func (t *usbTransport) Send(ctx context.Context, msg protocol.Message) error {
	return t.w.send(ctx, protocol.Encode(msg))
}

func (t *usbTransport) Receive(ctx context.Context) (protocol.Message, error) {
	buf := make([]byte, protocol.USBPacketSize)
	n, err := t.ep.ReadContext(ctx, buf)
	if err != nil {
		if errors.Is(err, gousb.ErrorNoDevice) {
			return protocol.Disconnect{}, nil
		}
		return nil, err
	}
	return protocol.Decode(buf[:n])
}

func (t *usbTransport) Disconnect(ctx context.Context) error {
	sendErr := t.Send(ctx, protocol.Disconnect{})
	t.Close()
	return sendErr
}

func (t *usbTransport) Close() error {
	t.w.close()
	t.intf.Close()
	t.usbc.Close()
	t.dev.Close()
	return t.ctx.Close()
}
