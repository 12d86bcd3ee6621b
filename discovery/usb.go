package discovery

import (
	"context"
	"log/slog"
	"net"

	"github.com/google/gousb"

	"pinion/protocol"
	"pinion/transport"
)

// USB enumerates attached pinion devices and queries each over vendor
// control transfers. A device that advertises a joined Wi-Fi network
// is also reported as TCP-reachable.
type USB struct {
	log *slog.Logger
}

// NewUSB returns a USB producer.
func NewUSB(log *slog.Logger) *USB {
	return &USB{log: log}
}

// Scan opens every matching device just long enough to read its
// details.
func (u *USB) Scan(_ context.Context) ([]Device, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	devs, err := usbCtx.OpenDevices(func(d *gousb.DeviceDesc) bool {
		return d.Vendor == gousb.ID(protocol.USBVendorID) && d.Product == gousb.ID(protocol.USBProductID)
	})
	if err != nil && len(devs) == 0 {
		return nil, err
	}

	var devices []Device
	for _, dev := range devs {
		found, qerr := u.query(dev)
		if qerr != nil {
			u.log.Warn("querying usb device", "err", qerr)
		} else {
			devices = append(devices, found...)
		}
		dev.Close()
	}
	return devices, nil
}

func (u *USB) query(dev *gousb.Device) ([]Device, error) {
	frame, err := transport.USBControlIn(dev, protocol.USBValueGetDetails)
	if err != nil {
		return nil, err
	}
	details, err := protocol.DecodeDetails(frame)
	if err != nil {
		return nil, err
	}

	base := Device{
		Serial:     details.Serial,
		Model:      details.Model,
		AppName:    details.AppName,
		AppVersion: details.AppVersion,
	}
	usbDev := base
	usbDev.Method = transport.MethodUSB
	usbDev.Target = transport.USBTarget(details.Serial)

	if details.Wifi {
		if frame, err = transport.USBControlIn(dev, protocol.USBValueGetWiFiDetails); err == nil {
			if wifi, derr := protocol.DecodeWiFiDetails(frame); derr == nil {
				usbDev.WiFi = &wifi
			}
		}
	}
	devices := []Device{usbDev}

	if usbDev.WiFi != nil && usbDev.WiFi.TCP != nil {
		tcpDev := base
		tcpDev.Method = transport.MethodTCP
		addr := usbDev.WiFi.TCP
		tcpDev.Target = transport.TCPTarget(net.IPv4(addr.IP[0], addr.IP[1], addr.IP[2], addr.IP[3]).To4(), addr.Port)
		devices = append(devices, tcpDev)
	}
	return devices, nil
}
