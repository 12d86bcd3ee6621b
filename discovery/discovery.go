// Package discovery finds pinion devices over mDNS, USB and a P2P
// directory, and reports them appearing and going away.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pinion/protocol"
	"pinion/transport"
)

// DefaultScanInterval is how often every producer is rescanned.
const DefaultScanInterval = time.Second

// Device is one discovered way to reach one piece of hardware. The
// same board found over two methods yields two Devices.
type Device struct {
	Serial     string
	Model      string
	AppName    string
	AppVersion string
	Method     transport.Method
	Target     transport.Target

	// WiFi is what a USB-discovered device reported about its
	// wireless side, nil otherwise.
	WiFi *protocol.WiFiDetails
}

// Key identifies a device within the merged view. A board stays the
// same device across scans as long as it is reachable the same way.
func (d Device) Key() string {
	return fmt.Sprintf("%s/%s", d.Serial, d.Method)
}

// EventKind says whether a device appeared or went away.
type EventKind uint8

const (
	DeviceFound EventKind = iota
	DeviceLost
)

func (k EventKind) String() string {
	if k == DeviceLost {
		return "lost"
	}
	return "found"
}

// Event reports a change in the merged device view.
type Event struct {
	Kind   EventKind
	Device Device
}

// Producer is one source of devices. Scan returns everything the
// source can currently see; the merged view handles diffing.
type Producer interface {
	Scan(ctx context.Context) ([]Device, error)
}

// Discovery merges producers into one view keyed by serial and method,
// emitting found and lost events as scans differ. A device present in
// consecutive scans is reported exactly once.
type Discovery struct {
	log       *slog.Logger
	producers []Producer
	interval  time.Duration
	events    chan Event
}

// New builds a discovery over the given producers.
func New(log *slog.Logger, producers ...Producer) *Discovery {
	return &Discovery{
		log:       log,
		producers: producers,
		interval:  DefaultScanInterval,
		events:    make(chan Event, 64),
	}
}

// Events is the stream of found and lost devices.
func (d *Discovery) Events() <-chan Event {
	return d.events
}

// Run rescans until ctx is cancelled. The tick runs concurrently with
// the scan, so a producer using its whole budget (the mDNS browse does)
// does not stretch the rescan cadence.
func (d *Discovery) Run(ctx context.Context) error {
	known := make(map[string]Device)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		current := d.scan(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		for key, dev := range current {
			if _, ok := known[key]; !ok {
				d.log.Info("device found", "key", key, "model", dev.Model)
				d.emit(ctx, Event{Kind: DeviceFound, Device: dev})
			}
		}
		for key, dev := range known {
			if _, ok := current[key]; !ok {
				d.log.Info("device lost", "key", key)
				d.emit(ctx, Event{Kind: DeviceLost, Device: dev})
			}
		}
		known = current

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// scan runs every producer once, concurrently, under one shared budget
// of an interval. A failing producer contributes nothing this round;
// its devices will be reported lost and found again rather than
// wedging the whole view.
func (d *Discovery) scan(ctx context.Context) map[string]Device {
	scanCtx, cancel := context.WithTimeout(ctx, d.interval)
	defer cancel()

	results := make(chan []Device, len(d.producers))
	for _, p := range d.producers {
		go func(p Producer) {
			devices, err := p.Scan(scanCtx)
			if err != nil {
				d.log.Warn("producer scan failed", "err", err)
			}
			results <- devices
		}(p)
	}

	current := make(map[string]Device)
	for range d.producers {
		for _, dev := range <-results {
			current[dev.Key()] = dev
		}
	}
	return current
}

func (d *Discovery) emit(ctx context.Context, ev Event) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}
