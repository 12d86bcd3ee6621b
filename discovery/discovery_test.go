package discovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pinion/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProducer serves whatever device list the test last installed.
type fakeProducer struct {
	mu      sync.Mutex
	devices []Device
	err     error
}

func (p *fakeProducer) set(devices ...Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.devices = devices
}

func (p *fakeProducer) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProducer) Scan(context.Context) ([]Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return append([]Device(nil), p.devices...), nil
}

func usbDevice(serial string) Device {
	return Device{
		Serial: serial,
		Model:  "Fake Hardware",
		Method: transport.MethodUSB,
		Target: transport.USBTarget(serial),
	}
}

func runDiscovery(t *testing.T, producers ...Producer) *Discovery {
	t.Helper()
	d := New(discardLogger(), producers...)
	d.interval = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)
	return d
}

func nextEvent(t *testing.T, d *Discovery) Event {
	t.Helper()
	select {
	case ev := <-d.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a discovery event")
		return Event{}
	}
}

func expectQuiet(t *testing.T, d *Discovery) {
	t.Helper()
	select {
	case ev := <-d.Events():
		t.Fatalf("unexpected event %s %s", ev.Kind, ev.Device.Key())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeviceReportedOncePerAppearance(t *testing.T) {
	p := &fakeProducer{}
	p.set(usbDevice("e661"))
	d := runDiscovery(t, p)

	ev := nextEvent(t, d)
	if ev.Kind != DeviceFound || ev.Device.Serial != "e661" {
		t.Fatalf("got %s %s", ev.Kind, ev.Device.Key())
	}
	// Present in every following scan: no more events.
	expectQuiet(t, d)
}

func TestDeviceLostWhenScanDropsIt(t *testing.T) {
	p := &fakeProducer{}
	p.set(usbDevice("e661"))
	d := runDiscovery(t, p)
	nextEvent(t, d) // found

	p.set()
	ev := nextEvent(t, d)
	if ev.Kind != DeviceLost || ev.Device.Serial != "e661" {
		t.Fatalf("got %s %s", ev.Kind, ev.Device.Key())
	}
}

func TestSameSerialTwoMethodsAreTwoDevices(t *testing.T) {
	usb := usbDevice("e661")
	tcp := Device{Serial: "e661", Method: transport.MethodTCP}
	if usb.Key() == tcp.Key() {
		t.Fatal("methods do not separate keys")
	}

	p := &fakeProducer{}
	p.set(usb, tcp)
	d := runDiscovery(t, p)

	keys := map[string]bool{}
	keys[nextEvent(t, d).Device.Key()] = true
	keys[nextEvent(t, d).Device.Key()] = true
	if len(keys) != 2 {
		t.Errorf("got keys %v, want two distinct", keys)
	}
	expectQuiet(t, d)
}

func TestDuplicateReportsCollapse(t *testing.T) {
	p1 := &fakeProducer{}
	p2 := &fakeProducer{}
	p1.set(usbDevice("e661"))
	p2.set(usbDevice("e661"))
	d := runDiscovery(t, p1, p2)

	nextEvent(t, d)
	expectQuiet(t, d)
}

func TestFailingProducerLosesItsDevices(t *testing.T) {
	p := &fakeProducer{}
	p.set(usbDevice("e661"))
	d := runDiscovery(t, p)
	nextEvent(t, d) // found

	p.fail(errors.New("bus reset"))
	if ev := nextEvent(t, d); ev.Kind != DeviceLost {
		t.Fatalf("got %s, want lost", ev.Kind)
	}

	p.fail(nil)
	if ev := nextEvent(t, d); ev.Kind != DeviceFound {
		t.Fatalf("got %s, want found again", ev.Kind)
	}
}

// slowProducer eats its whole scan budget, the way the mDNS browse
// does, and counts how often it was asked.
type slowProducer struct {
	mu    sync.Mutex
	scans int
}

func (p *slowProducer) Scan(ctx context.Context) ([]Device, error) {
	p.mu.Lock()
	p.scans++
	p.mu.Unlock()
	<-ctx.Done()
	return []Device{usbDevice("e661")}, nil
}

func (p *slowProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scans
}

func TestSlowProducerDoesNotStretchCadence(t *testing.T) {
	p := &slowProducer{}
	d := New(discardLogger(), p)
	d.interval = 20 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 210*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	// Ten intervals fit in the window. A producer that blocks for the
	// full budget must not halve the rescan rate.
	if got := p.count(); got < 7 {
		t.Errorf("%d scans in ten intervals, want close to ten", got)
	}
}

func TestDirectoryScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.yaml")
	content := `
- serial: e66164084310b235
  model: Pi Pico W
  node: ab12cd34
  relay: https://relay.example.com
- node: ff00ff00
  addr: 10.0.0.9:4433
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	devices, err := NewDirectory(path).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	first := devices[0]
	if first.Serial != "e66164084310b235" || first.Method != transport.MethodP2P {
		t.Errorf("first device = %+v", first)
	}
	if first.Target.NodeID != "ab12cd34" || first.Target.RelayURL != "https://relay.example.com" {
		t.Errorf("first target = %+v", first.Target)
	}
	second := devices[1]
	if second.Serial != "ff00ff00" {
		t.Errorf("nodeless serial fallback: %+v", second)
	}
	if second.Target.Addr != "10.0.0.9:4433" {
		t.Errorf("second target = %+v", second.Target)
	}
}

func TestDirectoryMissingFileIsEmpty(t *testing.T) {
	devices, err := NewDirectory(filepath.Join(t.TempDir(), "nope.yaml")).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("got %d devices from a missing file", len(devices))
	}
}

func TestParseTXT(t *testing.T) {
	props := parseTXT([]string{"Serial=e661", "Model=Pi Pico W", "garbage"})
	if props["Serial"] != "e661" || props["Model"] != "Pi Pico W" {
		t.Errorf("got %v", props)
	}
	if _, ok := props["garbage"]; ok {
		t.Error("entry without = was kept")
	}
}
