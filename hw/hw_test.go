package hw

import (
	"errors"
	"sync"
	"testing"

	"pinion/protocol"
)

func TestFortyBoardPins(t *testing.T) {
	pins := PinDescriptions()
	if got := len(pins.Pins); got != 40 {
		t.Fatalf("catalogue has %d pins, want 40", got)
	}
}

func TestTwentySixConfigurableBCMPins(t *testing.T) {
	// GPIO2..GPIO27; ID_SD/ID_SC (BCM 0/1) are reserved.
	pins := PinDescriptions()
	if got := len(pins.BCMPins()); got != 26 {
		t.Fatalf("catalogue has %d configurable BCM pins, want 26", got)
	}
}

func TestBCMPinsSortedAscending(t *testing.T) {
	sorted := PinDescriptions().BCMPinsSorted()
	previous := protocol.BCMPinNumber(1) // starts at GPIO2
	for _, pin := range sorted {
		if *pin.BCM != previous+1 {
			t.Fatalf("BCM pins not contiguous ascending: got %d after %d", *pin.BCM, previous)
		}
		previous = *pin.BCM
	}
}

func TestBCMToBoard(t *testing.T) {
	pins := PinDescriptions()
	if board, ok := pins.BCMToBoard(2); !ok || board != 3 {
		t.Errorf("BCMToBoard(2) = (%d, %v), want (3, true)", board, ok)
	}
	if _, ok := pins.BCMToBoard(100); ok {
		t.Error("BCMToBoard(100) should not resolve")
	}
}

func TestFakeRejectsFixedPurposePin(t *testing.T) {
	fake := NewFake()
	fn := protocol.Output()
	err := fake.ApplyPinConfig(0, &fn, nil) // BCM 0 is ID_SD, reserved
	if !errors.Is(err, ErrFixedPurposePin) {
		t.Errorf("expected ErrFixedPurposePin, got %v", err)
	}
	err = fake.ApplyPinConfig(42, &fn, nil)
	if !errors.Is(err, ErrUnknownPin) {
		t.Errorf("expected ErrUnknownPin, got %v", err)
	}
}

func TestFakeOutputLevels(t *testing.T) {
	fake := NewFake()
	fn := protocol.OutputWithLevel(true)
	if err := fake.ApplyPinConfig(17, &fn, nil); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if level, ok := fake.OutputLevel(17); !ok || !level {
		t.Errorf("OutputLevel(17) = (%v, %v), want (true, true)", level, ok)
	}

	if err := fake.SetOutputLevel(17, false); err != nil {
		t.Fatalf("set level failed: %v", err)
	}
	if level, _ := fake.OutputLevel(17); level {
		t.Error("level should be low after SetOutputLevel(false)")
	}

	if err := fake.SetOutputLevel(4, true); !errors.Is(err, ErrNotAnOutput) {
		t.Errorf("expected ErrNotAnOutput for unconfigured pin, got %v", err)
	}
}

func TestFakeInputCallback(t *testing.T) {
	fake := NewFake()

	var mu sync.Mutex
	var events []protocol.LevelChange
	fn := protocol.InputWithPull(protocol.PullDown)
	err := fake.ApplyPinConfig(26, &fn, func(pin protocol.BCMPinNumber, change protocol.LevelChange) {
		mu.Lock()
		events = append(events, change)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if err := fake.SetInputLevel(26, true); err != nil {
		t.Fatalf("set input level failed: %v", err)
	}
	// Same level again: no edge, no event.
	if err := fake.SetInputLevel(26, true); err != nil {
		t.Fatalf("set input level failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("got %d edge events, want 1", len(events))
	}
	if !events[0].NewLevel {
		t.Error("edge event should report the new high level")
	}
}

func TestFakeApplyConfigContinuesPastBadPin(t *testing.T) {
	fake := NewFake()
	cfg := protocol.NewHardwareConfig()
	cfg.Pins[0] = protocol.Output() // reserved, fails
	cfg.Pins[17] = protocol.OutputWithLevel(true)

	err := fake.ApplyConfig(cfg, nil)
	if err == nil {
		t.Fatal("expected an error for the reserved pin")
	}
	// The valid pin must still have been applied.
	if _, ok := fake.OutputLevel(17); !ok {
		t.Error("valid pin was not applied after the failing one")
	}
}
