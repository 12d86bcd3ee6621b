package protocol

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func bcm(n BCMPinNumber) *BCMPinNumber { return &n }

func fnPtr(f PinFunction) *PinFunction { return &f }

func TestMessageRoundTrip(t *testing.T) {
	cfg := NewHardwareConfig()
	cfg.Pins[3] = OutputWithLevel(true)
	cfg.Pins[17] = Output()
	cfg.Pins[26] = InputWithPull(PullUp)
	cfg.Pins[4] = Input()

	testCases := []struct {
		name string
		msg  Message
	}{
		{"new config", NewConfig{Config: cfg}},
		{"new config empty", NewConfig{Config: NewHardwareConfig()}},
		{"new pin config", NewPinConfig{Pin: 7, Function: fnPtr(OutputWithLevel(false))}},
		{"new pin config input", NewPinConfig{Pin: 2, Function: fnPtr(InputWithPull(PullDown))}},
		{"new pin config remove", NewPinConfig{Pin: 7, Function: nil}},
		{"level changed high", IOLevelChanged{Pin: 26, Change: NewLevelChange(true, 90*time.Second+12345*time.Nanosecond)}},
		{"level changed low", IOLevelChanged{Pin: 26, Change: NewLevelChange(false, 0)}},
		{"get config", GetConfig{}},
		{"disconnect", Disconnect{}},
	}

	for _, tc := range testCases {
		encoded := Encode(tc.msg)
		decoded, err := Decode(encoded)
		if err != nil {
			t.Errorf("%s: decode failed: %v", tc.name, err)
			continue
		}
		if !reflect.DeepEqual(decoded, tc.msg) {
			t.Errorf("%s: round trip mismatch: sent %#v, got %#v", tc.name, tc.msg, decoded)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	testCases := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"unknown discriminant", []byte{99}},
		{"truncated new config", []byte{tagNewConfig, 2, 3}},
		{"truncated pin config", []byte{tagNewPinConfig, 7}},
		{"truncated level change", []byte{tagIOLevelChanged, 26, 1}},
		{"bad bool", []byte{tagIOLevelChanged, 26, 7, 0, 0}},
		{"trailing bytes", append(Encode(GetConfig{}), 0)},
		{"entry count exceeds buffer", []byte{tagNewConfig, 0xff, 0xff, 0x01}},
		{"unterminated varint", []byte{0x80, 0x80, 0x80}},
	}

	for _, tc := range testCases {
		_, err := Decode(tc.buf)
		if err == nil {
			t.Errorf("%s: expected DecodeError, got nil", tc.name)
			continue
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("%s: expected *DecodeError, got %T (%v)", tc.name, err, err)
		}
	}
}

func TestDecodeDuplicatePin(t *testing.T) {
	// Hand-built NewConfig with pin 5 twice.
	buf := []byte{tagNewConfig, 2, 5, byte(FunctionOutput), 0, 5, byte(FunctionOutput), 0}
	if _, err := Decode(buf); err == nil {
		t.Error("expected duplicate pin entry to be rejected")
	}
}

func TestDescriptionRoundTrip(t *testing.T) {
	desc := HardwareDescription{
		Details: HardwareDetails{
			Hardware:   "BCM2835",
			Revision:   "a020d3",
			Serial:     "0000000012345678",
			Model:      "Raspberry Pi 3 Model B+",
			Wifi:       true,
			AppName:    "piniond",
			AppVersion: "1.0.0",
		},
		Pins: PinDescriptionSet{Pins: []PinDescription{
			{BoardPinNumber: 1, Name: "3V3", Options: []PinFunction{NoFunction()}},
			{BoardPinNumber: 3, BCM: bcm(2), Name: "GPIO2",
				Options: []PinFunction{Input(), Output()}},
		}},
	}

	decoded, err := DecodeDescription(EncodeDescription(desc))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, desc) {
		t.Errorf("round trip mismatch:\nsent %#v\ngot  %#v", desc, decoded)
	}
}

func TestDescriptionAndConfigRoundTrip(t *testing.T) {
	desc := HardwareDescription{
		Details: HardwareDetails{Serial: "S1", Model: "Fake"},
		Pins: PinDescriptionSet{Pins: []PinDescription{
			{BoardPinNumber: 3, BCM: bcm(2), Name: "GPIO2",
				Options: []PinFunction{Input(), Output()}},
		}},
	}
	cfg := NewHardwareConfig()
	cfg.Pins[2] = OutputWithLevel(true)

	gotDesc, gotCfg, err := DecodeDescriptionAndConfig(EncodeDescriptionAndConfig(desc, cfg))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !reflect.DeepEqual(gotDesc, desc) {
		t.Errorf("description mismatch: got %#v", gotDesc)
	}
	if !gotCfg.Equal(cfg) {
		t.Errorf("config mismatch: got %#v", gotCfg)
	}
}

func TestWiFiDetailsRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		w    WiFiDetails
	}{
		{"empty", WiFiDetails{}},
		{"spec only", WiFiDetails{Spec: &SsidSpec{Name: "home", Pass: "hunter2", Security: "wpa2"}}},
		{"spec and tcp", WiFiDetails{
			Spec: &SsidSpec{Name: "home", Pass: "hunter2", Security: "wpa2"},
			TCP:  &TCPListenerAddr{IP: [4]byte{192, 168, 1, 9}, Port: 4455},
		}},
	}

	for _, tc := range testCases {
		got, err := DecodeWiFiDetails(EncodeWiFiDetails(tc.w))
		if err != nil {
			t.Errorf("%s: decode failed: %v", tc.name, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.w) {
			t.Errorf("%s: round trip mismatch: %#v != %#v", tc.name, got, tc.w)
		}
	}
}

func TestSsidSpecRoundTrip(t *testing.T) {
	spec := SsidSpec{Name: "workshop", Pass: "secret", Security: "wpa3"}
	got, err := DecodeSsidSpec(EncodeSsidSpec(spec))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != spec {
		t.Errorf("round trip mismatch: %#v != %#v", got, spec)
	}
}

func TestConfigEncodingDeterministic(t *testing.T) {
	cfg := NewHardwareConfig()
	for pin := BCMPinNumber(2); pin < 20; pin++ {
		cfg.Pins[pin] = OutputWithLevel(pin%2 == 0)
	}
	first := Encode(NewConfig{Config: cfg})
	for i := 0; i < 10; i++ {
		if got := Encode(NewConfig{Config: cfg}); !reflect.DeepEqual(got, first) {
			t.Fatal("encoding of an identical config varies between calls")
		}
	}
}
