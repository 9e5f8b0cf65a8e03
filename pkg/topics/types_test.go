package topics

import (
	"errors"
	"testing"
	"time"
)

func TestNewDeviceVariants(t *testing.T) {
	light, err := NewDevice("smartlight")
	if err != nil {
		t.Fatalf("NewDevice(smartlight) error = %v", err)
	}

	subs := light.Subscriptions()
	want := []string{
		"home/smartlight/state",
		"home/smartlight/brightness",
		"home/smartlight/color",
		"home/smartlight/ambient",
		"home/smartlight/motion",
		"home/smartlight/status",
	}
	if len(subs) != len(want) {
		t.Fatalf("Subscriptions() = %v, want %v", subs, want)
	}
	for i := range want {
		if subs[i] != want[i] {
			t.Errorf("Subscriptions()[%d] = %q, want %q", i, subs[i], want[i])
		}
	}

	weather, err := NewDevice("weatherstation")
	if err != nil {
		t.Fatalf("NewDevice(weatherstation) error = %v", err)
	}
	if _, ok := weather.Channel("command"); ok {
		t.Error("weatherstation should have no command channel")
	}
	if len(weather.Subscriptions()) != 4 {
		t.Errorf("weatherstation subscriptions = %v", weather.Subscriptions())
	}
}

func TestNewDeviceCustomChannels(t *testing.T) {
	d, err := NewDevice("greenhouse", "soil", "lux", "soil")
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	if len(d.Channels) != 2 {
		t.Errorf("channels = %v, want soil and lux once each", d.Channels)
	}
	if ch, _ := d.Channel("lux"); ch.Kind != KindTelemetry {
		t.Errorf("custom channel kind = %s, want telemetry", ch.Kind)
	}

	if _, err := NewDevice("greenhouse"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device without channels error = %v", err)
	}
	if _, err := NewDevice("home/#"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("wildcard device name error = %v", err)
	}
	if _, err := NewDevice("smartlight", "a/b"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("nested channel name error = %v", err)
	}
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		topic   string
		device  string
		channel string
		ok      bool
	}{
		{"home/smartlight/state", "smartlight", "state", true},
		{"home/weatherstation/temperature", "weatherstation", "temperature", true},
		{"office/smartlight/state", "", "", false},
		{"home/smartlight", "", "", false},
		{"home/smartlight/state/extra", "", "", false},
		{"home//state", "", "", false},
	}

	for _, tt := range tests {
		device, channel, ok := ParseTopic(tt.topic)
		if device != tt.device || channel != tt.channel || ok != tt.ok {
			t.Errorf("ParseTopic(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.topic, device, channel, ok, tt.device, tt.channel, tt.ok)
		}
	}
}

func TestDeviceResolveIsExact(t *testing.T) {
	d, _ := NewDevice("smartlight")

	if ch, ok := d.Resolve("home/smartlight/brightness"); !ok || ch.Kind != KindSetting {
		t.Errorf("Resolve(brightness) = %v, %v", ch, ok)
	}
	if _, ok := d.Resolve("home/SmartLight/brightness"); ok {
		t.Error("topics must match case-sensitively")
	}
	if _, ok := d.Resolve("home/weatherstation/status"); ok {
		t.Error("another device's topic must not resolve")
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		payload string
		want    bool
		wantErr bool
	}{
		{"ON", true, false},
		{"OFF", false, false},
		{" on\n", true, false},
		{`{"state":"OFF","brightness":255}`, false, false},
		{"DIM", false, true},
		{`{"state":`, false, true},
		{"", false, true},
	}

	for _, tt := range tests {
		got, err := ParseState([]byte(tt.payload))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseState(%q) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("ParseState(%q) error = %v, want ErrInvalidPayload", tt.payload, err)
		}
		if got != tt.want {
			t.Errorf("ParseState(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestParseReading(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	setting := Channel{Name: "brightness", Kind: KindSetting}
	motion := Channel{Name: "motion", Kind: KindBinary}

	r := ParseReading(setting, []byte("128"), at)
	if !r.Numeric || r.Value != 128 || r.Raw != "128" || !r.At.Equal(at) {
		t.Errorf("numeric reading = %+v", r)
	}

	r = ParseReading(Channel{Name: "color", Kind: KindSetting}, []byte("#ff8800"), at)
	if r.Numeric || r.Raw != "#ff8800" {
		t.Errorf("token reading = %+v", r)
	}

	for payload, want := range map[string]float64{"1": 1, "true": 1, "ON": 1, "0": 0, "false": 0} {
		if r := ParseReading(motion, []byte(payload), at); r.Value != want {
			t.Errorf("motion %q = %v, want %v", payload, r.Value, want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	for v, want := range map[float64]string{128: "128", 21.5: "21.5", 0: "0"} {
		if got := FormatValue(v); got != want {
			t.Errorf("FormatValue(%v) = %q, want %q", v, got, want)
		}
	}
}
