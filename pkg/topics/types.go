package topics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Prefix is the root of the device topic namespace.
const Prefix = "home"

type Kind string

const (
	KindState     Kind = "state"     // ON/OFF power state
	KindCommand   Kind = "command"   // outbound only
	KindSetting   Kind = "setting"   // decimal, both directions
	KindTelemetry Kind = "telemetry" // decimal or token, inbound
	KindBinary    Kind = "binary"    // 1/0 style sensors such as motion
	KindStatus    Kind = "status"    // free text, both directions
)

var (
	ErrUnknownDevice  = errors.New("unknown device variant")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnsupported    = errors.New("channel not supported by device")
	ErrInvalidPayload = errors.New("invalid payload")
)

type Channel struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`
}

// Inbound reports whether the channel is part of the subscription set.
func (c Channel) Inbound() bool {
	return c.Kind != KindCommand
}

var variants = map[string][]Channel{
	"smartlight": {
		{Name: "state", Kind: KindState},
		{Name: "command", Kind: KindCommand},
		{Name: "brightness", Kind: KindSetting},
		{Name: "color", Kind: KindSetting},
		{Name: "ambient", Kind: KindTelemetry},
		{Name: "motion", Kind: KindBinary},
		{Name: "status", Kind: KindStatus},
	},
	"weatherstation": {
		{Name: "temperature", Kind: KindTelemetry},
		{Name: "humidity", Kind: KindTelemetry},
		{Name: "status", Kind: KindStatus},
		{Name: "data", Kind: KindStatus},
	},
}

// Variants lists the built-in device names.
func Variants() []string {
	return []string{"smartlight", "weatherstation"}
}

// Device is a named set of channels under home/<device>/.
type Device struct {
	Name     string
	Channels []Channel
}

// NewDevice returns the built-in variant called name with extra telemetry
// channels appended. An unknown name is accepted when extra is not empty;
// those devices are custom topic sets.
func NewDevice(name string, extra ...string) (Device, error) {
	if name == "" || strings.ContainsAny(name, "/+#") {
		return Device{}, fmt.Errorf("%w: invalid device name %q", ErrUnknownDevice, name)
	}

	base, known := variants[name]
	if !known && len(extra) == 0 {
		return Device{}, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}

	d := Device{Name: name, Channels: append([]Channel(nil), base...)}
	for _, ch := range extra {
		if ch == "" || strings.ContainsAny(ch, "/+#") {
			return Device{}, fmt.Errorf("%w: invalid channel name %q", ErrUnknownChannel, ch)
		}
		if _, exists := d.Channel(ch); exists {
			continue
		}
		d.Channels = append(d.Channels, Channel{Name: ch, Kind: KindTelemetry})
	}
	return d, nil
}

// Topic renders home/<device>/<channel>.
func (d Device) Topic(channel string) string {
	return Prefix + "/" + d.Name + "/" + channel
}

func (d Device) Channel(name string) (Channel, bool) {
	for _, ch := range d.Channels {
		if ch.Name == name {
			return ch, true
		}
	}
	return Channel{}, false
}

// Subscriptions returns the inbound topics in channel order.
func (d Device) Subscriptions() []string {
	topics := make([]string, 0, len(d.Channels))
	for _, ch := range d.Channels {
		if ch.Inbound() {
			topics = append(topics, d.Topic(ch.Name))
		}
	}
	return topics
}

// Resolve maps a received topic back to one of the device's channels.
func (d Device) Resolve(topic string) (Channel, bool) {
	device, channel, ok := ParseTopic(topic)
	if !ok || device != d.Name {
		return Channel{}, false
	}
	return d.Channel(channel)
}

// ParseTopic splits home/<device>/<channel>.
func ParseTopic(topic string) (device, channel string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != Prefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Reading is the decoded value of a setting, telemetry or binary channel.
type Reading struct {
	Channel string    `json:"channel"`
	Kind    Kind      `json:"kind"`
	Value   float64   `json:"value"`
	Numeric bool      `json:"numeric"`
	Raw     string    `json:"raw"`
	At      time.Time `json:"at"`
}

// DeviceState is the latest value seen per channel. It is a cache, not a
// history.
type DeviceState struct {
	Device     string             `json:"device"`
	Power      *bool              `json:"power,omitempty"`
	Readings   map[string]Reading `json:"readings"`
	Status     map[string]string  `json:"status"`
	Connected  bool               `json:"connected"`
	Endpoint   string             `json:"endpoint,omitempty"`
	LastUpdate time.Time          `json:"last_update"`
}

func (s DeviceState) clone() DeviceState {
	out := s
	if s.Power != nil {
		p := *s.Power
		out.Power = &p
	}
	out.Readings = make(map[string]Reading, len(s.Readings))
	for k, v := range s.Readings {
		out.Readings[k] = v
	}
	out.Status = make(map[string]string, len(s.Status))
	for k, v := range s.Status {
		out.Status[k] = v
	}
	return out
}
