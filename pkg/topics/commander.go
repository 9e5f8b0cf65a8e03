package topics

import (
	"fmt"
)

// Publisher is satisfied by *mqtt.Client and *mqtt.Handle.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Commander publishes control messages for one device. Errors are returned
// unchanged so a UI can revert an optimistic toggle.
type Commander struct {
	device    Device
	publisher Publisher
}

func NewCommander(device Device, publisher Publisher) *Commander {
	return &Commander{device: device, publisher: publisher}
}

func (c *Commander) SetPower(on bool) error {
	payload := "OFF"
	if on {
		payload = "ON"
	}
	return c.command(payload)
}

// RequestStatus asks the device to publish its status channel.
func (c *Commander) RequestStatus() error {
	return c.command("STATUS")
}

func (c *Commander) SetSetting(name string, value float64) error {
	ch, ok := c.device.Channel(name)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownChannel, c.device.Name, name)
	}
	if ch.Kind != KindSetting {
		return fmt.Errorf("%w: %s is %s, not a setting", ErrUnsupported, name, ch.Kind)
	}
	return c.publisher.Publish(c.device.Topic(name), []byte(FormatValue(value)))
}

func (c *Commander) SetStatus(text string) error {
	ch, ok := c.device.Channel("status")
	if !ok || ch.Kind != KindStatus {
		return fmt.Errorf("%w: %s has no status channel", ErrUnsupported, c.device.Name)
	}
	return c.publisher.Publish(c.device.Topic("status"), []byte(text))
}

// Send publishes one of the command payloads ON, OFF or STATUS.
func (c *Commander) Send(command string) error {
	switch command {
	case "ON", "OFF", "STATUS":
		return c.command(command)
	default:
		return fmt.Errorf("%w: command %q", ErrInvalidPayload, command)
	}
}

func (c *Commander) command(payload string) error {
	if _, ok := c.device.Channel("command"); !ok {
		return fmt.Errorf("%w: %s has no command channel", ErrUnsupported, c.device.Name)
	}
	return c.publisher.Publish(c.device.Topic("command"), []byte(payload))
}
