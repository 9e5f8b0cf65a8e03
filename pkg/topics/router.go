package topics

import (
	"errors"
	"sync"

	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
	"github.com/sirupsen/logrus"
)

// Handler receives decoded device updates. Calls are made from the handle's
// dispatcher goroutine, one at a time.
type Handler interface {
	OnState(on bool)
	OnReading(r Reading)
	OnStatus(channel, text string)
	OnLifecycle(ev mqtt.Event)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	State     func(on bool)
	Reading   func(r Reading)
	Status    func(channel, text string)
	Lifecycle func(ev mqtt.Event)
}

func (h HandlerFuncs) OnState(on bool) {
	if h.State != nil {
		h.State(on)
	}
}

func (h HandlerFuncs) OnReading(r Reading) {
	if h.Reading != nil {
		h.Reading(r)
	}
}

func (h HandlerFuncs) OnStatus(channel, text string) {
	if h.Status != nil {
		h.Status(channel, text)
	}
}

func (h HandlerFuncs) OnLifecycle(ev mqtt.Event) {
	if h.Lifecycle != nil {
		h.Lifecycle(ev)
	}
}

// Router is an mqtt.Observer that decodes messages for one device, keeps the
// latest value per channel and forwards typed callbacks to a Handler.
type Router struct {
	device  Device
	handler Handler
	logger  *logrus.Logger

	mutex sync.RWMutex
	state DeviceState
}

func NewRouter(device Device, handler Handler, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	return &Router{
		device:  device,
		handler: handler,
		logger:  logger,
		state: DeviceState{
			Device:   device.Name,
			Readings: make(map[string]Reading),
			Status:   make(map[string]string),
		},
	}
}

func (r *Router) Device() Device {
	return r.device
}

// Snapshot returns a copy of the cached device state.
func (r *Router) Snapshot() DeviceState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.clone()
}

func (r *Router) HandleMessage(msg mqtt.Message) {
	ch, ok := r.device.Resolve(msg.Topic)
	if !ok {
		r.logger.WithField("topic", msg.Topic).Debug("Ignoring message for unknown topic")
		return
	}

	switch ch.Kind {
	case KindState:
		on, err := ParseState(msg.Payload)
		if err != nil {
			r.logger.WithError(err).WithField("topic", msg.Topic).Warn("Invalid state payload")
			return
		}
		r.mutex.Lock()
		r.state.Power = &on
		r.state.LastUpdate = msg.ReceivedAt
		r.mutex.Unlock()
		r.handler.OnState(on)

	case KindSetting, KindTelemetry, KindBinary:
		reading := ParseReading(ch, msg.Payload, msg.ReceivedAt)
		r.mutex.Lock()
		r.state.Readings[ch.Name] = reading
		r.state.LastUpdate = msg.ReceivedAt
		r.mutex.Unlock()
		r.handler.OnReading(reading)

	case KindStatus:
		text := string(msg.Payload)
		r.mutex.Lock()
		r.state.Status[ch.Name] = text
		r.state.LastUpdate = msg.ReceivedAt
		r.mutex.Unlock()
		r.handler.OnStatus(ch.Name, text)

	default:
		// Our own commands echoed back by the broker.
		r.logger.WithField("topic", msg.Topic).Debug("Ignoring outbound channel")
	}
}

func (r *Router) HandleEvent(ev mqtt.Event) {
	fields := logrus.Fields{"event": ev.Kind}
	if ev.Endpoint.Host != "" {
		fields["endpoint"] = ev.Endpoint.String()
	}

	r.mutex.Lock()
	switch ev.Kind {
	case mqtt.EventConnected:
		r.state.Connected = true
		r.state.Endpoint = ev.Endpoint.String()
	case mqtt.EventLost, mqtt.EventDisconnected:
		r.state.Connected = false
		r.state.Endpoint = ""
	}
	r.mutex.Unlock()

	entry := r.logger.WithFields(fields)
	switch ev.Kind {
	case mqtt.EventAttemptFailed:
		if errors.Is(ev.Err, mqtt.ErrAuthentication) {
			entry.WithError(ev.Err).Error("Broker rejected credentials")
		} else {
			entry.WithError(ev.Err).Warn("Connection attempt failed")
		}
	case mqtt.EventLost, mqtt.EventExhausted:
		entry.WithError(ev.Err).Warn("Connection lifecycle")
	default:
		entry.Info("Connection lifecycle")
	}

	r.handler.OnLifecycle(ev)
}
