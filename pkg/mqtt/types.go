package mqtt

import (
	"fmt"
	"time"
)

// Transport selects how the broker connection is secured.
type Transport string

const (
	TransportPlaintext Transport = "plaintext"
	TransportSecure    Transport = "secure"
)

// DefaultQoS is at-least-once delivery, used for every topic.
const DefaultQoS byte = 1

// Endpoint is one candidate broker. It is a value type and is never mutated
// after it has been handed to a Client.
type Endpoint struct {
	Name               string
	Host               string
	Port               int
	Transport          Transport
	Username           string
	Password           string
	InsecureSkipVerify bool
}

// URL renders the broker address in the form paho expects.
func (e Endpoint) URL() string {
	scheme := "tcp"
	if e.Transport == TransportSecure {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, e.Host, e.Port)
}

func (e Endpoint) String() string {
	if e.Name != "" {
		return e.Name + " (" + e.URL() + ")"
	}
	return e.URL()
}

// HasCredentials reports whether the endpoint authenticates with a username.
func (e Endpoint) HasCredentials() bool {
	return e.Username != ""
}

// Validate checks the endpoint is dialable. Errors wrap ErrConfiguration.
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: endpoint %q has no host", ErrConfiguration, e.Name)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: endpoint %q has invalid port %d", ErrConfiguration, e.Name, e.Port)
	}
	switch e.Transport {
	case TransportPlaintext, TransportSecure:
	default:
		return fmt.Errorf("%w: endpoint %q has unknown transport %q", ErrConfiguration, e.Name, e.Transport)
	}
	return nil
}

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateLost
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLost:
		return "lost"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Message is an inbound publication. Topic is exactly what the broker sent.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        byte
	ReceivedAt time.Time
}

type EventKind string

const (
	EventConnected     EventKind = "connected"
	EventAttemptFailed EventKind = "attempt_failed"
	EventLost          EventKind = "lost"
	EventReconnecting  EventKind = "reconnecting"
	EventExhausted     EventKind = "exhausted"
	EventDisconnected  EventKind = "disconnected"
)

// Event is a connection lifecycle notification.
//
// Attempt is the 1-based candidate index for EventAttemptFailed and the
// reconnect cycle number for EventReconnecting.
type Event struct {
	Kind     EventKind
	Endpoint Endpoint
	Err      error
	Attempt  int
	At       time.Time
}

// Observer consumes inbound messages and lifecycle events.
//
// All calls for one Handle are made from a single goroutine, in the order the
// underlying notifications occurred, so implementations need no locking of
// their own against re-entrant calls.
type Observer interface {
	HandleMessage(msg Message)
	HandleEvent(ev Event)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	OnMessage func(msg Message)
	OnEvent   func(ev Event)
}

func (o ObserverFuncs) HandleMessage(msg Message) {
	if o.OnMessage != nil {
		o.OnMessage(msg)
	}
}

func (o ObserverFuncs) HandleEvent(ev Event) {
	if o.OnEvent != nil {
		o.OnEvent(ev)
	}
}

// MultiObserver forwards every call to each non-nil observer in order. A
// panic in one observer is recovered by the dispatcher and skips the rest
// for that call only.
func MultiObserver(observers ...Observer) Observer {
	var list multiObserver
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) HandleMessage(msg Message) {
	for _, o := range m {
		o.HandleMessage(msg)
	}
}

func (m multiObserver) HandleEvent(ev Event) {
	for _, o := range m {
		o.HandleEvent(ev)
	}
}

// Attempt records one connection try against a candidate.
// Err is nil when the attempt produced a usable session.
type Attempt struct {
	Endpoint Endpoint
	Index    int
	Err      error
	Duration time.Duration
	At       time.Time
}

// AttemptRecorder receives every attempt outcome, successful or not.
type AttemptRecorder interface {
	RecordAttempt(a Attempt)
}
