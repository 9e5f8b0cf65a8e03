package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Use errors.Is to classify anything returned by this package.
var (
	// ErrConfiguration covers malformed endpoints and options.
	ErrConfiguration = errors.New("mqtt: invalid configuration")

	// ErrNoCandidates is returned by Connect when the candidate list is empty.
	ErrNoCandidates = fmt.Errorf("%w: no candidates configured", ErrConfiguration)

	// ErrAuthentication means the broker rejected the credentials. The
	// endpoint is not retried within the same trial.
	ErrAuthentication = errors.New("mqtt: authentication rejected")

	// ErrTransport covers network failures and broker refusals other than auth.
	ErrTransport = errors.New("mqtt: transport failure")

	// ErrTimeout is returned when an operation exceeds its configured bound.
	// It always travels together with ErrTransport.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrSubscription means the broker did not accept the full topic set.
	ErrSubscription = errors.New("mqtt: subscribe failed")

	// ErrNotConnected is returned for operations outside the connected state.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublish is matched by every *PublishError.
	ErrPublish = errors.New("mqtt: publish failed")

	// ErrAlreadyConnecting is returned when a connection attempt is in flight.
	ErrAlreadyConnecting = errors.New("mqtt: connection attempt already in progress")

	// ErrAlreadyConnected is returned by Connect when the client has an open handle.
	ErrAlreadyConnected = errors.New("mqtt: client already has an open handle")

	// ErrAborted is returned when Disconnect interrupts a connection attempt.
	ErrAborted = errors.New("mqtt: connection attempt aborted")

	// ErrClosed is returned for operations on a disconnected handle.
	ErrClosed = errors.New("mqtt: handle closed")
)

// ConnectionFailure aggregates one error per candidate, in trial order.
type ConnectionFailure struct {
	Attempts []Attempt
}

func (f *ConnectionFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mqtt: all %d candidates failed", len(f.Attempts))
	for _, a := range f.Attempts {
		fmt.Fprintf(&b, "; %s: %v", a.Endpoint, a.Err)
	}
	return b.String()
}

// Unwrap exposes every per-candidate error to errors.Is and errors.As.
func (f *ConnectionFailure) Unwrap() []error {
	errs := make([]error, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Endpoints lists the candidates that were tried.
func (f *ConnectionFailure) Endpoints() []Endpoint {
	eps := make([]Endpoint, 0, len(f.Attempts))
	for _, a := range f.Attempts {
		eps = append(eps, a.Endpoint)
	}
	return eps
}

// SubscriptionError lists the topics the broker refused.
type SubscriptionError struct {
	Topics []string
	Err    error
}

func (e *SubscriptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mqtt: subscribe failed for %s: %v", strings.Join(e.Topics, ", "), e.Err)
	}
	return fmt.Sprintf("mqtt: subscribe refused for %s", strings.Join(e.Topics, ", "))
}

func (e *SubscriptionError) Is(target error) bool { return target == ErrSubscription }

func (e *SubscriptionError) Unwrap() error { return e.Err }

// PublishError is a write failure while connected. It is never retried here.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("mqtt: publish to %s failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Is(target error) bool { return target == ErrPublish }

func (e *PublishError) Unwrap() error { return e.Err }

// ErrorClass returns a short label for err, used in logs, metrics and the
// connection journal.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrSubscription):
		return "subscription"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		return "aborted"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrPublish):
		return "publish"
	default:
		return "other"
	}
}
