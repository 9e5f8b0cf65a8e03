package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

func TestErrorClass(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"no candidates", ErrNoCandidates, "configuration"},
		{"auth", errBadCreds, "authentication"},
		{"subscription", &SubscriptionError{Topics: []string{"a"}}, "subscription"},
		{"timeout", fmt.Errorf("%w: %w", ErrTransport, ErrTimeout), "timeout"},
		{"aborted", ErrAborted, "aborted"},
		{"cancelled", context.Canceled, "aborted"},
		{"transport", errRefused, "transport"},
		{"not connected", ErrNotConnected, "not_connected"},
		{"publish", &PublishError{Topic: "t", Err: errors.New("x")}, "publish"},
		{"other", errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorClass(tt.err); got != tt.want {
				t.Errorf("ErrorClass(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad credentials", packets.ErrorRefusedBadUsernameOrPassword, ErrAuthentication},
		{"not authorised", packets.ErrorRefusedNotAuthorised, ErrAuthentication},
		{"server unavailable", packets.ErrorRefusedServerUnavailable, ErrTransport},
		{"network", errors.New("dial tcp: connection refused"), ErrTransport},
		{"timeout", fmt.Errorf("%w: %w", ErrTransport, ErrTimeout), ErrTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyConnectError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyConnectError(%v) = %v, want %v", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("classification lost the original error: %v", got)
			}
		})
	}
}

func TestConnectionFailureMessage(t *testing.T) {
	eps := endpoints("local", "tls")
	failure := &ConnectionFailure{Attempts: []Attempt{
		{Endpoint: eps[0], Index: 1, Err: errRefused},
		{Endpoint: eps[1], Index: 2, Err: errBadCreds},
	}}

	msg := failure.Error()
	for _, want := range []string{"all 2 candidates failed", "local", "tls", "connection refused", "bad user name"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !isAny(failure, ErrTransport) || !isAny(failure, ErrAuthentication) {
		t.Error("aggregate should match each candidate error")
	}
	if isAny(failure, ErrSubscription, ErrTimeout) {
		t.Error("aggregate matched an error no candidate produced")
	}
}

func TestSubscriptionErrorMatchesSentinel(t *testing.T) {
	cause := errors.New("SUBACK timeout")
	err := fmt.Errorf("connect: %w", &SubscriptionError{Topics: []string{"b", "a"}, Err: cause})

	if !errors.Is(err, ErrSubscription) || !errors.Is(err, cause) {
		t.Errorf("SubscriptionError should match sentinel and cause: %v", err)
	}

	var serr *SubscriptionError
	if !errors.As(err, &serr) || len(serr.Topics) != 2 {
		t.Errorf("errors.As failed for %v", err)
	}
}
