package mqtt

import (
	"context"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// Selector tries an ordered list of candidate endpoints and returns a session
// bound to the first one that accepts the connection.
type Selector struct {
	candidates []Endpoint
	dialer     Dialer
	opts       SessionOptions
	recorder   AttemptRecorder
	logger     *logrus.Logger
}

// NewSelector copies candidates; later changes to the caller's slice have no
// effect on trial order.
func NewSelector(candidates []Endpoint, dialer Dialer, opts SessionOptions, logger *logrus.Logger) *Selector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if dialer == nil {
		dialer = PahoDialer{}
	}

	return &Selector{
		candidates: append([]Endpoint(nil), candidates...),
		dialer:     dialer,
		opts:       opts,
		logger:     logger,
	}
}

// SetRecorder registers a sink for attempt outcomes.
func (s *Selector) SetRecorder(recorder AttemptRecorder) {
	s.recorder = recorder
}

// Candidates returns the configured trial order.
func (s *Selector) Candidates() []Endpoint {
	return append([]Endpoint(nil), s.candidates...)
}

// selectorHooks are wired into every session the selector creates.
type selectorHooks struct {
	onMessage       func(s *Session, msg Message)
	onLost          func(s *Session, cause error)
	onAttemptFailed func(a Attempt)
}

// Connect runs one full trial, always starting with the first candidate.
//
// It returns ErrNoCandidates for an empty list, ctx.Err() when ctx ends
// between attempts, and a *ConnectionFailure holding one Attempt per
// candidate when every candidate failed.
func (s *Selector) Connect(ctx context.Context) (*Session, error) {
	return s.connect(ctx, selectorHooks{})
}

func (s *Selector) connect(ctx context.Context, hooks selectorHooks) (*Session, error) {
	if len(s.candidates) == 0 {
		return nil, ErrNoCandidates
	}

	failure := &ConnectionFailure{}
	for i, ep := range s.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		log := s.logger.WithFields(logrus.Fields{
			"endpoint": ep.String(),
			"attempt":  i + 1,
		})
		log.Info("Connecting to MQTT broker")

		sess := newSession(ep, s.dialer, s.opts, s.logger)
		sess.onMessage = hooks.onMessage
		sess.onLost = hooks.onLost

		start := time.Now()
		err := sess.connect(ctx)
		attempt := Attempt{
			Endpoint: ep,
			Index:    i + 1,
			Err:      err,
			Duration: time.Since(start),
			At:       start,
		}
		s.record(attempt)

		if err == nil {
			metrics.SetConnectionState(endpointLabel(ep), true)
			return sess, nil
		}

		if ctx.Err() != nil {
			// Cancellation is not a property of the candidate.
			return nil, ctx.Err()
		}

		log.WithError(err).WithField("class", ErrorClass(err)).Warn("Connection attempt failed")
		failure.Attempts = append(failure.Attempts, attempt)
		if hooks.onAttemptFailed != nil {
			hooks.onAttemptFailed(attempt)
		}
	}

	s.logger.WithField("candidates", len(s.candidates)).Error("Failed to connect to any MQTT broker")
	return nil, failure
}

func (s *Selector) record(a Attempt) {
	metrics.RecordAttempt(endpointLabel(a.Endpoint), ErrorClass(a.Err), a.Duration.Seconds())
	if s.recorder != nil {
		s.recorder.RecordAttempt(a)
	}
}
