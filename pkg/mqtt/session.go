package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/metrics"
	"github.com/sirupsen/logrus"
)

const disconnectQuiesce = 250 * time.Millisecond

// SessionOptions are shared by every session a Client opens.
type SessionOptions struct {
	ClientID       string
	Topics         []string
	QoS            byte
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	PublishTimeout time.Duration
}

// Session owns one live connection to a single endpoint.
type Session struct {
	endpoint Endpoint
	opts     SessionOptions
	dialer   Dialer
	logger   *logrus.Entry

	onMessage func(s *Session, msg Message)
	onLost    func(s *Session, cause error)

	conn       Conn
	subscribed []string
	state      ConnectionState
	stateMutex sync.RWMutex
}

func newSession(ep Endpoint, dialer Dialer, opts SessionOptions, logger *logrus.Logger) *Session {
	return &Session{
		endpoint: ep,
		opts:     opts,
		dialer:   dialer,
		logger:   logger.WithField("endpoint", ep.String()),
		state:    StateDisconnected,
	}
}

// connect dials the endpoint and subscribes the full topic set. The session
// is only usable when every subscription succeeded; otherwise the connection
// is released and the error returned.
func (s *Session) connect(ctx context.Context) error {
	s.stateMutex.Lock()
	if s.state != StateDisconnected {
		s.stateMutex.Unlock()
		return fmt.Errorf("session for %s is %s", s.endpoint, s.state)
	}
	s.state = StateConnecting
	s.stateMutex.Unlock()

	s.logger.Debug("Connecting to MQTT broker")

	conn, err := s.dialer.Dial(ctx, s.endpoint, DialOptions{
		ClientID:       s.opts.ClientID,
		ConnectTimeout: s.opts.ConnectTimeout,
		KeepAlive:      s.opts.KeepAlive,
		CleanSession:   true,
	}, ConnHandlers{
		OnMessage: s.handleMessage,
		OnLost:    s.handleConnectionLost,
	})
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	// From here on conn is ours: every failure path must close it.
	usable := false
	defer func() {
		if !usable {
			if cerr := conn.Close(0); cerr != nil {
				s.logger.WithError(cerr).Warn("Failed to release connection")
			}
			s.setState(StateDisconnected)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	filters := make(map[string]byte, len(s.opts.Topics))
	for _, topic := range s.opts.Topics {
		filters[topic] = s.opts.QoS
	}

	subCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()
	if err := conn.Subscribe(subCtx, filters); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	s.stateMutex.Lock()
	if s.state != StateConnecting {
		// Lost while subscribing.
		s.stateMutex.Unlock()
		return fmt.Errorf("%w: connection lost during subscribe", ErrTransport)
	}
	s.conn = conn
	s.subscribed = append([]string(nil), s.opts.Topics...)
	s.state = StateConnected
	s.stateMutex.Unlock()

	usable = true
	s.logger.WithField("topics", len(filters)).Info("Connected to MQTT broker")
	return nil
}

// Publish sends payload at the session QoS. It fails with ErrNotConnected
// unless the session is connected, and never retries.
func (s *Session) Publish(topic string, payload []byte) error {
	s.stateMutex.RLock()
	conn := s.conn
	state := s.state
	s.stateMutex.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PublishTimeout)
	defer cancel()

	start := time.Now()
	if err := conn.Publish(ctx, topic, s.opts.QoS, payload); err != nil {
		perr := &PublishError{Topic: topic, Err: err}
		metrics.RecordPublishError(topic, ErrorClass(err))
		s.logger.WithError(err).WithField("topic", topic).Warn("Publish failed")
		return perr
	}

	metrics.RecordPublish(topic, time.Since(start).Seconds())
	s.logger.WithField("topic", topic).Debugf("Published %d bytes", len(payload))
	return nil
}

// Disconnect closes the connection. Errors are logged and never returned.
func (s *Session) Disconnect() {
	s.stateMutex.Lock()
	conn := s.conn
	s.conn = nil
	wasConnected := s.state == StateConnected
	s.state = StateDisconnected
	s.stateMutex.Unlock()

	if conn == nil {
		return
	}

	if err := conn.Close(disconnectQuiesce); err != nil {
		s.logger.WithError(err).Warn("Error while disconnecting from MQTT broker")
	}
	if wasConnected {
		metrics.SetConnectionState(endpointLabel(s.endpoint), false)
	}
	s.logger.Info("Disconnected from MQTT broker")
}

func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

func (s *Session) State() ConnectionState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// Topics returns the subscribed topic set.
func (s *Session) Topics() []string {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return append([]string(nil), s.subscribed...)
}

func (s *Session) setState(state ConnectionState) {
	s.stateMutex.Lock()
	s.state = state
	s.stateMutex.Unlock()
}

func (s *Session) handleMessage(topic string, payload []byte, qos byte) {
	metrics.RecordReceive(topic)

	if s.onMessage == nil {
		return
	}
	s.onMessage(s, Message{
		Topic:      topic,
		Payload:    payload,
		QoS:        qos,
		ReceivedAt: time.Now(),
	})
}

func (s *Session) handleConnectionLost(cause error) {
	s.stateMutex.Lock()
	prev := s.state
	if prev == StateDisconnected {
		s.stateMutex.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.state = StateLost
	s.stateMutex.Unlock()

	if conn != nil {
		if err := conn.Close(0); err != nil {
			s.logger.WithError(err).Debug("Error releasing lost connection")
		}
	}

	if prev != StateConnected {
		return
	}

	metrics.SetConnectionState(endpointLabel(s.endpoint), false)
	metrics.RecordConnectionLost(endpointLabel(s.endpoint))
	s.logger.WithError(cause).Warn("Connection lost")

	if s.onLost != nil {
		s.onLost(s, cause)
	}
}

func endpointLabel(ep Endpoint) string {
	if ep.Name != "" {
		return ep.Name
	}
	return ep.URL()
}
