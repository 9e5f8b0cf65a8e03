// Package mqtt provides the broker connection layer: endpoint selection,
// session lifecycle, automatic reconnection and observer dispatch.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/denwilliams/go-mqtt-homelink/pkg/metrics"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConnectTimeout        = 30 * time.Second
	DefaultKeepAlive             = 60 * time.Second
	DefaultPublishTimeout        = 5 * time.Second
	DefaultReconnectInitialDelay = time.Second
	DefaultReconnectMaxDelay     = 5 * time.Minute
)

var errLostBeforeInstall = fmt.Errorf("%w: connection lost before it was installed", ErrTransport)

// Options configure a Client. Zero durations select the defaults above and a
// zero QoS selects DefaultQoS.
type Options struct {
	Candidates []Endpoint
	ClientID   string
	Topics     []string
	QoS        byte

	ConnectTimeout        time.Duration
	KeepAlive             time.Duration
	PublishTimeout        time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration

	Dialer   Dialer
	Recorder AttemptRecorder
	Logger   *logrus.Logger
}

// Client connects to the first reachable candidate and keeps at most one
// open Handle at a time.
type Client struct {
	selector         *Selector
	reconnectInitial time.Duration
	reconnectMax     time.Duration
	logger           *logrus.Logger

	mu     sync.Mutex
	active *Handle
}

func NewClient(opts Options) (*Client, error) {
	if opts.ClientID == "" {
		return nil, fmt.Errorf("%w: client id is required", ErrConfiguration)
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("%w: invalid QoS %d", ErrConfiguration, opts.QoS)
	}
	for _, ep := range opts.Candidates {
		if err := ep.Validate(); err != nil {
			return nil, err
		}
	}

	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.QoS == 0 {
		opts.QoS = DefaultQoS
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	if opts.ReconnectInitialDelay <= 0 {
		opts.ReconnectInitialDelay = DefaultReconnectInitialDelay
	}
	if opts.ReconnectMaxDelay < opts.ReconnectInitialDelay {
		opts.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	selector := NewSelector(opts.Candidates, opts.Dialer, SessionOptions{
		ClientID:       opts.ClientID,
		Topics:         append([]string(nil), opts.Topics...),
		QoS:            opts.QoS,
		ConnectTimeout: opts.ConnectTimeout,
		KeepAlive:      opts.KeepAlive,
		PublishTimeout: opts.PublishTimeout,
	}, opts.Logger)
	selector.SetRecorder(opts.Recorder)

	return &Client{
		selector:         selector,
		reconnectInitial: opts.ReconnectInitialDelay,
		reconnectMax:     opts.ReconnectMaxDelay,
		logger:           opts.Logger,
	}, nil
}

// Connect runs a full candidate trial and returns a Handle bound to the
// first endpoint that accepts the connection and the topic set.
//
// observer may be nil and can be replaced later with Handle.SetObserver.
// Only one attempt may be in flight: a concurrent call fails with
// ErrAlreadyConnecting, and a call while a Handle is open fails with
// ErrAlreadyConnected.
func (c *Client) Connect(ctx context.Context, observer Observer) (*Handle, error) {
	c.mu.Lock()
	if h := c.active; h != nil {
		c.mu.Unlock()
		if h.State() == StateConnecting {
			return nil, ErrAlreadyConnecting
		}
		return nil, ErrAlreadyConnected
	}

	h := &Handle{
		client:   c,
		dispatch: newDispatcher(observer, c.logger),
		logger:   c.logger,
		state:    StateDisconnected,
	}
	h.mu.Lock()
	gen, attemptCtx := h.beginCycleLocked(ctx)
	h.state = StateConnecting
	h.mu.Unlock()
	c.active = h
	c.mu.Unlock()

	if err := h.runCycle(attemptCtx, gen, StateDisconnected); err != nil {
		if h.abandon() {
			return nil, ErrAborted
		}
		return nil, err
	}
	return h, nil
}

// Active returns the open handle, if any.
func (c *Client) Active() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// State reports the state of the open handle, or StateDisconnected.
func (c *Client) State() ConnectionState {
	if h := c.Active(); h != nil {
		return h.State()
	}
	return StateDisconnected
}

// Endpoint reports the endpoint of the live session.
func (c *Client) Endpoint() (Endpoint, bool) {
	if h := c.Active(); h != nil {
		return h.Endpoint()
	}
	return Endpoint{}, false
}

// Publish forwards to the open handle, failing with ErrNotConnected when
// there is none.
func (c *Client) Publish(topic string, payload []byte) error {
	h := c.Active()
	if h == nil {
		return ErrNotConnected
	}
	return h.Publish(topic, payload)
}

// Reconnect forces a fresh trial on the open handle.
func (c *Client) Reconnect(ctx context.Context) error {
	h := c.Active()
	if h == nil {
		return ErrNotConnected
	}
	return h.Reconnect(ctx)
}

// Disconnect closes the open handle, aborting any attempt in flight.
func (c *Client) Disconnect() {
	if h := c.Active(); h != nil {
		h.Disconnect()
	}
}

// Candidates returns the configured trial order.
func (c *Client) Candidates() []Endpoint {
	return c.selector.Candidates()
}

func (c *Client) release(h *Handle) {
	c.mu.Lock()
	if c.active == h {
		c.active = nil
	}
	c.mu.Unlock()
}

// Handle is the caller's view of a connection. It survives reconnects: when
// the broker connection is lost the handle reports StateLost, notifies its
// observer with EventLost and retries the candidates from the top.
type Handle struct {
	client   *Client
	dispatch *dispatcher
	logger   *logrus.Logger

	mu      sync.Mutex
	state   ConnectionState
	session *Session
	early   map[*Session][]Message
	gen     uint64
	cancel  context.CancelFunc
	closed  bool
	loops   sync.WaitGroup
}

func (h *Handle) State() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Endpoint reports the endpoint of the live session.
func (h *Handle) Endpoint() (Endpoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.session == nil {
		return Endpoint{}, false
	}
	return h.session.Endpoint(), true
}

// SetObserver replaces the observer. Notifications not yet delivered go to
// the new observer.
func (h *Handle) SetObserver(observer Observer) {
	h.dispatch.setObserver(observer)
}

// Done is closed after Disconnect once every pending notification has been
// delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.dispatch.done
}

// Publish sends payload to topic. Outside StateConnected it fails with
// ErrNotConnected and nothing reaches the transport. A transport failure is
// returned as *PublishError and is not retried.
func (h *Handle) Publish(topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrConfiguration)
	}

	h.mu.Lock()
	sess := h.session
	state := h.state
	h.mu.Unlock()

	if state != StateConnected || sess == nil {
		metrics.RecordPublishError(topic, ErrorClass(ErrNotConnected))
		return ErrNotConnected
	}
	return sess.Publish(topic, payload)
}

// Reconnect drops the current session and runs a new trial from the top of
// the candidate list. ctx bounds this trial only: when it fails or ctx ends,
// the handle returns to StateLost and keeps reconnecting with backoff until
// Disconnect.
func (h *Handle) Reconnect(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	if h.state == StateConnecting {
		h.mu.Unlock()
		return ErrAlreadyConnecting
	}
	gen, attemptCtx := h.beginCycleLocked(ctx)
	h.state = StateConnecting
	sess := h.session
	h.session = nil
	h.mu.Unlock()

	if sess != nil {
		sess.Disconnect()
	}

	h.logger.Info("Manual reconnect requested")
	h.dispatch.event(Event{Kind: EventReconnecting, Attempt: 1, At: time.Now()})
	err := h.runCycle(attemptCtx, gen, StateLost)
	if err == nil || errors.Is(err, ErrAborted) {
		return err
	}

	h.mu.Lock()
	if h.closed || h.gen != gen {
		h.mu.Unlock()
		return err
	}
	start := h.recoverLocked(true)
	h.mu.Unlock()

	h.logger.WithError(err).Warn("Manual reconnect failed, resuming automatic reconnection")
	start()
	return err
}

// Disconnect closes the session, aborts any attempt or reconnect loop in
// flight and releases the handle. It never fails; transport errors are
// logged.
func (h *Handle) Disconnect() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.cancel != nil {
		h.cancel()
	}
	sess := h.session
	h.session = nil
	h.early = nil
	h.state = StateDisconnected
	h.mu.Unlock()

	ev := Event{Kind: EventDisconnected, At: time.Now()}
	if sess != nil {
		ev.Endpoint = sess.Endpoint()
		sess.Disconnect()
	}

	h.loops.Wait()
	h.client.release(h)

	h.dispatch.event(ev)
	h.dispatch.close()
}

// abandon closes a handle whose initial trial failed. It reports whether
// Disconnect had already closed it.
func (h *Handle) abandon() bool {
	h.mu.Lock()
	already := h.closed
	h.closed = true
	h.state = StateDisconnected
	h.mu.Unlock()

	h.client.release(h)
	if !already {
		h.dispatch.close()
	}
	return already
}

// beginCycleLocked starts a new connection generation, cancelling the
// previous one. Callers hold h.mu.
func (h *Handle) beginCycleLocked(parent context.Context) (uint64, context.Context) {
	if h.cancel != nil {
		h.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	h.gen++
	h.cancel = cancel
	h.early = nil
	return h.gen, ctx
}

// runCycle performs one trial and installs the resulting session if the
// generation is still current.
func (h *Handle) runCycle(ctx context.Context, gen uint64, failState ConnectionState) error {
	sess, err := h.client.selector.connect(ctx, h.hooks())
	if err != nil {
		h.mu.Lock()
		current := !h.closed && h.gen == gen
		if current {
			h.state = failState
		}
		h.mu.Unlock()

		var failure *ConnectionFailure
		if current && errors.As(err, &failure) {
			h.dispatch.event(Event{Kind: EventExhausted, Err: err, At: time.Now()})
		}
		return err
	}

	h.mu.Lock()
	if h.closed || h.gen != gen {
		h.mu.Unlock()
		sess.Disconnect()
		h.mu.Lock()
		delete(h.early, sess)
		h.mu.Unlock()
		return ErrAborted
	}
	if sess.State() != StateConnected {
		// The connection dropped before installation, so the session never
		// reported the loss to us.
		delete(h.early, sess)
		h.dispatch.event(Event{Kind: EventLost, Endpoint: sess.Endpoint(), Err: errLostBeforeInstall, At: time.Now()})
		start := h.recoverLocked(false)
		h.mu.Unlock()

		h.logger.WithField("endpoint", sess.Endpoint().String()).Warn("Connection lost before it was installed")
		start()
		return nil
	}
	h.session = sess
	h.state = StateConnected
	early := h.early[sess]
	h.early = nil

	// Pushed under h.mu so no message of this session can overtake it.
	h.dispatch.event(Event{Kind: EventConnected, Endpoint: sess.Endpoint(), At: time.Now()})
	for _, msg := range early {
		h.dispatch.message(msg)
	}
	h.mu.Unlock()

	return nil
}

func (h *Handle) hooks() selectorHooks {
	return selectorHooks{
		onMessage: h.handleMessage,
		onLost:    h.handleConnectionLost,
		onAttemptFailed: func(a Attempt) {
			h.dispatch.event(Event{
				Kind:     EventAttemptFailed,
				Endpoint: a.Endpoint,
				Err:      a.Err,
				Attempt:  a.Index,
				At:       time.Now(),
			})
		},
	}
}

func (h *Handle) handleMessage(s *Session, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if h.session == s {
		h.dispatch.message(msg)
		return
	}
	// Retained messages can arrive between SUBACK and installation. Only a
	// session of the trial in flight can still be installed.
	if h.state != StateConnecting {
		return
	}
	if st := s.State(); st != StateConnecting && st != StateConnected {
		return
	}
	if h.early == nil {
		h.early = make(map[*Session][]Message)
	}
	h.early[s] = append(h.early[s], msg)
}

func (h *Handle) handleConnectionLost(s *Session, cause error) {
	h.mu.Lock()
	if h.closed || h.session != s {
		h.mu.Unlock()
		return
	}
	h.dispatch.event(Event{Kind: EventLost, Endpoint: s.Endpoint(), Err: cause, At: time.Now()})
	start := h.recoverLocked(false)
	h.mu.Unlock()

	start()
}

// recoverLocked moves the handle to StateLost and prepares a reconnect loop
// in a new generation. Callers hold h.mu and call the returned func after
// unlocking. With backoffFirst the loop waits the initial delay before its
// first trial.
func (h *Handle) recoverLocked(backoffFirst bool) func() {
	h.session = nil
	h.state = StateLost
	gen, ctx := h.beginCycleLocked(context.Background())
	h.loops.Add(1)
	return func() { go h.reconnectLoop(ctx, gen, backoffFirst) }
}

// reconnectLoop retries full trials until one succeeds, the generation is
// superseded or the handle is closed. Failed cycles back off exponentially.
func (h *Handle) reconnectLoop(ctx context.Context, gen uint64, backoffFirst bool) {
	defer h.loops.Done()

	delay := h.client.reconnectInitial
	if backoffFirst {
		if !sleepContext(ctx, delay) {
			return
		}
		delay = h.nextDelay(delay)
	}
	for cycle := 1; ; cycle++ {
		h.mu.Lock()
		if h.closed || h.gen != gen {
			h.mu.Unlock()
			return
		}
		h.state = StateConnecting
		h.mu.Unlock()

		metrics.RecordReconnectCycle()
		h.logger.WithField("cycle", cycle).Info("Attempting to reconnect...")
		h.dispatch.event(Event{Kind: EventReconnecting, Attempt: cycle, At: time.Now()})

		err := h.runCycle(ctx, gen, StateLost)
		if err == nil {
			if h.State() == StateConnected {
				h.logger.Info("Successfully reconnected")
			}
			return
		}
		if ctx.Err() != nil || errors.Is(err, ErrAborted) {
			return
		}

		h.logger.WithError(err).WithField("retry_in", delay).Warn("Reconnection failed")
		if !sleepContext(ctx, delay) {
			return
		}
		delay = h.nextDelay(delay)
	}
}

func (h *Handle) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > h.client.reconnectMax {
		d = h.client.reconnectMax
	}
	return d
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
