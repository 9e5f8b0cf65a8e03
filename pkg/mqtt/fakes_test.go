package mqtt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var (
	errRefused  = fmt.Errorf("%w: connection refused", ErrTransport)
	errBadCreds = fmt.Errorf("%w: bad user name or password", ErrAuthentication)
)

type published struct {
	topic   string
	qos     byte
	payload string
}

// Mock connection for testing
type mockConn struct {
	mu           sync.Mutex
	endpoint     Endpoint
	handlers     ConnHandlers
	subscribed   map[string]byte
	subscribeErr error
	publishErr   error
	published    []published
	closed       int
}

func (c *mockConn) Subscribe(ctx context.Context, filters map[string]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subscribed = make(map[string]byte, len(filters))
	for topic, qos := range filters {
		c.subscribed[topic] = qos
	}
	return nil
}

func (c *mockConn) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, published{topic: topic, qos: qos, payload: string(payload)})
	return nil
}

func (c *mockConn) Close(quiesce time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *mockConn) deliver(topic, payload string) {
	c.handlers.OnMessage(topic, []byte(payload), 1)
}

func (c *mockConn) drop(cause error) {
	c.handlers.OnLost(cause)
}

func (c *mockConn) publishes() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.published...)
}

func (c *mockConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Mock dialer for testing. outcomes queues one dial result per call for an
// endpoint name; an empty queue means the dial succeeds.
type mockDialer struct {
	mu           sync.Mutex
	outcomes     map[string][]error
	subscribeErr map[string]error
	dials        []string
	conns        []*mockConn
	options      []DialOptions

	// hold, when set, blocks each dial until it is closed or ctx ends.
	hold chan struct{}
	// ignoreCtx returns a connection even when ctx ended while holding.
	ignoreCtx bool
	entered   chan struct{}
}

func newMockDialer() *mockDialer {
	return &mockDialer{
		outcomes:     make(map[string][]error),
		subscribeErr: make(map[string]error),
		entered:      make(chan struct{}, 16),
	}
}

func (d *mockDialer) fail(name string, errs ...error) *mockDialer {
	d.outcomes[name] = append(d.outcomes[name], errs...)
	return d
}

func (d *mockDialer) Dial(ctx context.Context, ep Endpoint, opts DialOptions, h ConnHandlers) (Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, ep.Name)
	d.options = append(d.options, opts)
	var err error
	if queue := d.outcomes[ep.Name]; len(queue) > 0 {
		err = queue[0]
		d.outcomes[ep.Name] = queue[1:]
	}
	hold := d.hold
	d.mu.Unlock()

	select {
	case d.entered <- struct{}{}:
	default:
	}

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			if !d.ignoreCtx {
				return nil, ctx.Err()
			}
		}
	}

	if err != nil {
		return nil, err
	}

	conn := &mockConn{endpoint: ep, handlers: h}
	d.mu.Lock()
	conn.subscribeErr = d.subscribeErr[ep.Name]
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *mockDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

func (d *mockDialer) conn(i int) *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// recordingObserver collects everything it is handed and flags overlapping
// calls.
type recordingObserver struct {
	mu         sync.Mutex
	messages   []Message
	events     []Event
	inFlight   int
	overlapped bool
	delay      time.Duration
}

func (o *recordingObserver) enter() {
	o.mu.Lock()
	o.inFlight++
	if o.inFlight > 1 {
		o.overlapped = true
	}
	o.mu.Unlock()
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
}

func (o *recordingObserver) leave() {
	o.mu.Lock()
	o.inFlight--
	o.mu.Unlock()
}

func (o *recordingObserver) HandleMessage(msg Message) {
	o.enter()
	defer o.leave()
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
}

func (o *recordingObserver) HandleEvent(ev Event) {
	o.enter()
	defer o.leave()
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *recordingObserver) kinds() []EventKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	kinds := make([]EventKind, 0, len(o.events))
	for _, ev := range o.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (o *recordingObserver) received() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func endpoints(names ...string) []Endpoint {
	eps := make([]Endpoint, 0, len(names))
	for i, name := range names {
		eps = append(eps, Endpoint{
			Name:      name,
			Host:      "192.168.1.100",
			Port:      1883 + i,
			Transport: TransportPlaintext,
		})
	}
	return eps
}

func newTestClient(t *testing.T, dialer Dialer, names ...string) *Client {
	t.Helper()
	client, err := NewClient(Options{
		Candidates:            endpoints(names...),
		ClientID:              "test-client",
		Topics:                []string{"home/light/state", "home/light/brightness", "home/light/status"},
		ConnectTimeout:        time.Second,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     20 * time.Millisecond,
		Dialer:                dialer,
		Logger:                quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
