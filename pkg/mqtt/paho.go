package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

const (
	pingTimeout   = 10 * time.Second
	tlsMinVersion = tls.VersionTLS12

	// subscribeFailure is the SUBACK return code for a refused filter.
	subscribeFailure = 0x80
)

// PahoDialer connects through github.com/eclipse/paho.mqtt.golang.
//
// Paho's own reconnect logic is disabled; reconnection is driven by Handle so
// that every cycle restarts at the top of the candidate list.
type PahoDialer struct{}

func (PahoDialer) Dial(ctx context.Context, ep Endpoint, opts DialOptions, h ConnHandlers) (Conn, error) {
	o := buildClientOptions(ep, opts)

	o.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if h.OnMessage != nil {
			h.OnMessage(msg.Topic(), msg.Payload(), msg.Qos())
		}
	})
	o.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if h.OnLost != nil {
			h.OnLost(err)
		}
	})

	client := pahomqtt.NewClient(o)

	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	if err := waitToken(dialCtx, client.Connect()); err != nil {
		// Release sockets and goroutines of a half-open client.
		client.Disconnect(0)
		return nil, classifyConnectError(err)
	}

	return &pahoConn{client: client}, nil
}

func buildClientOptions(ep Endpoint, opts DialOptions) *pahomqtt.ClientOptions {
	o := pahomqtt.NewClientOptions()
	o.AddBroker(ep.URL())
	o.SetClientID(opts.ClientID)

	if ep.HasCredentials() {
		o.SetUsername(ep.Username)
		o.SetPassword(ep.Password)
	}

	o.SetCleanSession(opts.CleanSession)
	o.SetAutoReconnect(false)
	o.SetConnectRetry(false)
	o.SetConnectTimeout(opts.ConnectTimeout)
	o.SetKeepAlive(opts.KeepAlive)
	o.SetPingTimeout(pingTimeout)

	if ep.Transport == TransportSecure {
		o.SetTLSConfig(&tls.Config{
			MinVersion:         tlsMinVersion,
			ServerName:         ep.Host,
			InsecureSkipVerify: ep.InsecureSkipVerify, //nolint:gosec // opt-in per endpoint
		})
	}

	return o
}

// waitToken blocks until the token completes or ctx ends.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTransport, ErrTimeout)
		}
		return ctx.Err()
	}
}

func classifyConnectError(err error) error {
	switch {
	case errors.Is(err, ErrTransport), errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}

type pahoConn struct {
	client pahomqtt.Client
}

func (c *pahoConn) Subscribe(ctx context.Context, filters map[string]byte) error {
	token := c.client.SubscribeMultiple(filters, nil)
	if err := waitToken(ctx, token); err != nil {
		return &SubscriptionError{Topics: sortedTopics(filters), Err: err}
	}

	st, ok := token.(*pahomqtt.SubscribeToken)
	if !ok {
		return nil
	}

	var refused []string
	for topic, code := range st.Result() {
		if code == subscribeFailure {
			refused = append(refused, topic)
		}
	}
	if len(refused) > 0 {
		sort.Strings(refused)
		return &SubscriptionError{Topics: refused}
	}
	return nil
}

func (c *pahoConn) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	return waitToken(ctx, c.client.Publish(topic, qos, false, payload))
}

func (c *pahoConn) Close(quiesce time.Duration) error {
	if !c.client.IsConnectionOpen() {
		return nil
	}
	c.client.Disconnect(uint(quiesce / time.Millisecond))
	return nil
}

func sortedTopics(filters map[string]byte) []string {
	topics := make([]string, 0, len(filters))
	for t := range filters {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
