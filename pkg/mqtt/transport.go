package mqtt

import (
	"context"
	"time"
)

// Conn is an open broker connection. Implementations must be safe for
// concurrent use.
type Conn interface {
	// Subscribe subscribes to every filter or fails as a whole.
	Subscribe(ctx context.Context, filters map[string]byte) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	// Close releases the connection, waiting up to quiesce for in-flight work.
	Close(quiesce time.Duration) error
}

// ConnHandlers are invoked by a Conn from its own goroutines.
type ConnHandlers struct {
	OnMessage func(topic string, payload []byte, qos byte)
	OnLost    func(cause error)
}

// DialOptions are the per-connection session settings.
type DialOptions struct {
	ClientID       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	CleanSession   bool
}

// Dialer opens connections. Dial must honour ctx and must not leak the
// underlying transport when it returns an error.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint, opts DialOptions, h ConnHandlers) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, ep Endpoint, opts DialOptions, h ConnHandlers) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint, opts DialOptions, h ConnHandlers) (Conn, error) {
	return f(ctx, ep, opts, h)
}
