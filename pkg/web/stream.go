package web

import (
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/denwilliams/go-mqtt-homelink/pkg/mqtt"
	gws "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

// StreamFrame is one JSON frame on /api/events.
type StreamFrame struct {
	Type     string    `json:"type"`
	Topic    string    `json:"topic,omitempty"`
	Payload  string    `json:"payload,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	Endpoint string    `json:"endpoint,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Hub fans inbound messages and lifecycle events out to websocket clients.
// It implements mqtt.Observer. Slow clients lose frames rather than stall
// the dispatcher.
type Hub struct {
	upgrader gws.Upgrader
	logger   *logrus.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *gws.Conn
	send chan StreamFrame
	once sync.Once
}

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		upgrader: gws.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: map[*streamClient]struct{}{},
	}
}

func (h *Hub) HandleMessage(msg mqtt.Message) {
	frame := StreamFrame{
		Type:    "message",
		Topic:   msg.Topic,
		Payload: string(msg.Payload),
		At:      msg.ReceivedAt,
	}
	if !utf8.Valid(msg.Payload) {
		frame.Payload = ""
		frame.Error = "binary payload"
	}
	h.broadcast(frame)
}

func (h *Hub) HandleEvent(ev mqtt.Event) {
	h.broadcast(StreamFrame{
		Type:     "event",
		Kind:     string(ev.Kind),
		Endpoint: ev.Endpoint.Name,
		Attempt:  ev.Attempt,
		Error:    errString(ev.Err),
		At:       ev.At,
	})
}

// Clients reports the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	c := &streamClient{conn: conn, send: make(chan StreamFrame, streamBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.WithField("remote", r.RemoteAddr).Debug("Event stream client connected")

	go h.writeLoop(c)

	// Reads only serve to notice the peer going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = map[*streamClient]struct{}{}
	h.mu.Unlock()

	for c := range clients {
		c.stop()
	}
}

func (h *Hub) register(c *streamClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.stop()
}

func (h *Hub) broadcast(frame StreamFrame) {
	if frame.At.IsZero() {
		frame.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.logger.Debug("Event stream client is slow, dropping frame")
		}
	}
}

func (h *Hub) writeLoop(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// stop closes the send queue once; writeLoop then closes the socket.
func (c *streamClient) stop() {
	c.once.Do(func() { close(c.send) })
}
