// Package eventfeed broadcasts session events to websocket observers.
package eventfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/metrics"
	"github.com/rbright/hark/internal/session"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultPingInterval = 20 * time.Second
	defaultClientBuffer = 64
	maxInboundBytes     = 512
)

// Option customizes a Hub.
type Option func(*Hub)

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithPingInterval sets the keepalive ping cadence.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithClientBuffer sets how many frames may queue per observer before it is dropped.
func WithClientBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.clientBuffer = n
		}
	}
}

// Hub fans session events out to every connected observer. Observers are
// read-only; a client that cannot keep up is disconnected.
type Hub struct {
	log     zerolog.Logger
	metrics *metrics.Metrics

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	clientBuffer int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds an empty hub.
func NewHub(log zerolog.Logger, m *metrics.Metrics, opts ...Option) *Hub {
	h := &Hub{
		log:     log.With().Str("component", "eventfeed").Logger(),
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		clientBuffer: defaultClientBuffer,
		clients:      make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams events until either side closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "event feed closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("event feed upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxInboundBytes)

	c := &client{conn: conn, send: make(chan []byte, h.clientBuffer)}
	if !h.add(c) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(h.writeTimeout))
		return
	}
	h.log.Debug().Str("remote", r.RemoteAddr).Msg("event feed observer connected")

	go h.readLoop(c)
	if err := h.writeLoop(c); err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("event feed observer write failed")
	}
	h.remove(c)
}

// Broadcast encodes ev once and queues it for every observer.
func (h *Hub) Broadcast(ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.dropLocked(c)
			h.metrics.FeedDropped()
			h.log.Warn().Msg("event feed observer fell behind; disconnecting")
		}
	}
	return nil
}

// Clients reports the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every observer with a normal closure and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.metrics.FeedClients(1)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

// dropLocked closes c.send exactly once; the writer loop observes it and exits.
func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.metrics.FeedClients(-1)
}

// readLoop discards inbound frames and unregisters the client once the peer goes away.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) error {
	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				deadline := time.Now().Add(h.writeTimeout)
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return nil
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
				return err
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return err
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return err
			}
		}
	}
}
