package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("realtime hub closed")

// Hub tracks websocket connections and their channel subscriptions.
type Hub struct {
	auth     *ChannelAuthorizer
	logger   *slog.Logger
	upgrader websocket.Upgrader
	conns    prometheus.Gauge

	mu       sync.RWMutex
	clients  map[*client]struct{}
	channels map[string]map[*client]struct{}
	closed   bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithConnectionGauge reports the number of open connections to g.
func WithConnectionGauge(g prometheus.Gauge) HubOption {
	return func(h *Hub) { h.conns = g }
}

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func NewHub(auth *ChannelAuthorizer, logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		auth:   auth,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:  make(map[*client]struct{}),
		channels: make(map[string]map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]struct{}),
	}
	if !h.add(c) {
		conn.Close()
		return
	}

	h.logger.Debug("websocket connected", "socket_id", c.id, "remote", r.RemoteAddr)
	c.reply("", EventConnectionEstablished, map[string]string{"socketId": c.id})

	go c.writePump()
	c.readPump()
}

// Publish delivers an event to every local subscriber of channel.
func (h *Hub) Publish(_ context.Context, channel, event string, payload any) error {
	frame, err := encode(channel, event, payload)
	if err != nil {
		return err
	}
	return h.deliver(channel, frame)
}

// Subscribers returns the number of local subscribers of channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Close disconnects every client. Later publishes fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) deliver(channel string, frame []byte) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	var slow []*client
	for c := range h.channels[channel] {
		select {
		case c.send <- frame:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", "socket_id", c.id, "channel", channel)
		h.remove(c)
	}
	return nil
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	if h.conns != nil {
		h.conns.Inc()
	}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for ch := range c.subs {
		h.unsubscribeLocked(c, ch)
	}
	if h.conns != nil {
		h.conns.Dec()
	}
	h.mu.Unlock()

	close(c.send)
}

func (h *Hub) subscribe(c *client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*client]struct{})
		h.channels[channel] = subs
	}
	subs[c] = struct{}{}
	c.subs[channel] = struct{}{}
}

func (h *Hub) unsubscribe(c *client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(c, channel)
}

func (h *Hub) unsubscribeLocked(c *client, channel string) {
	delete(c.subs, channel)
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}

// client is one websocket connection. subs is guarded by hub.mu.
type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]struct{}
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		c.hub.logger.Debug("websocket disconnected", "socket_id", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "socket_id", c.id, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply("", EventSubscriptionError, map[string]string{"error": "malformed message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg Message) {
	switch msg.Event {
	case EventPing:
		c.reply("", EventPong, nil)

	case EventSubscribe:
		var data subscribeData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.Channel == "" {
			c.reply("", EventSubscriptionError, map[string]string{"error": "channel required"})
			return
		}
		if kind, _ := ParseChannel(data.Channel); kind == ChannelUnknown {
			c.reply(data.Channel, EventSubscriptionError, map[string]string{"error": "unknown channel"})
			return
		}
		if !c.hub.auth.Verify(c.id, data.Channel, data.Auth) {
			c.reply(data.Channel, EventSubscriptionError, map[string]string{"error": "invalid signature"})
			return
		}
		c.hub.subscribe(c, data.Channel)
		c.reply(data.Channel, EventSubscriptionSucceeded, nil)

	case EventUnsubscribe:
		var data subscribeData
		if err := json.Unmarshal(msg.Data, &data); err == nil && data.Channel != "" {
			c.hub.unsubscribe(c, data.Channel)
		}

	default:
		c.hub.logger.Debug("ignoring websocket event", "socket_id", c.id, "event", msg.Event)
	}
}

// reply queues a frame for this client only.
func (c *client) reply(channel, event string, payload any) {
	frame, err := encode(channel, event, payload)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	_, alive := c.hub.clients[c]
	if alive {
		select {
		case c.send <- frame:
		default:
		}
	}
	c.hub.mu.RUnlock()
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
