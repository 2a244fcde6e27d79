package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rx1-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
)

// Message types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeSnapshot    = "snapshot"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const wsSendBuffer = 256

// wsChannels are the channels a client may subscribe to, one per
// registry event type.
var wsChannels = map[string]host.EventType{
	string(host.EventVariablesChanged):   host.EventVariablesChanged,
	string(host.EventDefinitionsChanged): host.EventDefinitionsChanged,
	string(host.EventConnectionChanged):  host.EventConnectionChanged,
	string(host.EventFeedbacksChanged):   host.EventFeedbacksChanged,
}

// WSMessage is the envelope for every frame sent to a client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsRequest is a frame received from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// StateSource supplies the current state replayed to new subscribers.
// *host.Registry satisfies it.
type StateSource interface {
	Values() fields.Values
	Definitions() []fields.Definition
	Status() host.Status
	Feedbacks() []host.Feedback
}

// Hub fans registry events out to WebSocket clients. It implements
// host.Listener.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	state  StateSource

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu       sync.Mutex
	send     chan []byte
	closed   bool
	channels map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. state may be nil, in which case subscribing
// sends no snapshot.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, state StateSource) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		state:   state,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		c.conn.Close()
	}
}

func (h *Hub) register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// HandleEvent relays a registry event to the matching channel.
func (h *Hub) HandleEvent(ev host.Event) {
	payload := eventPayload(ev)
	if payload == nil {
		return
	}
	h.Broadcast(string(ev.Type), payload)
}

func eventPayload(ev host.Event) any {
	switch ev.Type {
	case host.EventVariablesChanged:
		return ev.Values
	case host.EventDefinitionsChanged:
		return ev.Definitions
	case host.EventConnectionChanged:
		return ev.Status
	case host.EventFeedbacksChanged:
		return ev.Feedbacks
	}
	return nil
}

// Broadcast sends payload to every client subscribed to channel. Slow
// clients drop messages rather than block the registry.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.subscribed(channel) {
			c.enqueue(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// snapshot returns the current state of channel for a new subscriber.
func (h *Hub) snapshot(channel string) any {
	if h.state == nil {
		return nil
	}
	switch wsChannels[channel] {
	case host.EventVariablesChanged:
		return h.state.Values()
	case host.EventDefinitionsChanged:
		return h.state.Definitions()
	case host.EventConnectionChanged:
		return h.state.Status()
	case host.EventFeedbacksChanged:
		results := make(map[string]bool)
		for _, fb := range h.state.Feedbacks() {
			results[fb.ID] = fb.Result
		}
		return results
	}
	return nil
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return json.Marshal(msg)
}

// handleWebSocket upgrades the request and starts the client's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		channels: make(map[string]struct{}),
	}
	s.hub.register(c)

	go c.writePump()
	go c.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		extend()
		c.handle(data)
	}
}

func (c *WSClient) writePump() {
	cfg := c.hub.cfg
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // peer may already be gone
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateSubscriptions(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

// updateSubscriptions applies a subscribe or unsubscribe request. Unknown
// channels reject the whole request. A subscribe is acknowledged, then
// each new channel's current state is sent as a snapshot frame.
func (c *WSClient) updateSubscriptions(req wsRequest) {
	var body WSSubscribePayload
	if err := json.Unmarshal(req.Payload, &body); err != nil || len(body.Channels) == 0 {
		c.reply(req.ID, WSTypeError, errorBody("invalid "+req.Type+" payload"))
		return
	}
	for _, ch := range body.Channels {
		if _, ok := wsChannels[ch]; !ok {
			c.reply(req.ID, WSTypeError, errorBody("unknown channel: "+ch))
			return
		}
	}

	subscribe := req.Type == WSTypeSubscribe
	var added []string
	c.mu.Lock()
	for _, ch := range body.Channels {
		_, had := c.channels[ch]
		switch {
		case subscribe && !had:
			c.channels[ch] = struct{}{}
			added = append(added, ch)
		case !subscribe:
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	if !subscribe {
		c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": body.Channels})
		return
	}

	c.hub.logger.Debug("websocket client subscribed", "channels", body.Channels)
	c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": body.Channels})
	for _, ch := range added {
		if state := c.hub.snapshot(ch); state != nil {
			c.frame(WSMessage{Type: WSTypeSnapshot, EventType: ch, Payload: state})
		}
	}
}

func (c *WSClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue queues data unless the client is closed or its buffer is full.
func (c *WSClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// close shuts the send channel once; writePump then sends a close frame.
func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) frame(msg WSMessage) {
	data, err := encodeFrame(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *WSClient) reply(id, msgType string, payload any) {
	c.frame(WSMessage{Type: msgType, ID: id, Payload: payload})
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
