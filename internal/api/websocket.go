package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-live/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-live/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-live/internal/signal"
	"github.com/nerrad567/gray-logic-live/internal/store"
)

// WebSocket message types.
const (
	WSTypeSubscribe = "subscribe"
	WSTypePing      = "ping"
	WSTypePong      = "pong"
	WSTypeSnapshot  = "snapshot"
	WSTypeSignal    = "signal"
	WSTypeResponse  = "response"
	WSTypeError     = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of a subscribe message. It replaces the
// client's filter; an empty list means every signal.
type WSSubscribePayload struct {
	Prefixes []string `json:"prefixes"`
}

// Hub tracks connected WebSocket clients so they can be closed together.
// Signals reach clients through their own store subscriptions, not the hub.
type Hub struct {
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	sub  *store.Subscription

	mu       sync.RWMutex
	prefixes []string

	dropped atomic.Uint64
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.logger.Debug("websocket client disconnected",
			"clients", h.ClientCount(),
			"dropped", client.dropped.Load(),
		)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.sub != nil {
			client.sub.Close()
		}
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the connection and streams signals to it.
//
// The first message is a snapshot of all current signals (filtered by the
// optional prefix query parameter), followed by one "signal" message per
// publish.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	// The request context ends when this handler returns; the client lives
	// until its connection closes or the server shuts down.
	ctx, cancel := context.WithCancel(s.ctx)

	client := &WSClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
		sub:  s.store.Subscribe(ctx),
	}
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		client.prefixes = []string{prefix}
	}

	s.hub.Register(client)
	client.sendSnapshot(s.store.GetAll())

	go client.writePump(s.wsCfg)
	go client.forward()
	go client.readPump(s.wsCfg, cancel)
}

// forward moves signals from the store subscription to the send buffer.
// It returns when the subscription closes.
func (c *WSClient) forward() {
	defer c.hub.Unregister(c)

	for sig := range c.sub.C() {
		if !c.wants(sig.ID) {
			continue
		}
		data, err := json.Marshal(WSMessage{
			Type:      WSTypeSignal,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Payload:   sig,
		})
		if err != nil {
			c.hub.logger.Error("failed to marshal signal message", "signal_id", sig.ID, "error", err)
			continue
		}
		c.trySend(data)
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig, cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := config.Seconds(cfg.PingInterval)
	pongWait := config.Seconds(cfg.PongTimeout)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := config.Seconds(cfg.PingInterval)
	if pingInterval <= 0 {
		pingInterval = defaultKeepAlive
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := config.Seconds(cfg.PongTimeout)

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe replaces the client's prefix filter.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		c.sendError(msg.ID, "invalid payload")
		return
	}

	var sub WSSubscribePayload
	if err := json.Unmarshal(payloadBytes, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	c.mu.Lock()
	c.prefixes = sub.Prefixes
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "prefixes", sub.Prefixes)

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"prefixes": sub.Prefixes,
	})
}

// wants reports whether id passes the client's filter.
func (c *WSClient) wants(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.prefixes) == 0 {
		return true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// sendSnapshot queues the filtered current values as one message.
func (c *WSClient) sendSnapshot(all map[string]signal.Signal) {
	c.mu.RLock()
	prefixes := c.prefixes
	c.mu.RUnlock()

	prefix := ""
	if len(prefixes) == 1 {
		prefix = prefixes[0]
	}
	c.sendResponse("", WSTypeSnapshot, sortedSignals(all, prefix))
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during send)
// and counts drops when the buffer is full (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		c.dropped.Add(1)
	}
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
