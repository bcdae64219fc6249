package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain"
	"github.com/satriahrh/callrelay/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Time allowed to hand one relay message to its call.
	routeTimeout = 5 * time.Second

	sendBufferSize = 256
)

// ErrSendBufferFull is returned when a relay connection cannot keep up
var ErrSendBufferFull = errors.New("relay send buffer full")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The relay authenticates with a token, not an origin.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Router classifies raw relay payloads
type Router interface {
	Route(ctx context.Context, callSid string, raw []byte) error
}

// Hub keeps one relay connection per call and delivers outbound messages
// to it. It implements repositories.OutboundSink.
type Hub struct {
	// Registered clients by call sid.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// Closed when Run returns.
	done chan struct{}

	router Router
	logger *zap.Logger
}

var _ repositories.OutboundSink = (*Hub)(nil)

// NewHub creates a new relay hub. The hub is the outbound sink of the
// session layer, so its router is attached afterwards with SetRouter.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetRouter attaches the router inbound payloads are handed to. It must be
// called before the first relay connection is accepted.
func (h *Hub) SetRouter(router Router) {
	h.router = router
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if previous, ok := h.clients[client.callSid]; ok {
				close(previous.send)
				h.logger.Info("Relay connection replaced",
					zap.String("callSid", client.callSid),
					zap.String("previous", previous.id))
			}
			h.clients[client.callSid] = client
			h.mu.Unlock()
			client.logger.Info("Relay connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.callSid]; ok && current == client {
				delete(h.clients, client.callSid)
				close(client.send)
			}
			h.mu.Unlock()
			client.logger.Info("Relay disconnected")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for callSid, client := range h.clients {
		close(client.send)
		delete(h.clients, callSid)
	}
}

// Send queues msg for the relay connection of callSid
func (h *Hub) Send(ctx context.Context, callSid string, msg domain.OutboundMessage) error {
	payload, err := domain.EncodeOutbound(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[callSid]
	if !ok {
		return repositories.ErrNotConnected
	}

	select {
	case client.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	default:
		client.logger.Warn("Relay send buffer full, dropping message", zap.String("type", string(msg.OutboundType())))
		return ErrSendBufferFull
	}
}

// Connected reports whether callSid has a relay connection
func (h *Hub) Connected(callSid string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[callSid]
	return ok
}

// Len returns the number of relay connections
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	// Call this connection relays, taken from its access token
	callSid string

	// Connection id, distinguishes reconnects of the same call
	id string

	logger *zap.Logger
}

// HandleRelay upgrades an authenticated relay request for callSid
func (h *Hub) HandleRelay(c echo.Context, callSid string) error {
	if h.router == nil {
		return errors.New("relay hub has no router")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	id := uuid.NewString()
	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan WriteData, sendBufferSize),
		callSid: callSid,
		id:      id,
		logger:  h.logger.With(zap.String("callSid", callSid), zap.String("connectionId", id)),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the router.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.route(message)
		default:
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
		}
	}
}

// route hands one payload to the router. Rejections are logged by the
// router and never close the connection.
func (c *Client) route(message []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
	defer cancel()
	_ = c.hub.router.Route(ctx, c.callSid, message)
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
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
