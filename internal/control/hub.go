package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "github.com/lexiqai/pronunciation-coach/internal/errors"
	"github.com/lexiqai/pronunciation-coach/internal/observability"
	"github.com/lexiqai/pronunciation-coach/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Message types on /ws/session
const (
	TypeState  = "state"
	TypeAction = "action"
	TypeError  = "error"
	TypePing   = "ping"
	TypePong   = "pong"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS configuration of the API routes
		return true
	},
}

// Message is the WebSocket envelope in both directions
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActionPayload asks the session to perform a user action
type ActionPayload struct {
	Action Action `json:"action"`
}

type reply struct {
	client  *client
	message []byte
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session snapshots out to WebSocket clients
type Hub struct {
	clients    map[*client]bool
	pending    chan struct{}
	register   chan *client
	unregister chan *client
	direct     chan reply
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger

	// latest is the newest snapshot not yet fanned out
	latestMu sync.Mutex
	latest   []byte
	version  uint64
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		pending:    make(chan struct{}, 1),
		register:   make(chan *client),
		unregister: make(chan *client),
		direct:     make(chan reply, 16),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws").Logger(),
	}
}

// Run serves registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			h.log.Info().Msg("WebSocket hub shutting down")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.log.Debug().Str("client_id", c.id).Msg("Client connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.log.Debug().Str("client_id", c.id).Msg("Client disconnected")

		case r := <-h.direct:
			h.mu.Lock()
			if _, ok := h.clients[r.client]; ok {
				select {
				case r.client.send <- r.message:
				default:
				}
			}
			h.mu.Unlock()

		case <-h.pending:
			h.latestMu.Lock()
			message := h.latest
			h.latest = nil
			h.latestMu.Unlock()
			if message == nil {
				continue
			}

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow client
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastState publishes a snapshot to every client without blocking the
// session. Snapshots older than the last one seen are ignored, and snapshots
// arriving faster than the hub fans out collapse into the newest.
func (h *Hub) BroadcastState(st session.State) {
	message, err := encodeMessage(TypeState, newSessionView(st))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}

	h.latestMu.Lock()
	if st.Version < h.version {
		h.latestMu.Unlock()
		return
	}
	h.version = st.Version
	h.latest = message
	h.latestMu.Unlock()

	select {
	case h.pending <- struct{}{}:
	default:
		// A fan-out is already queued and will pick up latest
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encodeMessage(msgType string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Payload: data})
}

// serveWebSocket handles GET /ws/session. The client gets the current
// snapshot at once and every later one; it may send actions.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	c := &client{
		id:   observability.NewCorrelationID(),
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 16),
	}

	if initial, err := encodeMessage(TypeState, newSessionView(s.session.Snapshot())); err == nil {
		c.send <- initial
	}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(s)
}

func (c *client) readPump(s *Server) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			return
		}

		message := c.handle(s, data)
		if message == nil {
			continue
		}
		select {
		case c.hub.direct <- reply{client: c, message: message}:
		case <-c.hub.done:
			return
		}
	}
}

// handle processes one client message and returns the direct reply, if any.
// State changes reach the client through the broadcast. Actions run inline;
// a sentence fetch is bounded well below pongWait.
func (c *client) handle(s *Server, data []byte) []byte {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		out, _ := encodeMessage(TypeError, ErrorBody{Code: string(apperrors.ErrValidation), Message: "invalid message"})
		return out
	}

	switch msg.Type {
	case TypePing:
		out, _ := encodeMessage(TypePong, map[string]string{"message": "pong"})
		return out

	case TypeAction:
		var p ActionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			out, _ := encodeMessage(TypeError, ErrorBody{Code: string(apperrors.ErrValidation), Message: "invalid action payload"})
			return out
		}
		c.hub.log.Debug().Str("client_id", c.id).Str("action", string(p.Action)).Msg("Action received")

		if err := s.perform(context.Background(), p.Action); err != nil {
			out, _ := encodeMessage(TypeError, errorBody(err))
			return out
		}
		return nil

	default:
		out, _ := encodeMessage(TypeError, ErrorBody{Code: string(apperrors.ErrValidation), Message: "unknown message type: " + msg.Type})
		return out
	}
}

func (c *client) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
