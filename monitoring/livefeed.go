package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quakerisk/ml"
)

// EventType tags the messages pushed over the live feed.
type EventType string

const (
	PredictionEvent EventType = "prediction"
	ReloadEvent     EventType = "model_reload"
	HeartbeatEvent  EventType = "heartbeat"
)

// Event is the envelope for every live feed message.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// PredictionMessage carries one served prediction to feed subscribers.
type PredictionMessage struct {
	RequestID   string                    `json:"request_id"`
	Magnitude   float64                   `json:"magnitude"`
	Depth       float64                   `json:"depth"`
	Latitude    float64                   `json:"latitude"`
	Longitude   float64                   `json:"longitude"`
	Country     string                    `json:"country,omitempty"`
	Predictions map[string]*ml.Prediction `json:"predictions"`
	Timestamp   time.Time                 `json:"timestamp"`
}

// ReloadMessage announces a model bundle swap.
type ReloadMessage struct {
	Targets   []string  `json:"targets"`
	Timestamp time.Time `json:"timestamp"`
}

// HeartbeatMessage is the periodic liveness event on the feed.
type HeartbeatMessage struct {
	Clients   int       `json:"clients"`
	Timestamp time.Time `json:"timestamp"`
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

// Hub fans prediction events out to connected websocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	log        *zap.Logger
	heartbeat  time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewHub creates a hub. checkOrigin decides whether a handshake origin is
// allowed; nil accepts every origin.
func NewHub(log *zap.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:       log,
		heartbeat: 30 * time.Second,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run processes register, unregister and broadcast events until Stop.
// Call it in its own goroutine.
func (h *Hub) Run() {
	defer h.log.Info("live feed hub stopped")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("live feed client connected",
				zap.String("client_id", c.clientID), zap.Int("total", total))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("live feed client disconnected",
				zap.String("client_id", c.clientID), zap.Int("total", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()

		case <-ticker.C:
			h.publish(HeartbeatEvent, HeartbeatMessage{
				Clients:   h.ClientCount(),
				Timestamp: time.Now(),
			})

		case <-h.ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop closes every client connection and ends Run.
func (h *Hub) Stop() {
	h.cancel()
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:     conn,
		send:     make(chan []byte, 256),
		clientID: fmt.Sprintf("client_%d", time.Now().UnixNano()),
	}

	select {
	case h.register <- c:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

// BroadcastPrediction pushes a served prediction to all clients. Messages are
// dropped when the queue is full so a slow subscriber never blocks serving.
func (h *Hub) BroadcastPrediction(msg PredictionMessage) {
	h.publish(PredictionEvent, msg)
}

// BroadcastReload announces a bundle reload to all clients.
func (h *Hub) BroadcastReload(targets []string) {
	h.publish(ReloadEvent, ReloadMessage{Targets: targets, Timestamp: time.Now()})
}

func (h *Hub) publish(kind EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal live feed payload", zap.Error(err))
		return
	}
	event := Event{
		Type:      kind,
		Timestamp: time.Now(),
		Data:      data,
		ID:        fmt.Sprintf("evt_%d", time.Now().UnixNano()),
	}
	raw, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal live feed event", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- raw:
	default:
		h.log.Warn("live feed queue full, dropping event", zap.String("type", string(kind)))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		// A stopped hub no longer services unregister; don't hang here.
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", zap.Error(err))
			}
			break
		}
	}
}
