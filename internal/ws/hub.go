package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"tabi/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventUserServing    = "user_serving"
	EventUserVisited    = "user_visited"
	EventUserRemoved    = "user_removed"
	EventEntriesExpired = "entries_expired"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
	publishBuffer  = 1024
)

// WSMessage is the envelope pushed to every client watching a line.
type WSMessage struct {
	EventType string                 `json:"eventType"`
	LineID    uint                   `json:"lineId"`
	Data      map[string]interface{} `json:"data,omitempty"`
	SentAt    time.Time              `json:"sentAt"`
}

// Publisher is the part of the hub services depend on.
type Publisher interface {
	Publish(lineID uint, eventType string, data map[string]interface{})
}

// Hub keeps websocket clients grouped by line ID.
type Hub struct {
	clients    map[uint]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan WSMessage
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan WSMessage, publishBuffer),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled. Once it
// returns the hub rejects new connections.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.LineID] == nil {
				h.clients[client.LineID] = make(map[*Client]bool)
			}
			h.clients[client.LineID][client] = true
			h.mu.Unlock()
			metrics.WebsocketClients.Inc()
		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				h.log.Error("Failed to encode websocket message", zap.Error(err))
				continue
			}
			h.mu.Lock()
			for client := range h.clients[msg.LineID] {
				select {
				case client.Send <- payload:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.LineID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	metrics.WebsocketClients.Dec()
	if len(clients) == 0 {
		delete(h.clients, client.LineID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
}

// Publish queues an event for the line's clients. It never blocks; events are
// dropped when the hub is saturated.
func (h *Hub) Publish(lineID uint, eventType string, data map[string]interface{}) {
	msg := WSMessage{EventType: eventType, LineID: lineID, Data: data, SentAt: time.Now().UTC()}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("Websocket hub saturated, dropping event",
			zap.Uint("line_id", lineID), zap.String("event", eventType))
	}
}

// ClientCount returns the number of clients watching a line.
func (h *Hub) ClientCount(lineID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[lineID])
}

// Client is one websocket connection.
type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	LineID uint
}

// readPump only watches for disconnects; clients do not send commands.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Hub.log.Debug("Websocket closed unexpectedly", zap.Uint("line_id", c.LineID), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Serve upgrades the request and attaches the connection to lineID. It
// returns when the client disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, lineID uint) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := &Client{
		Hub:    h,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		LineID: lineID,
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return conn.Close()
	}

	go client.writePump()
	client.readPump()
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(uint, string, map[string]interface{}) {}
