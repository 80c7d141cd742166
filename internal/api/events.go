package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types published on the stream.
const (
	EventTraining   = "training"
	EventPrediction = "prediction"
	EventCollection = "collection"
	EventConnected  = "connected"
)

const (
	clientBuffer = 16
	writeWait    = 5 * time.Second
)

// Event is one message on the /ws/events stream.
type Event struct {
	Type      string    `json:"type"`
	Variant   string    `json:"lottery_type,omitempty"`
	Algorithm string    `json:"algorithm,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// EventObserver receives hub activity; *metrics.MetricsWrapper satisfies it.
type EventObserver interface {
	WSClientsSet(n int)
	EventsSentInc()
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EventHub fans training and prediction events out to websocket clients.
// Slow clients drop events rather than block the hub.
type EventHub struct {
	upgrader  websocket.Upgrader
	observer  EventObserver
	clients   map[*wsClient]bool
	clientsMu sync.RWMutex
	broadcast chan Event
}

// NewEventHub creates a hub. observer may be nil.
func NewEventHub(observer EventObserver) *EventHub {
	return &EventHub{
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		observer:  observer,
		clients:   make(map[*wsClient]bool),
		broadcast: make(chan Event, 100),
	}
}

// Publish queues ev for broadcast. It never blocks; when the queue is full
// the event is dropped.
func (h *EventHub) Publish(ev Event) {
	if h == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case h.broadcast <- ev:
	default:
		log.Warn().Str("type", ev.Type).Msg("Event queue full, dropping event")
	}
}

// Run broadcasts queued events until ctx is done, then disconnects every client.
func (h *EventHub) Run(ctx context.Context) {
	for {
		select {
		case ev := <-h.broadcast:
			h.broadcastToClients(ev)
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *EventHub) broadcastToClients(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event for broadcast")
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
			if h.observer != nil {
				h.observer.EventsSentInc()
			}
		default:
			log.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("Client send buffer full, dropping event")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) register(c *wsClient) {
	h.clientsMu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.clientsMu.Unlock()
	if h.observer != nil {
		h.observer.WSClientsSet(n)
	}
}

func (h *EventHub) unregister(c *wsClient) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.clientsMu.Unlock()
	if h.observer != nil {
		h.observer.WSClientsSet(n)
	}
}

func (h *EventHub) closeAll() {
	h.clientsMu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.clientsMu.Unlock()
	if h.observer != nil {
		h.observer.WSClientsSet(0)
	}
}

// ServeWS upgrades the request and streams events until the client goes away.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	hello, _ := json.Marshal(Event{Type: EventConnected, Message: "subscribed to engine events", Timestamp: time.Now().UTC()})
	c.send <- hello
	h.register(c)

	go h.writePump(c)

	// Reads only detect the close; clients are not expected to send anything.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
}

func (h *EventHub) writePump(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug().Err(err).Msg("Failed to send message to WebSocket client")
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
