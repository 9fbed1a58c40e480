// Package realtime streams risk activity to care-team dashboards over
// WebSocket. Instead of polling the assessment endpoints, a dashboard
// subscribes once and receives:
// - assessments as the detector completes them
// - abuse alerts as they are raised
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elderguard/elderguard/internal/abuse"
	"github.com/elderguard/elderguard/internal/alerting"
	"github.com/elderguard/elderguard/internal/metrics"
)

const (
	// MaxClients caps concurrent WebSocket connections.
	MaxClients = 1000

	// writeWait bounds a single WebSocket write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before the read
	// side gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait so the peer has a ping to
	// answer before the deadline.
	pingPeriod = 30 * time.Second
	// maxMessageSize bounds inbound subscription updates.
	maxMessageSize = 4 * 1024
)

// normalCloseCodes are the close codes of an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		// Allow same-host connections
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// EventType names a kind of streamed event.
type EventType string

const (
	EventAssessmentUpdated EventType = "assessment.updated"
	EventAlertRaised       EventType = "alert.raised"
)

// Event is the envelope sent to subscribed dashboards. CaregiverID and
// Level are lifted out of the payload so subscription filters never
// introspect Data.
type Event struct {
	Type        EventType       `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	CaregiverID string          `json:"caregiverId,omitempty"`
	Level       abuse.RiskLevel `json:"level,omitempty"`
	Data        any             `json:"data"`
}

// Subscription is what a connected dashboard asked to receive. A client
// updates it by sending a new subscription message on the socket.
type Subscription struct {
	AllEvents    bool            `json:"allEvents"`
	EventTypes   []EventType     `json:"eventTypes"`
	CaregiverIDs []string        `json:"caregiverIds"` // Watch specific caregivers
	MinLevel     abuse.RiskLevel `json:"minLevel"`     // Only events at or above this level
}

// Client is one connected dashboard socket.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// Hub owns the client set and fans events out to matching subscribers.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int

	// Stats
	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub returns a hub ready for Run.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run drives registration and fan-out until ctx ends, then closes every
// client connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("realtime hub shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.drop(client)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.totalClients.Add(1)
	if current := int64(len(h.clients)); current > h.peakClients.Load() {
		h.peakClients.Store(current)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("dashboard client connected", "total", n)
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("dashboard client disconnected", "total", n)
}

// fanOut delivers event to every matching client. Clients whose send
// buffer is full are disconnected rather than allowed to stall the hub.
func (h *Hub) fanOut(event *Event) {
	h.totalEvents.Add(1)

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal failed", "type", event.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !h.shouldSend(client, event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.mu.Unlock()
}

// shouldSend applies client's subscription filters to event.
func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if sub.AllEvents {
		return true
	}
	if len(sub.EventTypes) > 0 && !slices.Contains(sub.EventTypes, event.Type) {
		return false
	}
	if len(sub.CaregiverIDs) > 0 && event.CaregiverID != "" &&
		!slices.Contains(sub.CaregiverIDs, event.CaregiverID) {
		return false
	}
	if sub.MinLevel != "" && event.Level != "" && !event.Level.AtLeast(sub.MinLevel) {
		return false
	}
	return true
}

// Broadcast queues an event for fan-out. Events are dropped rather than
// blocking the caller when the queue is full.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

// AssessmentUpdated streams a completed assessment. It satisfies the
// detector's event sink.
func (h *Hub) AssessmentUpdated(_ context.Context, a *abuse.RiskAssessment) {
	h.Broadcast(&Event{
		Type:        EventAssessmentUpdated,
		Timestamp:   time.Now(),
		CaregiverID: a.CaregiverID,
		Level:       a.Level,
		Data:        a,
	})
}

// AlertRaised streams a raised alert. It satisfies the alerting
// service's event sink.
func (h *Hub) AlertRaised(_ context.Context, a *alerting.Alert) {
	h.Broadcast(&Event{
		Type:        EventAlertRaised,
		Timestamp:   time.Now(),
		CaregiverID: a.CaregiverID,
		Level:       a.Level,
		Data:        a,
	})
}

var (
	_ abuse.EventSink    = (*Hub)(nil)
	_ alerting.EventSink = (*Hub)(nil)
)

// Stats reports connection and delivery counters for the health surface.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades the request and starts the client pumps.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true}, // Default: all events
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump consumes inbound frames. The only application messages a
// dashboard sends are subscription updates; everything else keeps the
// read deadline fresh.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
