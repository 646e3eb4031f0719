package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is one push notification sent to dashboard clients. Clients re-read
// the REST views after a notification; payloads stay minimal on purpose.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

const (
	EventConnectionStatus     = "connection_status"
	EventStudentStatusChanged = "student_status_changed"
	EventLogUpdated           = "log_updated"
)

// Peer is one connected dashboard client.
type Peer struct {
	Conn *websocket.Conn
	Send chan []byte
}

// Hub fans notifications out to websocket peers. It implements Notifier.
// Broadcasts never block: a peer whose send buffer is full loses the event
// and recovers by re-reading the views, so a slow dashboard can never stall
// the read loop.
type Hub struct {
	mu       sync.RWMutex
	peers    map[*Peer]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub creates the notification hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		peers: make(map[*Peer]struct{}),
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Upgrader returns the websocket upgrader for the HTTP handler.
func (h *Hub) Upgrader() *websocket.Upgrader {
	return &h.upgrader
}

// Register adds a peer and returns a cleanup function.
func (h *Hub) Register(conn *websocket.Conn) (*Peer, func()) {
	p := &Peer{Conn: conn, Send: make(chan []byte, 64)}

	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()

	h.log.Info("dashboard client connected", zap.Int("peers", h.peerCount()))

	cleanup := func() {
		h.mu.Lock()
		if _, ok := h.peers[p]; ok {
			delete(h.peers, p)
			close(p.Send)
		}
		h.mu.Unlock()
		h.log.Info("dashboard client disconnected", zap.Int("peers", h.peerCount()))
	}
	return p, cleanup
}

func (h *Hub) peerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// OnConnectionStatus implements Notifier.
func (h *Hub) OnConnectionStatus(text string, severity string) {
	h.broadcast(Event{Type: EventConnectionStatus, Payload: map[string]string{
		"text":     text,
		"severity": severity,
	}})
}

// OnStudentStatusChanged implements Notifier.
func (h *Hub) OnStudentStatusChanged(studentID int) {
	h.broadcast(Event{Type: EventStudentStatusChanged, Payload: map[string]int{
		"student_id": studentID,
	}})
}

// OnLogUpdated implements Notifier.
func (h *Hub) OnLogUpdated() {
	h.broadcast(Event{Type: EventLogUpdated})
}

func (h *Hub) broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to marshal event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		select {
		case p.Send <- data:
		default:
			// Slow client, drop the event.
		}
	}
}
