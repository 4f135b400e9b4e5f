package loreline

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType classifies a notification event.
type EventType string

const (
	// EventConflict means an operation was dead-lettered because the
	// remote holds a newer version of the entity.
	EventConflict EventType = "conflict"
	// EventDeadLetter means an operation failed permanently and needs
	// user attention.
	EventDeadLetter EventType = "dead_letter"
	// EventDegraded means the sync engine halted draining after
	// repeated durable-storage failures.
	EventDegraded EventType = "degraded"
	// EventRecovered means the sync engine left degraded mode.
	EventRecovered EventType = "recovered"
)

// Event is delivered to the UI layer so it can tell the user an edit did
// not ultimately persist remotely. Optimistic local state is never rolled
// back automatically; the user decides whether to retry or discard.
type Event struct {
	Type            EventType `json:"type"`
	Operation       Operation `json:"operation,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at,omitempty"`
	Time            time.Time `json:"time"`
}

// NotificationConfig configures event fan-out.
type NotificationConfig struct {
	// BufferSize is the channel buffer size per subscription.
	BufferSize int
	// PingInterval is how often to ping WebSocket clients.
	PingInterval time.Duration
	// WriteTimeout bounds WebSocket writes.
	WriteTimeout time.Duration
}

// DefaultNotificationConfig returns default notification configuration.
func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		BufferSize:   64,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// EventSubscription is an active in-process subscription.
type EventSubscription struct {
	ID     string
	ch     chan Event
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// C returns the channel for receiving events.
func (s *EventSubscription) C() <-chan Event {
	return s.ch
}

// Close closes the subscription.
func (s *EventSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

// NotificationHub fans sync events out to in-process subscribers and
// WebSocket clients.
type NotificationHub struct {
	config NotificationConfig
	mu     sync.RWMutex
	subs   map[string]*EventSubscription
	nextID uint64
}

// NewNotificationHub creates a notification hub.
func NewNotificationHub(cfg NotificationConfig) *NotificationHub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &NotificationHub{
		config: cfg,
		subs:   make(map[string]*EventSubscription),
	}
}

// Subscribe creates a new in-process subscription.
func (h *NotificationHub) Subscribe() *EventSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &EventSubscription{
		ID:   fmt.Sprintf("sub-%d", h.nextID),
		ch:   make(chan Event, h.config.BufferSize),
		done: make(chan struct{}),
	}
	h.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes and closes a subscription.
func (h *NotificationHub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Publish delivers an event to every subscriber. Slow subscribers drop
// events rather than blocking the sync engine.
func (h *NotificationHub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		sub.mu.Lock()
		if !sub.closed {
			select {
			case sub.ch <- ev:
			default:
				slog.Warn("notification subscriber lagging, dropping event",
					"sub", sub.ID, "type", ev.Type)
			}
		}
		sub.mu.Unlock()
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a WebSocket connection and streams
// events to it until the client disconnects.
func (h *NotificationHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "err", err)
		return
	}

	sub := h.Subscribe()
	defer h.Unsubscribe(sub.ID)
	defer func() { _ = conn.Close() }()

	// Drain client messages so pings/pongs and close frames are
	// processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
