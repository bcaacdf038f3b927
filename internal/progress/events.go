package progress

import (
	"sync"
	"time"
)

// Event types published by the store.
const (
	EventQuizStarted       = "quiz_started"
	EventQuizSubmitted     = "quiz_submitted"
	EventModuleCompleted   = "module_completed"
	EventRewardGranted     = "reward_granted"
	EventCertificateMinted = "certificate_minted"
)

// Event is a progress notification fanned out to live subscribers.
type Event struct {
	Type      string         `json:"type"`
	UserID    string         `json:"user_id"`
	ModuleID  string         `json:"module_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Publisher defines event publication behavior.
type Publisher interface {
	Publish(event Event)
}

// NopPublisher ignores all events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// Hub fans events out to subscriber channels. Slow subscribers drop events
// rather than blocking the store.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]string // channel → user filter ("" = all users)
}

// NewHub creates an event hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]string)}
}

// Subscribe registers a subscriber. If userID is non-empty only that user's
// events are delivered. The returned cancel func must be called to release
// the subscription.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.subs[ch] = userID
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Publish(event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, filter := range h.subs {
		if filter != "" && filter != event.UserID {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}
