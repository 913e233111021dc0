package stream

import (
	"context"
	"sync"

	"tracelayer/internal/domain"
	"tracelayer/internal/telemetry"
)

const (
	TypeRun = "run"
	TypeLog = "log"
)

// Message is one update on a project topic.
type Message struct {
	Type      string                `json:"type"`
	ProjectID string                `json:"project_id"`
	RunID     string                `json:"run_id"`
	Run       *domain.ExtractionRun `json:"run,omitempty"`
	Log       *domain.LogEntry      `json:"log,omitempty"`
}

// Hub fans out messages per project. Slow subscribers miss messages rather than block publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[chan Message]struct{}
	buffer  int
	Metrics *telemetry.Metrics
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Message]struct{}), buffer: 256}
}

// Subscribe registers a channel on projectID. The returned func unsubscribes and closes it.
func (h *Hub) Subscribe(projectID string) (<-chan Message, func()) {
	ch := make(chan Message, h.buffer)
	h.mu.Lock()
	topic, ok := h.subs[projectID]
	if !ok {
		topic = make(map[chan Message]struct{})
		h.subs[projectID] = topic
	}
	topic[ch] = struct{}{}
	h.mu.Unlock()
	h.Metrics.SubscriberDelta(1)
	var once sync.Once
	return ch, func() {
		once.Do(func() { h.unsubscribe(projectID, ch) })
	}
}

func (h *Hub) unsubscribe(projectID string, ch chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	topic := h.subs[projectID]
	if _, ok := topic[ch]; !ok {
		return
	}
	delete(topic, ch)
	if len(topic) == 0 {
		delete(h.subs, projectID)
	}
	close(ch)
	h.Metrics.SubscriberDelta(-1)
}

// Publish delivers msg to every subscriber of msg.ProjectID without blocking.
func (h *Hub) Publish(msg Message) {
	if h == nil {
		return
	}
	ctx := context.Background()
	h.Metrics.StreamPublished(ctx)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[msg.ProjectID] {
		select {
		case ch <- msg:
		default:
			h.Metrics.StreamDropped(ctx)
		}
	}
}

// Subscribers returns the number of subscribers on projectID.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}
