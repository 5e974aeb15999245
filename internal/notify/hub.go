package notify

import (
	"context"
	"log/slog"
	"sync"

	"ai-receptionist/internal/metrics"
)

// Hub is the in-process Bus.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*subscription]struct{}

	buffer  int
	log     *slog.Logger
	metrics *metrics.Metrics
	backend string
}

type subscription struct {
	ch   chan Event
	once sync.Once
}

func NewHub(buffer int, log *slog.Logger, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{topics: map[string]map[*subscription]struct{}{}, buffer: buffer, log: log, metrics: m, backend: "local"}
}

func (h *Hub) Publish(ctx context.Context, topic string, ev Event) {
	ev.Topic = topic

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.topics[topic] {
		select {
		case s.ch <- ev:
		default:
			h.metrics.NotifierDrop(h.backend)
			h.log.Warn("notify: subscriber buffer full, event dropped", "topic", topic, "event_id", ev.ID, "type", ev.Type)
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	s := &subscription{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = map[*subscription]struct{}{}
	}
	h.topics[topic][s] = struct{}{}
	h.mu.Unlock()

	stop := make(chan struct{})
	cancel := func() {
		s.once.Do(func() {
			close(stop)
			h.mu.Lock()
			delete(h.topics[topic], s)
			if len(h.topics[topic]) == 0 {
				delete(h.topics, topic)
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return s.ch, cancel
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
