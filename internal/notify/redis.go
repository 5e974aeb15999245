package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"ai-receptionist/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "receptionist:events:"

// RedisBus relays events between instances over redis pub/sub. Publish only
// enqueues; a worker forwards to redis, and a pattern subscription delivers
// every instance's events into the local Hub.
type RedisBus struct {
	rdb     *redis.Client
	hub     *Hub
	queue   chan Event
	log     *slog.Logger
	metrics *metrics.Metrics
	done    chan struct{}
}

func NewRedisBus(rdb *redis.Client, hub *Hub, buffer int, log *slog.Logger, m *metrics.Metrics) *RedisBus {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisBus{rdb: rdb, hub: hub, queue: make(chan Event, buffer), log: log, metrics: m, done: make(chan struct{})}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, ev Event) {
	ev.Topic = topic
	select {
	case b.queue <- ev:
	default:
		b.metrics.NotifierDrop("redis")
		b.log.Warn("notify: redis publish queue full, event dropped", "topic", topic, "event_id", ev.ID)
	}
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	return b.hub.Subscribe(ctx, topic)
}

// Start subscribes and returns once redis has confirmed the subscription.
// The relay runs until ctx ends; Done is closed afterwards.
func (b *RedisBus) Start(ctx context.Context) error {
	ps := b.rdb.PSubscribe(ctx, redisChannelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		b.relay(ctx, ps)
	}()
	go func() {
		b.forward(ctx)
		<-relayDone
		close(b.done)
	}()
	return nil
}

// Done is closed after Start's goroutines exit.
func (b *RedisBus) Done() <-chan struct{} { return b.done }

func (b *RedisBus) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.queue:
			payload, err := json.Marshal(ev)
			if err != nil {
				b.log.Error("notify: marshal event", "event_id", ev.ID, "err", err)
				continue
			}
			if err := b.rdb.Publish(ctx, redisChannelPrefix+ev.Topic, payload).Err(); err != nil && !errors.Is(err, context.Canceled) {
				b.log.Warn("notify: redis publish failed", "topic", ev.Topic, "event_id", ev.ID, "err", err)
			}
		}
	}
}

func (b *RedisBus) relay(ctx context.Context, ps *redis.PubSub) {
	defer ps.Close()
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("notify: bad event payload", "channel", msg.Channel, "err", err)
				continue
			}
			b.hub.Publish(ctx, strings.TrimPrefix(msg.Channel, redisChannelPrefix), ev)
		}
	}
}
