// Package notify fans out call and transcript changes to dashboard observers.
//
// Delivery is best effort and at-least-once across reconnects: publishers never
// block, slow subscribers lose events, and observers resync from a snapshot and
// de-duplicate by event ID.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventCallCreated        EventType = "call-created"
	EventCallUpdated        EventType = "call-updated"
	EventTranscriptAppended EventType = "transcript-appended"
	EventSnapshot           EventType = "snapshot"
)

type Event struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Topic      string          `json:"topic"`
	TenantID   string          `json:"tenant_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// TenantTopic is the topic observers of one tenant subscribe to.
func TenantTopic(tenantID string) string { return "tenant:" + tenantID }

// NewEvent builds an event carrying payload as JSON.
func NewEvent(typ EventType, tenantID string, payload any, at time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Topic:      TenantTopic(tenantID),
		TenantID:   tenantID,
		OccurredAt: at.UTC(),
		Data:       data,
	}, nil
}

// Publisher must return without waiting on subscribers.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev Event)
}

// Subscriber hands out a channel of events for topic. The cancel func, or
// ctx ending, unsubscribes and closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Event, func())
}

type Bus interface {
	Publisher
	Subscriber
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) {}
