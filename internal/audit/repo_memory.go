package audit

import (
	"context"
	"sync"
)

// memoryCap bounds MemoryRepo when it backs a long-running memory-storage
// process; the oldest events are discarded first.
const memoryCap = 10000

// MemoryRepo keeps audit events in process, oldest first.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{limit: memoryCap} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.events) >= r.limit {
		n := copy(r.events, r.events[1:])
		r.events = r.events[:n]
	}
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) Events() []Event {
	return r.filter(func(Event) bool { return true })
}

// OfType returns the stored events of type t.
func (r *MemoryRepo) OfType(t EventType) []Event {
	return r.filter(func(e Event) bool { return e.Type == t })
}

func (r *MemoryRepo) filter(keep func(Event) bool) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
