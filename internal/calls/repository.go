package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository stores calls. Update is a compare-and-swap on Version: it fails
// with ErrVersionConflict when the stored version differs from c.Version and
// otherwise returns the call with the bumped version.
type Repository interface {
	// Create inserts c unless a call with the same CarrierCallID exists, in
	// which case the existing call is returned with created == false.
	Create(ctx context.Context, c Call) (Call, bool, error)
	GetByCarrierID(ctx context.Context, carrierCallID string) (Call, error)
	GetByID(ctx context.Context, tenantID, id string) (Call, error)
	Update(ctx context.Context, c Call) (Call, error)
	ListRecent(ctx context.Context, tenantID string, limit int) ([]Call, error)
	ListActive(ctx context.Context, tenantID string) ([]Call, error)
	ListCreatedBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error)
}

type MemoryRepo struct {
	mu        sync.Mutex
	byID      map[string]Call
	byCarrier map[string]string
	clock     func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:      make(map[string]Call),
		byCarrier: make(map[string]string),
		clock:     time.Now,
	}
}

func (r *MemoryRepo) Create(ctx context.Context, c Call) (Call, bool, error) {
	if err := ctx.Err(); err != nil {
		return Call{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byCarrier[c.CarrierCallID]; ok {
		return r.byID[id], false, nil
	}
	if c.Version == 0 {
		c.Version = 1
	}
	r.byID[c.ID] = c
	r.byCarrier[c.CarrierCallID] = c.ID
	return c, true, nil
}

func (r *MemoryRepo) GetByCarrierID(ctx context.Context, carrierCallID string) (Call, error) {
	if err := ctx.Err(); err != nil {
		return Call{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCarrier[carrierCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, tenantID, id string) (Call, error) {
	if err := ctx.Err(); err != nil {
		return Call{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || c.TenantID != tenantID {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Call) (Call, error) {
	if err := ctx.Err(); err != nil {
		return Call{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[c.ID]
	if !ok {
		return Call{}, ErrNotFound
	}
	if cur.Version != c.Version {
		return Call{}, ErrVersionConflict
	}
	c.Version++
	c.UpdatedAt = r.clock().UTC()
	r.byID[c.ID] = c
	return c, nil
}

func (r *MemoryRepo) ListRecent(ctx context.Context, tenantID string, limit int) ([]Call, error) {
	out := r.filter(tenantID, func(Call) bool { return true })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, ctx.Err()
}

func (r *MemoryRepo) ListActive(ctx context.Context, tenantID string) ([]Call, error) {
	return r.filter(tenantID, func(c Call) bool { return !c.Status.Terminal() }), ctx.Err()
}

func (r *MemoryRepo) ListCreatedBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	return r.filter(tenantID, func(c Call) bool {
		return !c.CreatedAt.Before(from) && c.CreatedAt.Before(to)
	}), ctx.Err()
}

// filter returns matching calls newest first.
func (r *MemoryRepo) filter(tenantID string, keep func(Call) bool) []Call {
	r.mu.Lock()
	out := make([]Call, 0, len(r.byID))
	for _, c := range r.byID {
		if c.TenantID == tenantID && keep(c) {
			out = append(out, c)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
