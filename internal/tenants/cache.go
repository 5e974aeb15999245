package tenants

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedDirectory memoizes lookups for ttl. Concurrent misses for the same key
// share one backend call. Not-found results are cached too, so a burst of calls
// to an unassigned number does not hammer storage.
type CachedDirectory struct {
	next  Directory
	ttl   time.Duration
	clock func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	items map[string]cacheItem
}

type cacheItem struct {
	tenant  Tenant
	err     error
	expires time.Time
}

func NewCachedDirectory(next Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, ttl: ttl, clock: time.Now, items: map[string]cacheItem{}}
}

func (d *CachedDirectory) ByPhoneNumber(ctx context.Context, number string) (Tenant, error) {
	return d.get(ctx, "num:"+number, func(ctx context.Context) (Tenant, error) {
		return d.next.ByPhoneNumber(ctx, number)
	})
}

func (d *CachedDirectory) ByID(ctx context.Context, id string) (Tenant, error) {
	return d.get(ctx, "id:"+id, func(ctx context.Context) (Tenant, error) {
		return d.next.ByID(ctx, id)
	})
}

// Invalidate drops every cached entry.
func (d *CachedDirectory) Invalidate() {
	d.mu.Lock()
	d.items = map[string]cacheItem{}
	d.mu.Unlock()
}

func (d *CachedDirectory) get(ctx context.Context, key string, load func(context.Context) (Tenant, error)) (Tenant, error) {
	now := d.clock()
	d.mu.Lock()
	if it, ok := d.items[key]; ok && now.Before(it.expires) {
		d.mu.Unlock()
		return it.tenant, it.err
	}
	d.mu.Unlock()

	v, err, _ := d.group.Do(key, func() (any, error) {
		t, err := load(ctx)
		if err == nil || errors.Is(err, ErrNotFound) {
			d.mu.Lock()
			d.items[key] = cacheItem{tenant: t, err: err, expires: d.clock().Add(d.ttl)}
			d.mu.Unlock()
		}
		return t, err
	})
	if err != nil {
		return Tenant{}, err
	}
	return v.(Tenant), nil
}
