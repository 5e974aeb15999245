package calls

import (
	"context"
	"sort"
	"time"

	"ai-receptionist/pkg/utils"
)

const (
	snapshotScan   = 20
	snapshotRecent = 10
)

// Snapshot is the dashboard's view of a tenant: every live call plus the most
// recently finished ones.
type Snapshot struct {
	TenantID    string    `json:"tenant_id"`
	Active      []Call    `json:"active"`
	Recent      []Call    `json:"recent"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (e *Engine) Snapshot(ctx context.Context, tenantID string) (Snapshot, error) {
	sctx, cancel := utils.BoundedContext(ctx, e.opts.StorageTimeout)
	defer cancel()

	active, err := e.repo.ListActive(sctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	recent, err := e.repo.ListRecent(sctx, tenantID, snapshotScan)
	if err != nil {
		return Snapshot{}, err
	}
	s := BuildSnapshot(active, recent, snapshotRecent)
	s.TenantID = tenantID
	s.GeneratedAt = e.now()
	return s, nil
}

// BuildSnapshot merges the two listings. A call listed in both is reported
// once, under the status of its newest version.
func BuildSnapshot(active, recent []Call, limit int) Snapshot {
	byID := make(map[string]Call, len(active)+len(recent))
	for _, c := range append(append([]Call(nil), active...), recent...) {
		if cur, ok := byID[c.ID]; ok && cur.Version >= c.Version {
			continue
		}
		byID[c.ID] = c
	}

	s := Snapshot{Active: []Call{}, Recent: []Call{}}
	for _, c := range byID {
		if c.Status.Terminal() {
			s.Recent = append(s.Recent, c)
		} else {
			s.Active = append(s.Active, c)
		}
	}
	newestFirst(s.Active)
	newestFirst(s.Recent)
	if limit > 0 && len(s.Recent) > limit {
		s.Recent = s.Recent[:limit]
	}
	return s
}

func newestFirst(cs []Call) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].CreatedAt.Equal(cs[j].CreatedAt) {
			return cs[i].ID > cs[j].ID
		}
		return cs[i].CreatedAt.After(cs[j].CreatedAt)
	})
}
