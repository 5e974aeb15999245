package leads

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"ai-receptionist/pkg/utils"
)

// Repository returns ErrDuplicate from Insert when (call_id, intent) exists.
type Repository interface {
	Insert(ctx context.Context, l Lead) error
	FindByCallIntent(ctx context.Context, callID, intent string) (Lead, error)
	CountCreated(ctx context.Context, tenantID string, from, to time.Time) (int, error)
}

type MemoryRepo struct {
	mu    sync.Mutex
	leads []Lead
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Insert(ctx context.Context, l Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.leads {
		if l.CallID != "" && x.CallID == l.CallID && x.Intent == l.Intent {
			return ErrDuplicate
		}
	}
	r.leads = append(r.leads, l)
	return nil
}

func (r *MemoryRepo) FindByCallIntent(ctx context.Context, callID, intent string) (Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range r.leads {
		if x.CallID == callID && x.Intent == intent {
			return x, nil
		}
	}
	return Lead{}, ErrNotFound
}

func (r *MemoryRepo) CountCreated(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.leads {
		if x.TenantID == tenantID && !x.CreatedAt.Before(from) && x.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

// All returns a copy of every stored lead.
func (r *MemoryRepo) All() []Lead {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Lead, len(r.leads))
	copy(out, r.leads)
	return out
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

// Insert relies on leads_call_intent_key; ON CONFLICT DO NOTHING with no row
// returned means another writer got there first.
func (r *PostgresRepo) Insert(ctx context.Context, l Lead) error {
	const q = `
INSERT INTO leads (id, tenant_id, call_id, phone, name, email, intent, notes, score, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
ON CONFLICT (call_id, intent) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		l.ID,
		l.TenantID,
		nullable(l.CallID),
		l.Phone,
		l.Name,
		l.Email,
		l.Intent,
		l.Notes,
		l.Score,
		string(l.Status),
		l.CreatedAt,
	)
	if err != nil {
		if utils.IsUniqueViolation(err, "") {
			return ErrDuplicate
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *PostgresRepo) FindByCallIntent(ctx context.Context, callID, intent string) (Lead, error) {
	const q = `
SELECT id, tenant_id, COALESCE(call_id::text, ''), phone, name, email, intent, notes, score, status, created_at, updated_at
FROM leads
WHERE call_id = $1 AND intent = $2
`
	var l Lead
	err := r.db.QueryRowContext(ctx, q, callID, intent).Scan(
		&l.ID,
		&l.TenantID,
		&l.CallID,
		&l.Phone,
		&l.Name,
		&l.Email,
		&l.Intent,
		&l.Notes,
		&l.Score,
		&l.Status,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	if err != nil {
		return Lead{}, err
	}
	return l, nil
}

func (r *PostgresRepo) CountCreated(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM leads WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3`
	var n int
	if err := r.db.QueryRowContext(ctx, q, tenantID, from, to).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
