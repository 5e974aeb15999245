package transcript

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"ai-receptionist/pkg/utils"
)

// Repository is append-only. Insert returns ErrConflict if Position is taken.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
	Last(ctx context.Context, callID string) (Entry, bool, error)
	// Page returns up to limit entries with Position > after, in order.
	Page(ctx context.Context, callID string, after, limit int) ([]Entry, error)
}

// MemoryRepo is an in-memory Repository.
type MemoryRepo struct {
	mu      sync.Mutex
	entries map[string][]Entry

	// FailInserts makes the next n inserts fail, for exercising retry paths.
	FailInserts int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{entries: map[string][]Entry{}} }

var errInjected = errors.New("transcript: injected failure")

func (r *MemoryRepo) Insert(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailInserts > 0 {
		r.FailInserts--
		return errInjected
	}
	list := r.entries[e.CallID]
	if len(list) > 0 && list[len(list)-1].Position >= e.Position {
		return ErrConflict
	}
	r.entries[e.CallID] = append(list, e)
	return nil
}

func (r *MemoryRepo) Last(ctx context.Context, callID string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.entries[callID]
	if len(list) == 0 {
		return Entry{}, false, nil
	}
	return list[len(list)-1], true, nil
}

func (r *MemoryRepo) Page(ctx context.Context, callID string, after, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries[callID] {
		if e.Position <= after {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// PostgresRepo stores entries in call_transcripts.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO call_transcripts (id, call_id, position, speaker, message, confidence, timestamp)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	_, err := r.db.ExecContext(ctx, q, e.ID, e.CallID, e.Position, string(e.Speaker), e.Message, e.Confidence, e.Timestamp)
	if utils.IsUniqueViolation(err, "call_transcripts_position_key") {
		return ErrConflict
	}
	return err
}

func (r *PostgresRepo) Last(ctx context.Context, callID string) (Entry, bool, error) {
	const q = `
SELECT id, call_id, position, speaker, message, confidence, timestamp
FROM call_transcripts
WHERE call_id = $1
ORDER BY position DESC
LIMIT 1
`
	var e Entry
	err := r.db.QueryRowContext(ctx, q, callID).Scan(&e.ID, &e.CallID, &e.Position, &e.Speaker, &e.Message, &e.Confidence, &e.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (r *PostgresRepo) Page(ctx context.Context, callID string, after, limit int) ([]Entry, error) {
	const q = `
SELECT id, call_id, position, speaker, message, confidence, timestamp
FROM call_transcripts
WHERE call_id = $1 AND position > $2
ORDER BY position ASC
LIMIT $3
`
	rows, err := r.db.QueryContext(ctx, q, callID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.CallID, &e.Position, &e.Speaker, &e.Message, &e.Confidence, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
