package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ai-receptionist/pkg/utils"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `id, tenant_id, caller_phone, carrier_call_id, status, COALESCE(intent, ''), confidence,
duration, escalated_to_human, end_reason, version, seq, no_input_count, last_utterance, last_reply,
last_advanced_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c        Call
		advanced sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.CallerPhone,
		&c.CarrierCallID,
		&c.Status,
		&c.Intent,
		&c.Confidence,
		&c.DurationSeconds,
		&c.EscalatedToHuman,
		&c.EndReason,
		&c.Version,
		&c.Seq,
		&c.NoInputCount,
		&c.LastUtterance,
		&c.LastReply,
		&advanced,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	if advanced.Valid {
		c.LastAdvancedAt = advanced.Time
	}
	return c, nil
}

// Create relies on calls_carrier_call_id_key so concurrent start events for one
// carrier call converge on a single row.
func (r *PostgresRepo) Create(ctx context.Context, c Call) (Call, bool, error) {
	const q = `
INSERT INTO calls (id, tenant_id, caller_phone, carrier_call_id, status, confidence, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,1,$7,$7)
ON CONFLICT (carrier_call_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.TenantID,
		c.CallerPhone,
		c.CarrierCallID,
		string(c.Status),
		c.Confidence,
		c.CreatedAt,
	)
	if err != nil && !utils.IsUniqueViolation(err, "calls_carrier_call_id_key") {
		return Call{}, false, err
	}
	if err == nil {
		if n, rerr := res.RowsAffected(); rerr == nil && n == 1 {
			c.Version = 1
			c.UpdatedAt = c.CreatedAt
			return c, true, nil
		}
	}
	existing, err := r.GetByCarrierID(ctx, c.CarrierCallID)
	if err != nil {
		return Call{}, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepo) GetByCarrierID(ctx context.Context, carrierCallID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE carrier_call_id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, carrierCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) GetByID(ctx context.Context, tenantID, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1 AND tenant_id = $2`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) Update(ctx context.Context, c Call) (Call, error) {
	const q = `
UPDATE calls SET
  status = $3,
  intent = $4,
  confidence = $5,
  duration = $6,
  escalated_to_human = $7,
  end_reason = $8,
  seq = $9,
  no_input_count = $10,
  last_utterance = $11,
  last_reply = $12,
  last_advanced_at = $13,
  version = version + 1,
  updated_at = now()
WHERE id = $1 AND version = $2
RETURNING version, updated_at
`
	var advanced any
	if !c.LastAdvancedAt.IsZero() {
		advanced = c.LastAdvancedAt
	}
	var intent any
	if c.Intent != "" {
		intent = c.Intent
	}
	err := r.db.QueryRowContext(ctx, q,
		c.ID,
		c.Version,
		string(c.Status),
		intent,
		c.Confidence,
		c.DurationSeconds,
		c.EscalatedToHuman,
		c.EndReason,
		c.Seq,
		c.NoInputCount,
		c.LastUtterance,
		c.LastReply,
		advanced,
	).Scan(&c.Version, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrVersionConflict
	}
	if err != nil {
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) ListRecent(ctx context.Context, tenantID string, limit int) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, q, tenantID, limit)
}

func (r *PostgresRepo) ListActive(ctx context.Context, tenantID string) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls
WHERE tenant_id = $1 AND status IN ('incoming', 'active', 'processing')
ORDER BY created_at DESC`
	return r.list(ctx, q, tenantID)
}

func (r *PostgresRepo) ListCreatedBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls
WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC`
	return r.list(ctx, q, tenantID, from, to)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
