package tenants

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ai-receptionist/pkg/utils"
)

// PostgresDirectory reads tenants from the tenants table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory { return &PostgresDirectory{db: db} }

const selectTenant = `
SELECT id, name, business_type, phone_number, greeting, timezone, working_hours, transfer_number, created_at, updated_at
FROM tenants
`

func (d *PostgresDirectory) ByPhoneNumber(ctx context.Context, number string) (Tenant, error) {
	return d.one(ctx, selectTenant+`WHERE phone_number = $1`, number)
}

func (d *PostgresDirectory) ByID(ctx context.Context, id string) (Tenant, error) {
	return d.one(ctx, selectTenant+`WHERE id = $1`, id)
}

func (d *PostgresDirectory) one(ctx context.Context, q string, arg string) (Tenant, error) {
	var (
		t     Tenant
		hours []byte
	)
	err := d.db.QueryRowContext(ctx, q, arg).Scan(
		&t.ID,
		&t.Name,
		&t.BusinessType,
		&t.PhoneNumber,
		&t.Greeting,
		&t.Timezone,
		&hours,
		&t.TransferNumber,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &t.WorkingHours); err != nil {
			return Tenant{}, fmt.Errorf("tenants: working_hours for %s: %w", t.ID, err)
		}
	}
	return t, nil
}

// Upsert inserts or updates a tenant by id. It backs the seed command used by
// operators; the dashboard never writes tenants.
func (d *PostgresDirectory) Upsert(ctx context.Context, t Tenant, now time.Time) error {
	return upsert(ctx, d.db, t, now)
}

// UpsertAll writes every tenant in one transaction; any failure leaves the
// table unchanged.
func (d *PostgresDirectory) UpsertAll(ctx context.Context, ts []Tenant, now time.Time) error {
	return utils.WithTx(ctx, d.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, t := range ts {
			if err := upsert(ctx, tx, t, now); err != nil {
				return fmt.Errorf("tenant %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertTenant = `
INSERT INTO tenants (id, name, business_type, phone_number, greeting, timezone, working_hours, transfer_number, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  business_type = EXCLUDED.business_type,
  phone_number = EXCLUDED.phone_number,
  greeting = EXCLUDED.greeting,
  timezone = EXCLUDED.timezone,
  working_hours = EXCLUDED.working_hours,
  transfer_number = EXCLUDED.transfer_number,
  updated_at = EXCLUDED.updated_at
`

func upsert(ctx context.Context, ex execer, t Tenant, now time.Time) error {
	t, err := Prepare(t)
	if err != nil {
		return err
	}
	hours, err := json.Marshal(t.WorkingHours)
	if err != nil {
		return err
	}
	if t.WorkingHours == nil {
		hours = []byte("{}")
	}
	tz := t.Timezone
	if tz == "" {
		tz = "UTC"
	}
	_, err = ex.ExecContext(ctx, upsertTenant, t.ID, t.Name, t.BusinessType, t.PhoneNumber, t.Greeting, tz, hours, t.TransferNumber, now)
	if utils.IsUniqueViolation(err, "tenants_phone_number_key") {
		return ErrNumberInUse
	}
	return err
}
