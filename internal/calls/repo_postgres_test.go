package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var callRowColumns = []string{
	"id", "tenant_id", "caller_phone", "carrier_call_id", "status", "intent", "confidence",
	"duration", "escalated_to_human", "end_reason", "version", "seq", "no_input_count",
	"last_utterance", "last_reply", "last_advanced_at", "created_at", "updated_at",
}

func TestPostgresRepoCreateConvergesOnCarrierID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)
	now := time.Unix(1700000000, 0).UTC()
	c := Call{ID: "c1", TenantID: "t1", CallerPhone: "+15550001111", CarrierCallID: "CA1", Status: StatusIncoming, CreatedAt: now}

	mock.ExpectExec(`INSERT INTO calls`).WillReturnResult(sqlmock.NewResult(0, 1))
	got, created, err := repo.Create(context.Background(), c)
	if err != nil || !created || got.Version != 1 {
		t.Fatalf("expected created, got %+v %v %v", got, created, err)
	}

	dup := c
	dup.ID = "c2"
	mock.ExpectExec(`INSERT INTO calls`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM calls WHERE carrier_call_id = \$1`).WithArgs("CA1").WillReturnRows(
		sqlmock.NewRows(callRowColumns).AddRow(
			"c1", "t1", "+15550001111", "CA1", "active", "general_inquiry", 0.8,
			0, false, "", int64(3), 1, 0, "what are your hours", "We're open", now, now, now,
		))
	got, created, err = repo.Create(context.Background(), dup)
	if err != nil || created {
		t.Fatalf("expected existing call, got created=%v err=%v", created, err)
	}
	if got.ID != "c1" || got.Status != StatusActive || got.Version != 3 || !got.LastAdvancedAt.Equal(now) {
		t.Fatalf("unexpected existing call %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepoUpdateIsCompareAndSwap(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewPostgresRepo(db)
	now := time.Unix(1700000000, 0).UTC()
	c := Call{ID: "c1", TenantID: "t1", CarrierCallID: "CA1", Status: StatusProcessing, Version: 4}

	mock.ExpectQuery(`UPDATE calls SET`).
		WithArgs("c1", int64(4), "processing", nil, 0.0, 0, false, "", 0, 0, "", "", nil).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}).AddRow(int64(5), now))
	saved, err := repo.Update(context.Background(), c)
	if err != nil || saved.Version != 5 || !saved.UpdatedAt.Equal(now) {
		t.Fatalf("expected bumped version, got %+v %v", saved, err)
	}

	mock.ExpectQuery(`UPDATE calls SET`).WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}))
	if _, err := repo.Update(context.Background(), c); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepoGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectQuery(`FROM calls WHERE id = \$1 AND tenant_id = \$2`).WithArgs("c9", "t1").
		WillReturnRows(sqlmock.NewRows(callRowColumns))
	if _, err := NewPostgresRepo(db).GetByID(context.Background(), "t1", "c9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryRepoUpdateConflict(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	c, _, _ := repo.Create(ctx, Call{ID: "c1", TenantID: "t1", CarrierCallID: "CA1", Status: StatusIncoming})
	if _, err := repo.Update(ctx, c); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := repo.Update(ctx, c); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected stale write rejected, got %v", err)
	}
}
