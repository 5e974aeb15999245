package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestService_AppendRequiresTenantAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)

	if err := svc.Append(context.Background(), Event{Type: EventTypeOperatorEnd}); err == nil {
		t.Fatalf("expected tenant required for operator events")
	}
	if err := svc.Append(context.Background(), Event{TenantID: "t1"}); err == nil {
		t.Fatalf("expected type required")
	}
	if err := svc.Append(context.Background(), Event{Type: EventTypeTenantNotFound}); err != nil {
		t.Fatalf("ingress rejections need no tenant: %v", err)
	}
}

func TestService_CapturesClientIPFromContext(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := WithClientIP(context.Background(), "1.2.3.4")

	svc.TenantNotFound(ctx, "CA1", "+15550009999", "+15550001111")
	if err := svc.OperatorEnd(ctx, "t1", "u1", "owner", "c1", "completed", "caller asked"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].IPAddress != "1.2.3.4" || evs[0].Type != EventTypeTenantNotFound || evs[0].CarrierCallID != "CA1" {
		t.Fatalf("unexpected event %+v", evs[0])
	}
	if evs[0].Metadata != `{"from":"+15550001111","to":"+15550009999"}` {
		t.Fatalf("unexpected metadata %s", evs[0].Metadata)
	}
	if evs[1].ActorRole != "owner" || evs[1].ID == "" || evs[1].CreatedAt.IsZero() {
		t.Fatalf("unexpected operator event %+v", evs[1])
	}
}

func TestPostgresRepoAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs("e1", "", "unknown_call", "", "", "", "", "CA1", "webhook for unknown call", "{}", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err = NewPostgresRepo(db).Append(context.Background(), Event{
		ID: "e1", Type: EventTypeUnknownCall, CarrierCallID: "CA1", Message: "webhook for unknown call", CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryRepoDropsOldestPastLimit(t *testing.T) {
	repo := NewMemoryRepo()
	repo.limit = 3
	for i, typ := range []EventType{EventTypeUnknownCall, EventTypeTenantNotFound, EventTypeUnknownCall, EventTypeCallFailed} {
		if err := repo.Append(context.Background(), Event{ID: string(rune('a' + i)), Type: typ}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	evs := repo.Events()
	if len(evs) != 3 || evs[0].ID != "b" || evs[2].ID != "d" {
		t.Fatalf("unexpected events %+v", evs)
	}
	if n := len(repo.OfType(EventTypeUnknownCall)); n != 1 {
		t.Fatalf("expected 1 unknown_call event, got %d", n)
	}
}
