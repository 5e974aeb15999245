package tenants

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func sampleTenant() Tenant {
	return Tenant{
		ID:           "t1",
		Name:         "Bright Smiles Dental",
		BusinessType: "dental",
		PhoneNumber:  "+15557654321",
		Timezone:     "America/New_York",
		WorkingHours: WorkingHours{
			"monday":   {Open: "09:00", Close: "17:00"},
			"saturday": {Open: "22:00", Close: "02:00"},
		},
	}
}

func TestTenantIsOpen(t *testing.T) {
	tn := sampleTenant()
	ny, _ := time.LoadLocation("America/New_York")

	// 2023-11-13 is a Monday.
	if !tn.IsOpen(time.Date(2023, 11, 13, 10, 0, 0, 0, ny)) {
		t.Fatalf("expected open monday 10:00")
	}
	if tn.IsOpen(time.Date(2023, 11, 13, 17, 0, 0, 0, ny)) {
		t.Fatalf("expected closed at close time")
	}
	if tn.IsOpen(time.Date(2023, 11, 14, 10, 0, 0, 0, ny)) {
		t.Fatalf("expected closed on unscheduled tuesday")
	}
	if !tn.IsOpen(time.Date(2023, 11, 18, 23, 30, 0, 0, ny)) {
		t.Fatalf("expected overnight window open")
	}
	if !(Tenant{}).IsOpen(time.Now()) {
		t.Fatalf("empty schedule is always open")
	}
}

func TestTenantLocationFallsBackToUTC(t *testing.T) {
	if (Tenant{Timezone: "Mars/Olympus"}).Location() != time.UTC {
		t.Fatalf("expected utc fallback")
	}
}

func TestTenantValidate(t *testing.T) {
	if err := sampleTenant().Validate(); err != nil {
		t.Fatalf("expected valid tenant, got %v", err)
	}
	bad := sampleTenant()
	bad.PhoneNumber = "555"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected e164 error")
	}
	bad = sampleTenant()
	bad.WorkingHours = WorkingHours{"funday": {Open: "09:00", Close: "10:00"}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected weekday key error")
	}
}

func TestGreetingText(t *testing.T) {
	tn := sampleTenant()
	if got := tn.GreetingText(); got != "Hello, thank you for calling Bright Smiles Dental. How can I help you today?" {
		t.Fatalf("unexpected default greeting %q", got)
	}
	tn.Greeting = "Welcome!"
	if tn.GreetingText() != "Welcome!" {
		t.Fatalf("expected configured greeting")
	}
}

func TestMemoryDirectory(t *testing.T) {
	d := NewMemoryDirectory()
	tn := sampleTenant()
	tn.PhoneNumber = "(555) 765-4321"
	if err := d.Put(tn); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := d.ByPhoneNumber(context.Background(), "+15557654321")
	if err != nil || got.ID != "t1" {
		t.Fatalf("expected normalized lookup, got %+v %v", got, err)
	}
	if _, err := d.ByPhoneNumber(context.Background(), "+15550000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	other := sampleTenant()
	other.ID = "t2"
	if err := d.Put(other); !errors.Is(err, ErrNumberInUse) {
		t.Fatalf("expected number in use, got %v", err)
	}
}

type countingDirectory struct {
	calls atomic.Int32
	gate  chan struct{}
	inner Directory
}

func (c *countingDirectory) ByPhoneNumber(ctx context.Context, n string) (Tenant, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.inner.ByPhoneNumber(ctx, n)
}

func (c *countingDirectory) ByID(ctx context.Context, id string) (Tenant, error) {
	c.calls.Add(1)
	return c.inner.ByID(ctx, id)
}

func TestCachedDirectoryCollapsesConcurrentMisses(t *testing.T) {
	mem := NewMemoryDirectory()
	if err := mem.Put(sampleTenant()); err != nil {
		t.Fatalf("put: %v", err)
	}
	backend := &countingDirectory{inner: mem, gate: make(chan struct{})}
	cache := NewCachedDirectory(backend, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.ByPhoneNumber(context.Background(), "+15557654321"); err != nil {
				t.Errorf("lookup: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	if _, err := cache.ByPhoneNumber(context.Background(), "+15557654321"); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if n := backend.calls.Load(); n < 1 || n > 8 {
		t.Fatalf("unexpected backend calls %d", n)
	}
	before := backend.calls.Load()
	_, _ = cache.ByPhoneNumber(context.Background(), "+15557654321")
	if backend.calls.Load() != before {
		t.Fatalf("expected cache hit")
	}
}

func TestCachedDirectoryCachesNotFoundUntilExpiry(t *testing.T) {
	backend := &countingDirectory{inner: NewMemoryDirectory()}
	cache := NewCachedDirectory(backend, time.Minute)
	now := time.Unix(1700000000, 0).UTC()
	cache.clock = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := cache.ByPhoneNumber(context.Background(), "+15550000000"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if backend.calls.Load() != 1 {
		t.Fatalf("expected one backend call, got %d", backend.calls.Load())
	}
	now = now.Add(2 * time.Minute)
	_, _ = cache.ByPhoneNumber(context.Background(), "+15550000000")
	if backend.calls.Load() != 2 {
		t.Fatalf("expected refresh after ttl, got %d", backend.calls.Load())
	}
}

func TestPostgresDirectoryByPhoneNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Unix(1700000000, 0).UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "business_type", "phone_number", "greeting", "timezone", "working_hours", "transfer_number", "created_at", "updated_at"}).
		AddRow("t1", "Acme", "plumbing", "+15557654321", "Hi", "UTC", []byte(`{"monday":{"open":"08:00","close":"16:00"}}`), "+15551110000", now, now)
	mock.ExpectQuery(`FROM tenants\s+WHERE phone_number = \$1`).WithArgs("+15557654321").WillReturnRows(rows)

	d := NewPostgresDirectory(db)
	tn, err := d.ByPhoneNumber(context.Background(), "+15557654321")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if tn.Name != "Acme" || tn.WorkingHours["monday"].Open != "08:00" || tn.TransferNumber != "+15551110000" {
		t.Fatalf("unexpected tenant %+v", tn)
	}

	mock.ExpectQuery(`FROM tenants\s+WHERE id = \$1`).WithArgs("missing").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := d.ByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresDirectoryUpsertAllIsAtomic(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	d := NewPostgresDirectory(db)
	now := time.Unix(1700000000, 0).UTC()
	good := Tenant{ID: "t1", Name: "Acme", PhoneNumber: "(555) 123-4567"}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tenants`).
		WithArgs("t1", "Acme", "", "+15551234567", "", "UTC", []byte("{}"), "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	if err := d.UpsertAll(context.Background(), []Tenant{good}, now); err != nil {
		t.Fatalf("upsert all: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO tenants`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()
	err = d.UpsertAll(context.Background(), []Tenant{good, {ID: "t2"}}, now)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
