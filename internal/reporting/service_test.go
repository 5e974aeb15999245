package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-receptionist/internal/calls"
	"ai-receptionist/internal/leads"
)

func seed(t *testing.T, repo *calls.MemoryRepo, rows ...calls.Call) {
	t.Helper()
	for _, c := range rows {
		if c.CarrierCallID == "" {
			c.CarrierCallID = "CA" + c.ID
		}
		if _, _, err := repo.Create(context.Background(), c); err != nil {
			t.Fatalf("seed %s: %v", c.ID, err)
		}
	}
}

func TestStats_TenantIsolationAndAggregation(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	callRepo := calls.NewMemoryRepo()
	seed(t, callRepo,
		calls.Call{ID: "c1", TenantID: "t1", Status: calls.StatusCompleted, Intent: "appointment_booking", Confidence: 0.9, DurationSeconds: 60, CreatedAt: now},
		calls.Call{ID: "c2", TenantID: "t1", Status: calls.StatusEscalated, Intent: "technical_support", Confidence: 0.8, DurationSeconds: 30, CreatedAt: now},
		calls.Call{ID: "c3", TenantID: "t1", Status: calls.StatusMissed, DurationSeconds: 10, CreatedAt: now},
		calls.Call{ID: "c4", TenantID: "t1", Status: calls.StatusActive, CreatedAt: now},
		calls.Call{ID: "c5", TenantID: "t2", Status: calls.StatusCompleted, DurationSeconds: 99, CreatedAt: now},
		calls.Call{ID: "c6", TenantID: "t1", Status: calls.StatusCompleted, CreatedAt: now.Add(-48 * time.Hour)},
	)
	leadRepo := leads.NewMemoryRepo()
	_ = leadRepo.Insert(context.Background(), leads.Lead{ID: "l1", TenantID: "t1", CallID: "c1", Intent: "appointment_booking", CreatedAt: now})
	_ = leadRepo.Insert(context.Background(), leads.Lead{ID: "l2", TenantID: "t2", CallID: "c5", Intent: "general_inquiry", CreatedAt: now})

	svc := NewService(callRepo, leadRepo)
	out, err := svc.Stats(context.Background(), StatsRequest{TenantID: "t1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 4 || out.HandledByAI != 1 || out.Escalated != 1 || out.Missed != 1 || out.ActiveNow != 1 {
		t.Fatalf("unexpected counters %+v", out)
	}
	if out.LeadsCaptured != 1 {
		t.Fatalf("expected 1 lead, got %d", out.LeadsCaptured)
	}
	if out.TotalDurationSeconds != 100 || out.AverageDurationSeconds != 33 {
		t.Fatalf("unexpected durations %d %d", out.TotalDurationSeconds, out.AverageDurationSeconds)
	}
	if out.AverageConfidence != 0.85 || out.HandledRate != 0.33 {
		t.Fatalf("unexpected rates %v %v", out.AverageConfidence, out.HandledRate)
	}
	if out.ByIntent["appointment_booking"] != 1 || out.ByIntent["technical_support"] != 1 {
		t.Fatalf("unexpected intents %v", out.ByIntent)
	}
}

func TestStats_InvalidRequest(t *testing.T) {
	svc := NewService(calls.NewMemoryRepo(), leads.NewMemoryRepo())
	now := time.Now()
	cases := []StatsRequest{
		{Range: TimeRange{From: now, To: now.Add(time.Hour)}},
		{TenantID: "t1"},
		{TenantID: "t1", Range: TimeRange{From: now, To: now}},
	}
	for _, req := range cases {
		if _, err := svc.Stats(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected invalid request for %+v, got %v", req, err)
		}
	}
}

type failingLeads struct{}

func (failingLeads) CountCreated(context.Context, string, time.Time, time.Time) (int, error) {
	return 0, errors.New("db down")
}

func TestStats_SourceFailure(t *testing.T) {
	svc := NewService(calls.NewMemoryRepo(), failingLeads{})
	now := time.Now()
	if _, err := svc.Stats(context.Background(), StatsRequest{TenantID: "t1", Range: TimeRange{From: now, To: now.Add(time.Hour)}}); err == nil {
		t.Fatalf("expected error from lead source")
	}
}

func TestSummarize_Empty(t *testing.T) {
	out := Summarize(nil)
	if out.TotalCalls != 0 || out.AverageConfidence != 0 || out.HandledRate != 0 || out.ByIntent == nil {
		t.Fatalf("unexpected empty summary %+v", out)
	}
}
