package reporting

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"ai-receptionist/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// CallSource and LeadSource must filter by tenant. calls.Repository and
// leads.Repository satisfy them.
type CallSource interface {
	ListCreatedBetween(ctx context.Context, tenantID string, from, to time.Time) ([]calls.Call, error)
}

type LeadSource interface {
	CountCreated(ctx context.Context, tenantID string, from, to time.Time) (int, error)
}

type Service struct {
	calls CallSource
	leads LeadSource
}

func NewService(c CallSource, l LeadSource) *Service { return &Service{calls: c, leads: l} }

// Stats aggregates calls created inside the range. Both sources are queried
// concurrently; either failing fails the whole request.
func (s *Service) Stats(ctx context.Context, req StatsRequest) (Stats, error) {
	if req.TenantID == "" {
		return Stats{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return Stats{}, ErrInvalidRequest
	}
	if s.calls == nil || s.leads == nil {
		return Stats{}, errors.New("reporting: sources not configured")
	}

	var (
		rows  []calls.Call
		leads int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.calls.ListCreatedBetween(gctx, req.TenantID, req.Range.From, req.Range.To)
		return err
	})
	g.Go(func() error {
		var err error
		leads, err = s.leads.CountCreated(gctx, req.TenantID, req.Range.From, req.Range.To)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	out := Summarize(rows)
	out.TenantID = req.TenantID
	out.Range = req.Range
	out.LeadsCaptured = leads
	return out, nil
}

// Summarize folds call rows into counters. Confidence is averaged over calls
// that were classified at least once.
func Summarize(rows []calls.Call) Stats {
	out := Stats{ByIntent: map[string]int{}}
	var (
		confSum    float64
		classified int
		finished   int
	)
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.Intent != "" {
			out.ByIntent[c.Intent]++
			confSum += c.Confidence
			classified++
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.HandledByAI++
		case calls.StatusEscalated:
			out.Escalated++
		case calls.StatusMissed:
			out.Missed++
		case calls.StatusFailed:
			out.Failed++
		default:
			out.ActiveNow++
		}
		if c.Status.Terminal() {
			finished++
		}
	}
	if finished > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / finished
		out.HandledRate = round2(float64(out.HandledByAI) / float64(finished))
	}
	if classified > 0 {
		out.AverageConfidence = round2(confSum / float64(classified))
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
