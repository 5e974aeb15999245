// Package leads captures follow-up opportunities from classified call turns.
package leads

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"ai-receptionist/internal/metrics"

	"github.com/google/uuid"
)

// DefaultIntents are the intents worth a lead when none are configured.
var DefaultIntents = []string{"appointment_booking", "general_inquiry"}

type Capture struct {
	repo    Repository
	worthy  map[string]struct{}
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewCapture(repo Repository, intents []string, log *slog.Logger, m *metrics.Metrics) *Capture {
	if len(intents) == 0 {
		intents = DefaultIntents
	}
	if log == nil {
		log = slog.Default()
	}
	worthy := make(map[string]struct{}, len(intents))
	for _, i := range intents {
		worthy[i] = struct{}{}
	}
	return &Capture{repo: repo, worthy: worthy, log: log, metrics: m, clock: time.Now}
}

// Worthy reports whether intent produces a lead.
func (c *Capture) Worthy(intent string) bool {
	_, ok := c.worthy[intent]
	return ok
}

// CaptureIfApplicable creates a lead for a lead-worthy intent unless one exists
// for the same call and intent. It reports whether a new lead was written.
// A concurrent duplicate is success.
func (c *Capture) CaptureIfApplicable(ctx context.Context, src Source) (bool, error) {
	if !c.Worthy(src.Intent) {
		return false, nil
	}
	if src.TenantID == "" || src.CallID == "" {
		return false, ErrInvalidArgument
	}

	if _, err := c.repo.FindByCallIntent(ctx, src.CallID, src.Intent); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	now := c.clock().UTC()
	l := Lead{
		ID:        uuid.NewString(),
		TenantID:  src.TenantID,
		CallID:    src.CallID,
		Phone:     src.CallerPhone,
		Intent:    src.Intent,
		Notes:     strings.TrimSpace(src.Utterance),
		Score:     Score(src.Confidence),
		Status:    StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.repo.Insert(ctx, l); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	c.metrics.LeadCaptured(src.Intent)
	c.log.Info("lead captured", "tenant_id", src.TenantID, "call_id", src.CallID, "intent", src.Intent, "score", l.Score)
	return true, nil
}

// Score maps a [0,1] confidence to a 0-100 lead score.
func Score(confidence float64) int {
	s := int(math.Round(confidence * 100))
	return max(0, min(100, s))
}
