// Package transcript records the ordered, append-only conversation log of a call.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"ai-receptionist/internal/metrics"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// Recorder appends entries for calls. Callers serialize appends per call; the
// session engine does this with its per-call lock.
type Recorder struct {
	repo    Repository
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time

	retryBase time.Duration
	pageSize  int
}

type RecorderOption func(*Recorder)

func WithClock(clock func() time.Time) RecorderOption {
	return func(r *Recorder) { r.clock = clock }
}

func WithRetryBase(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.retryBase = d }
}

func WithPageSize(n int) RecorderOption {
	return func(r *Recorder) { r.pageSize = n }
}

func NewRecorder(repo Repository, log *slog.Logger, m *metrics.Metrics, opts ...RecorderOption) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		repo:      repo,
		log:       log,
		metrics:   m,
		clock:     time.Now,
		retryBase: 50 * time.Millisecond,
		pageSize:  100,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Append adds one entry to the call. A zero ts means now, clamped so it is not
// earlier than the previous entry. An explicit ts earlier than the previous
// entry is rejected with ErrOutOfOrder.
//
// A storage failure is retried once. If the retry also fails the entry is
// dropped with a warning and ErrDropped is returned; callers are expected to
// carry on with the call.
func (r *Recorder) Append(ctx context.Context, callID string, speaker Speaker, message string, confidence float64, ts time.Time) (Entry, error) {
	message = strings.TrimSpace(message)
	if callID == "" || !speaker.Valid() || message == "" {
		return Entry{}, ErrInvalidArgument
	}
	if confidence < 0 || confidence > 1 {
		return Entry{}, fmt.Errorf("%w: confidence %v", ErrInvalidArgument, confidence)
	}

	entry := Entry{
		ID:         uuid.NewString(),
		CallID:     callID,
		Speaker:    speaker,
		Message:    message,
		Confidence: confidence,
	}

	attempt := 0
	backoff := retry.WithMaxRetries(1, retry.NewExponential(r.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			r.metrics.TranscriptRetry()
		}
		last, ok, err := r.repo.Last(ctx, callID)
		if err != nil {
			return retry.RetryableError(err)
		}
		entry.Position = 1
		entry.Timestamp = ts
		if ok {
			entry.Position = last.Position + 1
			if ts.IsZero() {
				entry.Timestamp = r.clock()
				if entry.Timestamp.Before(last.Timestamp) {
					entry.Timestamp = last.Timestamp
				}
			} else if ts.Before(last.Timestamp) {
				return ErrOutOfOrder
			}
		} else if ts.IsZero() {
			entry.Timestamp = r.clock()
		}
		entry.Timestamp = entry.Timestamp.UTC()

		if err := r.repo.Insert(ctx, entry); err != nil {
			if errors.Is(err, ErrConflict) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return entry, nil
	}
	if errors.Is(err, ErrOutOfOrder) || errors.Is(err, ErrConflict) {
		return Entry{}, err
	}
	r.metrics.TranscriptDrop()
	r.log.Warn("transcript entry dropped", "call_id", callID, "speaker", speaker, "attempts", attempt, "err", err)
	return Entry{}, fmt.Errorf("%w: %v", ErrDropped, err)
}

// EntriesFor yields the call's entries in order. The sequence is lazy, pages
// through storage as it is consumed, and can be ranged over again to restart
// from the first entry. A storage error is yielded once and ends the sequence.
func (r *Recorder) EntriesFor(ctx context.Context, callID string) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		after := 0
		for {
			page, err := r.repo.Page(ctx, callID, after, r.pageSize)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				after = e.Position
			}
			if len(page) < r.pageSize {
				return
			}
		}
	}
}

// Collect drains EntriesFor into a slice.
func (r *Recorder) Collect(ctx context.Context, callID string) ([]Entry, error) {
	var out []Entry
	for e, err := range r.EntriesFor(ctx, callID) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
