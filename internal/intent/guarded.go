package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ai-receptionist/internal/metrics"
)

// Guarded bounds a classifier with a timeout and converts every failure
// (error, panic, overrun, out-of-range confidence) into Fallback.
// Classify on a Guarded never returns an error.
type Guarded struct {
	next    Classifier
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewGuarded(next Classifier, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Guarded {
	if log == nil {
		log = slog.Default()
	}
	return &Guarded{next: next, timeout: timeout, log: log, metrics: m}
}

type outcome struct {
	res Result
	err error
}

func (g *Guarded) Classify(ctx context.Context, utterance string, tc TenantContext) (Result, error) {
	start := time.Now()
	cctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", errPanic, p)}
			}
		}()
		res, err := g.next.Classify(cctx, utterance, tc)
		done <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-cctx.Done():
		out = outcome{err: cctx.Err()}
	}
	g.metrics.Classified(time.Since(start).Seconds())

	if out.err == nil {
		out.err = validResult(out.res)
	}
	if out.err != nil {
		reason := "error"
		switch {
		case errors.Is(out.err, errPanic):
			reason = "panic"
		case errors.Is(out.err, context.DeadlineExceeded):
			reason = "timeout"
		}
		g.metrics.ClassifierFallback(reason)
		g.log.Warn("intent classification fell back", "reason", reason, "err", out.err)
		return Fallback(), nil
	}
	return out.res, nil
}

var errPanic = errors.New("intent: classifier panicked")

func validResult(r Result) error {
	if r.Intent == "" || r.Reply == "" {
		return errors.New("intent: empty result")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("intent: confidence %v out of range", r.Confidence)
	}
	switch r.Action {
	case ActionContinue, ActionTransfer, ActionClose:
		return nil
	default:
		return fmt.Errorf("intent: unknown action %q", r.Action)
	}
}
