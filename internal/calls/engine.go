package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ai-receptionist/internal/intent"
	"ai-receptionist/internal/leads"
	"ai-receptionist/internal/metrics"
	"ai-receptionist/internal/notify"
	"ai-receptionist/internal/tenants"
	"ai-receptionist/internal/transcript"
	"ai-receptionist/pkg/logger"
	"ai-receptionist/pkg/utils"

	"github.com/google/uuid"
)

type Recorder interface {
	Append(ctx context.Context, callID string, speaker transcript.Speaker, message string, confidence float64, ts time.Time) (transcript.Entry, error)
}

type LeadCapturer interface {
	CaptureIfApplicable(ctx context.Context, src leads.Source) (bool, error)
}

type Options struct {
	// ReplayWindow bounds how long a repeated utterance is answered from the
	// stored turn instead of being processed again.
	ReplayWindow   time.Duration
	StorageTimeout time.Duration
	// MaxNoInput consecutive silent listen windows end the call as missed.
	MaxNoInput int
}

func (o Options) withDefaults() Options {
	if o.ReplayWindow <= 0 {
		o.ReplayWindow = 15 * time.Second
	}
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = 3 * time.Second
	}
	if o.MaxNoInput <= 0 {
		o.MaxNoInput = 2
	}
	return o
}

type Deps struct {
	Repo       Repository
	Tenants    tenants.Directory
	Classifier intent.Classifier
	Recorder   Recorder
	Leads      LeadCapturer
	Publisher  notify.Publisher
	Locker     Locker
	Metrics    *metrics.Metrics
	Log        *slog.Logger
	Clock      func() time.Time
}

// Engine drives the per-call state machine. Every operation on one carrier
// call id runs inside the Locker's exclusive section, and every write is a
// version CAS, so work that loses a race with a forced end is thrown away.
type Engine struct {
	repo       Repository
	tenants    tenants.Directory
	classifier intent.Classifier
	recorder   Recorder
	leads      LeadCapturer
	publisher  notify.Publisher
	locker     Locker
	metrics    *metrics.Metrics
	log        *slog.Logger
	clock      func() time.Time
	opts       Options

	mu       sync.Mutex
	inflight map[string]*turn
}

type turn struct {
	cancel context.CancelFunc
}

func NewEngine(d Deps, opts Options) *Engine {
	e := &Engine{
		repo:       d.Repo,
		tenants:    d.Tenants,
		classifier: d.Classifier,
		recorder:   d.Recorder,
		leads:      d.Leads,
		publisher:  d.Publisher,
		locker:     d.Locker,
		metrics:    d.Metrics,
		log:        d.Log,
		clock:      d.Clock,
		opts:       opts.withDefaults(),
		inflight:   make(map[string]*turn),
	}
	if e.publisher == nil {
		e.publisher = notify.Nop{}
	}
	if e.locker == nil {
		e.locker = NewLocalLocker(5 * time.Second)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	return e
}

// StartOrResume returns the existing call for carrierCallID unchanged, or
// creates it in StatusIncoming and answers with the tenant greeting.
func (e *Engine) StartOrResume(ctx context.Context, carrierCallID string, tenant tenants.Tenant, from string) (Outcome, error) {
	if carrierCallID == "" || tenant.ID == "" {
		return Outcome{}, ErrInvalidArgument
	}

	existing, err := e.get(ctx, carrierCallID)
	if err == nil {
		return e.resume(existing, tenant), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Outcome{}, err
	}

	now := e.now()
	c := Call{
		ID:            uuid.NewString(),
		TenantID:      tenant.ID,
		CallerPhone:   from,
		CarrierCallID: carrierCallID,
		Status:        StatusIncoming,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	sctx, cancel := utils.BoundedContext(ctx, e.opts.StorageTimeout)
	stored, created, err := e.repo.Create(sctx, c)
	cancel()
	if err != nil {
		return Outcome{}, fmt.Errorf("create call: %w", err)
	}
	if !created {
		return e.resume(stored, tenant), nil
	}

	e.metrics.Transition("none", string(StatusIncoming))
	e.publishCall(ctx, notify.EventCallCreated, stored)
	logger.ForCall(e.log, tenant.ID, carrierCallID).Info("call started", "call_id", stored.ID, "caller", from)
	return Outcome{Call: stored, Reply: tenant.GreetingText(), Continue: true}, nil
}

func (e *Engine) resume(c Call, t tenants.Tenant) Outcome {
	if c.Status.Terminal() {
		return Outcome{Call: c, Reply: closingFor(c.Status), Replayed: true}
	}
	return Outcome{Call: c, Reply: t.GreetingText(), Continue: true, Replayed: true}
}

// Advance applies one caller utterance. An empty utterance counts as a silent
// listen window. A repeat of the last committed utterance inside the replay
// window returns the stored reply without new transcript entries or leads.
func (e *Engine) Advance(ctx context.Context, carrierCallID string, u Utterance) (Outcome, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return e.NoInput(ctx, carrierCallID)
	}
	confidence := max(0, min(1, u.Confidence))

	unlock, err := e.locker.Lock(ctx, carrierCallID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	call, err := e.get(ctx, carrierCallID)
	if err != nil {
		return Outcome{}, err
	}
	tenant := e.tenantFor(ctx, call.TenantID)
	now := e.now()

	if e.isReplay(call, text, now) {
		out := e.outcomeFor(call, call.LastReply, tenant)
		out.Replayed = true
		return out, nil
	}
	if call.Status.Terminal() {
		return Outcome{Call: call, Reply: closingFor(call.Status)}, nil
	}

	log := logger.ForCall(e.log, call.TenantID, carrierCallID)
	turnCtx, done := e.track(ctx, carrierCallID)
	defer done()
	// Writes after this point must land even if the carrier drops the request.
	store := context.WithoutCancel(ctx)

	call, err = e.transition(store, call, StatusProcessing, nil)
	if err != nil {
		return e.settle(store, carrierCallID, err)
	}

	if entry, err := e.recorder.Append(store, call.ID, transcript.SpeakerCaller, text, confidence, time.Time{}); err != nil {
		log.Warn("caller transcript entry not recorded", "call_id", call.ID, "err", err)
	} else {
		e.publishEntry(store, call.TenantID, entry)
	}

	res, err := e.classifier.Classify(turnCtx, text, intent.TenantContext{
		Name:         tenant.Name,
		BusinessType: tenant.BusinessType,
		Open:         tenant.IsOpen(now),
	})
	if err != nil {
		log.Warn("classification failed, using fallback", "err", err)
		res = intent.Fallback()
	}

	res.Confidence = max(0, min(1, res.Confidence))
	next := nextStatus(res.Action)
	call, err = e.transition(store, call, next, func(c *Call) {
		c.Intent = res.Intent
		c.Confidence = res.Confidence
		c.Seq++
		c.NoInputCount = 0
		c.LastUtterance = text
		c.LastReply = res.Reply
		c.LastAdvancedAt = now
		if next == StatusEscalated {
			c.EscalatedToHuman = true
		}
		if next.Terminal() {
			c.DurationSeconds = e.elapsed(*c)
			c.EndReason = string(res.Action)
		}
	})
	if err != nil {
		return e.settle(store, carrierCallID, err)
	}
	if turnCtx.Err() != nil {
		// A forced end may have landed right after our commit.
		if cur, err := e.get(store, carrierCallID); err == nil && cur.Version != call.Version && cur.Status.Terminal() {
			log.Info("turn discarded after call ended", "call_id", cur.ID, "status", cur.Status)
			return Outcome{Call: cur, Reply: closingFor(cur.Status)}, nil
		}
	}

	if entry, err := e.recorder.Append(store, call.ID, transcript.SpeakerAssistant, res.Reply, res.Confidence, time.Time{}); err != nil {
		log.Warn("assistant transcript entry not recorded", "call_id", call.ID, "err", err)
	} else {
		e.publishEntry(store, call.TenantID, entry)
	}

	if e.leads != nil {
		_, err := e.leads.CaptureIfApplicable(store, leads.Source{
			TenantID:    call.TenantID,
			CallID:      call.ID,
			CallerPhone: call.CallerPhone,
			Intent:      res.Intent,
			Confidence:  res.Confidence,
			Utterance:   text,
		})
		if err != nil {
			return e.Fail(store, call, fmt.Errorf("capture lead: %w", err))
		}
	}

	log.Info("call advanced", "call_id", call.ID, "intent", res.Intent, "confidence", res.Confidence, "status", call.Status, "seq", call.Seq)
	return e.outcomeFor(call, res.Reply, tenant), nil
}

// NoInput records one silent listen window. It re-prompts until MaxNoInput
// consecutive windows have passed, then ends the call as missed.
func (e *Engine) NoInput(ctx context.Context, carrierCallID string) (Outcome, error) {
	unlock, err := e.locker.Lock(ctx, carrierCallID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	call, err := e.get(ctx, carrierCallID)
	if err != nil {
		return Outcome{}, err
	}
	if call.Status.Terminal() {
		return Outcome{Call: call, Reply: closingFor(call.Status)}, nil
	}
	if call.NoInputCount+1 >= e.opts.MaxNoInput {
		return e.timeoutLocked(ctx, call)
	}

	call, err = e.transition(ctx, call, call.Status, func(c *Call) { c.NoInputCount++ })
	if err != nil {
		return e.settle(ctx, carrierCallID, err)
	}
	return Outcome{Call: call, Reply: ReplyNoInput, Continue: true}, nil
}

// Timeout ends a non-terminal call as missed.
func (e *Engine) Timeout(ctx context.Context, carrierCallID string) (Outcome, error) {
	unlock, err := e.locker.Lock(ctx, carrierCallID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	call, err := e.get(ctx, carrierCallID)
	if err != nil {
		return Outcome{}, err
	}
	return e.timeoutLocked(ctx, call)
}

func (e *Engine) timeoutLocked(ctx context.Context, call Call) (Outcome, error) {
	if call.Status.Terminal() {
		return Outcome{Call: call, Reply: closingFor(call.Status)}, nil
	}
	call, err := e.transition(ctx, call, StatusMissed, func(c *Call) {
		c.NoInputCount++
		c.DurationSeconds = e.elapsed(*c)
		c.EndReason = "no_input"
	})
	if err != nil {
		return e.settle(ctx, call.CarrierCallID, err)
	}
	logger.ForCall(e.log, call.TenantID, call.CarrierCallID).Info("call missed", "call_id", call.ID, "no_input_count", call.NoInputCount)
	return Outcome{Call: call, Reply: ClosingMissed}, nil
}

// Fail marks a call failed and returns the apology the caller hears along
// with reason wrapped in ErrCallFailed. The cause is logged but never spoken.
func (e *Engine) Fail(ctx context.Context, call Call, reason error) (Outcome, error) {
	log := logger.ForCall(e.log, call.TenantID, call.CarrierCallID)
	log.Error("call failed", "call_id", call.ID, "err", reason)

	cur := call
	for range 3 {
		if cur.Status.Terminal() {
			break
		}
		saved, err := e.transition(ctx, cur, StatusFailed, func(c *Call) {
			c.DurationSeconds = e.elapsed(*c)
			c.EndReason = "error"
		})
		if err == nil {
			cur = saved
			break
		}
		if !errors.Is(err, ErrVersionConflict) {
			log.Error("mark call failed", "call_id", call.ID, "err", err)
			break
		}
		reloaded, err := e.get(ctx, call.CarrierCallID)
		if err != nil {
			break
		}
		cur = reloaded
	}
	return Outcome{Call: cur, Reply: ApologyRequest}, fmt.Errorf("%w: %w", ErrCallFailed, reason)
}

// End forces a call into a terminal status on behalf of an operator or a
// carrier status callback. It does not wait for the per-call lock; an
// in-flight turn is cancelled once the end is committed and its remaining
// work is discarded by the version check. Ending a terminal call is a no-op.
func (e *Engine) End(ctx context.Context, carrierCallID string, req EndRequest) (Call, error) {
	if !req.Status.Terminal() {
		return Call{}, fmt.Errorf("%w: end as %q", ErrInvalidTransition, req.Status)
	}
	defer e.cancelTurn(carrierCallID)

	for range 5 {
		c, err := e.get(ctx, carrierCallID)
		if err != nil {
			return Call{}, err
		}
		if c.Status.Terminal() {
			return c, nil
		}
		saved, err := e.transition(ctx, c, req.Status, func(c *Call) {
			c.EndReason = req.Reason
			c.DurationSeconds = req.DurationSeconds
			if c.DurationSeconds <= 0 {
				c.DurationSeconds = e.elapsed(*c)
			}
			if req.Status == StatusEscalated {
				c.EscalatedToHuman = true
			}
		})
		if err == nil {
			logger.ForCall(e.log, c.TenantID, carrierCallID).Info("call ended", "call_id", c.ID, "status", saved.Status, "reason", req.Reason)
			return saved, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Call{}, err
		}
	}
	return Call{}, ErrVersionConflict
}

// EndByID is End for callers that know the call id and owning tenant.
func (e *Engine) EndByID(ctx context.Context, tenantID, callID string, req EndRequest) (Call, error) {
	sctx, cancel := utils.BoundedContext(ctx, e.opts.StorageTimeout)
	c, err := e.repo.GetByID(sctx, tenantID, callID)
	cancel()
	if err != nil {
		return Call{}, err
	}
	return e.End(ctx, c.CarrierCallID, req)
}

// Lookup returns the current state of a call.
func (e *Engine) Lookup(ctx context.Context, carrierCallID string) (Call, error) {
	return e.get(ctx, carrierCallID)
}

// settle resolves a failed write. A call that went terminal underneath us
// keeps that outcome with a nil error; anything else fails the call.
func (e *Engine) settle(ctx context.Context, carrierCallID string, cause error) (Outcome, error) {
	cur, err := e.get(ctx, carrierCallID)
	if err != nil {
		e.log.Error("reload call after failed write", "call_sid", carrierCallID, "err", err, "cause", cause)
		return Outcome{Reply: ApologyRequest}, fmt.Errorf("%w: %w", ErrCallFailed, cause)
	}
	if cur.Status.Terminal() {
		logger.ForCall(e.log, cur.TenantID, carrierCallID).Info("turn discarded after call ended", "call_id", cur.ID, "status", cur.Status)
		return Outcome{Call: cur, Reply: closingFor(cur.Status)}, nil
	}
	return e.Fail(ctx, cur, cause)
}

// transition writes c with status to after mutate. Staying in the same
// non-terminal status is allowed and only records the mutation.
func (e *Engine) transition(ctx context.Context, c Call, to Status, mutate func(*Call)) (Call, error) {
	from := c.Status
	if from.Terminal() || (from != to && !CanTransition(from, to)) {
		return c, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	next := c
	next.Status = to
	if mutate != nil {
		mutate(&next)
	}

	sctx, cancel := utils.BoundedContext(ctx, e.opts.StorageTimeout)
	defer cancel()
	saved, err := e.repo.Update(sctx, next)
	if err != nil {
		return c, err
	}
	if from != to {
		e.metrics.Transition(string(from), string(to))
	}
	e.publishCall(ctx, notify.EventCallUpdated, saved)
	return saved, nil
}

func (e *Engine) get(ctx context.Context, carrierCallID string) (Call, error) {
	sctx, cancel := utils.BoundedContext(ctx, e.opts.StorageTimeout)
	defer cancel()
	return e.repo.GetByCarrierID(sctx, carrierCallID)
}

func (e *Engine) tenantFor(ctx context.Context, tenantID string) tenants.Tenant {
	if e.tenants == nil {
		return tenants.Tenant{ID: tenantID}
	}
	t, err := e.tenants.ByID(ctx, tenantID)
	if err != nil {
		e.log.Warn("tenant lookup failed", "tenant_id", tenantID, "err", err)
		return tenants.Tenant{ID: tenantID}
	}
	return t
}

func (e *Engine) isReplay(c Call, text string, now time.Time) bool {
	if c.Seq == 0 || c.LastAdvancedAt.IsZero() {
		return false
	}
	if !strings.EqualFold(c.LastUtterance, text) {
		return false
	}
	return now.Sub(c.LastAdvancedAt) <= e.opts.ReplayWindow
}

func (e *Engine) outcomeFor(c Call, reply string, t tenants.Tenant) Outcome {
	o := Outcome{Call: c, Reply: reply}
	switch {
	case !c.Status.Terminal():
		o.Continue = true
	case c.Status == StatusCompleted:
		o.Farewell = ClosingCompleted
	case c.Status == StatusEscalated:
		o.TransferTo = t.TransferNumber
	}
	return o
}

func (e *Engine) track(ctx context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	t := &turn{cancel: cancel}
	e.mu.Lock()
	e.inflight[key] = t
	e.mu.Unlock()
	return ctx, func() {
		e.mu.Lock()
		if e.inflight[key] == t {
			delete(e.inflight, key)
		}
		e.mu.Unlock()
		cancel()
	}
}

func (e *Engine) cancelTurn(key string) {
	e.mu.Lock()
	t, ok := e.inflight[key]
	e.mu.Unlock()
	if ok {
		t.cancel()
	}
}

func (e *Engine) publishCall(ctx context.Context, typ notify.EventType, c Call) {
	ev, err := notify.NewEvent(typ, c.TenantID, c, e.now())
	if err != nil {
		e.log.Warn("build call event", "call_id", c.ID, "err", err)
		return
	}
	e.publisher.Publish(ctx, ev.Topic, ev)
}

func (e *Engine) publishEntry(ctx context.Context, tenantID string, entry transcript.Entry) {
	ev, err := notify.NewEvent(notify.EventTranscriptAppended, tenantID, entry, e.now())
	if err != nil {
		e.log.Warn("build transcript event", "call_id", entry.CallID, "err", err)
		return
	}
	e.publisher.Publish(ctx, ev.Topic, ev)
}

func (e *Engine) elapsed(c Call) int {
	return max(0, int(e.now().Sub(c.CreatedAt).Seconds()))
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

func nextStatus(a intent.Action) Status {
	switch a {
	case intent.ActionTransfer:
		return StatusEscalated
	case intent.ActionClose:
		return StatusCompleted
	default:
		return StatusActive
	}
}

func closingFor(s Status) string {
	switch s {
	case StatusCompleted:
		return ClosingCompleted
	case StatusEscalated:
		return ClosingEscalated
	case StatusMissed:
		return ClosingMissed
	default:
		return ApologyRequest
	}
}
