package telephony

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ai-receptionist/internal/audit"
	"ai-receptionist/internal/calls"
	"ai-receptionist/internal/metrics"
	"ai-receptionist/internal/tenants"
	"ai-receptionist/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	BasePath     = "/webhooks/twilio/voice"
	SpeechPath   = BasePath + "/speech"
	NoInputPath  = BasePath + "/no-input"
	StatusPath   = BasePath + "/status"
	contentTwiML = "application/xml"
)

const (
	PromptGreeting   = "Please speak after the tone."
	PromptContinue   = "Please continue speaking."
	MsgNotConfigured = "Sorry, this number is not configured for our service."
	MsgCallError     = "Sorry, there was an error processing your call."
)

// SessionEngine is the part of calls.Engine the webhooks drive.
type SessionEngine interface {
	StartOrResume(ctx context.Context, carrierCallID string, tenant tenants.Tenant, from string) (calls.Outcome, error)
	Advance(ctx context.Context, carrierCallID string, u calls.Utterance) (calls.Outcome, error)
	NoInput(ctx context.Context, carrierCallID string) (calls.Outcome, error)
	Lookup(ctx context.Context, carrierCallID string) (calls.Call, error)
	End(ctx context.Context, carrierCallID string, req calls.EndRequest) (calls.Call, error)
}

type Auditor interface {
	TenantNotFound(ctx context.Context, carrierCallID, toNumber, fromNumber string)
	UnknownCall(ctx context.Context, carrierCallID, endpoint string)
	CallFailed(ctx context.Context, tenantID, callID, carrierCallID, reason string)
}

// Listen configures the speech window each Gather opens.
type Listen struct {
	Timeout       time.Duration
	SpeechTimeout time.Duration
}

// Handlers translates Twilio voice webhooks into session operations and the
// session's outcome back into TwiML. No conversation logic lives here.
type Handlers struct {
	Engine  SessionEngine
	Tenants tenants.Directory
	Audit   Auditor
	Metrics *metrics.Metrics
	Listen  Listen
	// Region is used to normalize numbers without a country code.
	Region string
}

func (h Handlers) Register(r gin.IRoutes) {
	r.POST(BasePath, h.HandleInboundCall)
	r.POST(SpeechPath, h.HandleSpeechResult)
	r.POST(NoInputPath, h.HandleNoInput)
	r.POST(StatusPath, h.HandleStatusCallback)
}

func (h Handlers) HandleInboundCall(c *gin.Context) {
	start := time.Now()
	log := logger.FromGin(c)

	form, err := ParseInboundCall(c, h.Region)
	if err != nil {
		log.Warn("twilio voice webhook parse failed", "err", err)
		h.write(c, "voice", "error", start, http.StatusBadRequest, NewResponse().Say(MsgCallError).Hangup())
		return
	}
	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())
	log = logger.ForCall(log, "", form.CallSid)

	tenant, err := h.Tenants.ByPhoneNumber(ctx, form.To)
	if errors.Is(err, tenants.ErrNotFound) {
		log.Info("inbound call to unconfigured number", "to", form.To)
		h.audit().TenantNotFound(ctx, form.CallSid, form.To, form.From)
		h.write(c, "voice", "declined", start, http.StatusOK, NewResponse().Say(MsgNotConfigured).Hangup())
		return
	}
	if err != nil {
		log.Error("tenant lookup failed", "to", form.To, "err", err)
		h.fail(c, "voice", start)
		return
	}

	out, err := h.Engine.StartOrResume(ctx, form.CallSid, tenant, form.From)
	if err != nil {
		log.Error("start call failed", "tenant_id", tenant.ID, "err", err)
		h.fail(c, "voice", start)
		return
	}
	h.write(c, "voice", "ok", start, http.StatusOK, h.render(out, PromptGreeting))
}

func (h Handlers) HandleSpeechResult(c *gin.Context) {
	start := time.Now()
	log := logger.FromGin(c)

	form, confidence, err := ParseSpeechResult(c)
	if err != nil {
		log.Warn("twilio speech webhook parse failed", "err", err)
		h.write(c, "speech", "error", start, http.StatusBadRequest, NewResponse().Say(MsgCallError).Hangup())
		return
	}
	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())

	out, err := h.Engine.Advance(ctx, form.CallSid, calls.Utterance{Text: form.SpeechResult, Confidence: confidence})
	h.respond(ctx, c, "speech", form.CallSid, start, out, err)
}

func (h Handlers) HandleNoInput(c *gin.Context) {
	start := time.Now()
	form, _, err := ParseSpeechResult(c)
	if err != nil {
		logger.FromGin(c).Warn("twilio no-input webhook parse failed", "err", err)
		h.write(c, "no_input", "error", start, http.StatusBadRequest, NewResponse().Say(MsgCallError).Hangup())
		return
	}
	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())

	out, err := h.Engine.NoInput(ctx, form.CallSid)
	h.respond(ctx, c, "no_input", form.CallSid, start, out, err)
}

// HandleStatusCallback ends the session when the carrier reports the call is
// over. It always answers 204; Twilio ignores status callback bodies.
func (h Handlers) HandleStatusCallback(c *gin.Context) {
	start := time.Now()
	log := logger.FromGin(c)

	form, err := ParseStatusCallback(c)
	if err != nil {
		log.Warn("twilio status callback parse failed", "err", err)
		h.done(c, "status", "error", start)
		return
	}
	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())
	log = logger.ForCall(log, "", form.CallSid)

	call, err := h.Engine.Lookup(ctx, form.CallSid)
	if errors.Is(err, calls.ErrNotFound) {
		h.audit().UnknownCall(ctx, form.CallSid, "status")
		h.done(c, "status", "unknown_call", start)
		return
	}
	if err != nil {
		log.Error("status callback lookup failed", "err", err)
		h.done(c, "status", "error", start)
		return
	}

	status, ok := CarrierStatus(form.CallStatus, call.Seq)
	if !ok || call.Status.Terminal() {
		h.done(c, "status", "ok", start)
		return
	}
	if _, err := h.Engine.End(ctx, form.CallSid, calls.EndRequest{
		Status:          status,
		Reason:          "carrier:" + form.CallStatus,
		DurationSeconds: form.CallDuration,
	}); err != nil {
		log.Error("end call from status callback failed", "status", form.CallStatus, "err", err)
		h.done(c, "status", "error", start)
		return
	}
	h.done(c, "status", "ok", start)
}

// CarrierStatus maps a Twilio CallStatus to the terminal session status it
// implies. turns is the number of committed speech turns; a call that
// completes without any is missed. Non-final statuses report false.
func CarrierStatus(callStatus string, turns int) (calls.Status, bool) {
	switch callStatus {
	case "completed", "canceled":
		if turns > 0 {
			return calls.StatusCompleted, true
		}
		return calls.StatusMissed, true
	case "busy", "no-answer":
		return calls.StatusMissed, true
	case "failed":
		return calls.StatusFailed, true
	default:
		return "", false
	}
}

func (h Handlers) respond(ctx context.Context, c *gin.Context, endpoint, carrierCallID string, start time.Time, out calls.Outcome, err error) {
	log := logger.ForCall(logger.FromGin(c), out.Call.TenantID, carrierCallID)
	switch {
	case errors.Is(err, calls.ErrNotFound):
		log.Warn("webhook for unknown call", "endpoint", endpoint)
		h.audit().UnknownCall(ctx, carrierCallID, endpoint)
		h.write(c, endpoint, "unknown_call", start, http.StatusOK, NewResponse().Say(calls.ApologyRequest).Hangup())
		return
	case errors.Is(err, calls.ErrCallFailed):
		log.Error("call failed", "endpoint", endpoint, "call_id", out.Call.ID, "err", err)
		h.audit().CallFailed(ctx, out.Call.TenantID, out.Call.ID, carrierCallID, out.Call.EndReason)
		h.fail(c, endpoint, start)
		return
	case err != nil:
		log.Error("session operation failed", "endpoint", endpoint, "err", err)
		h.fail(c, endpoint, start)
		return
	}
	h.write(c, endpoint, "ok", start, http.StatusOK, h.render(out, PromptContinue))
}

// render turns an outcome into TwiML: keep listening, hand off, or hang up.
func (h Handlers) render(out calls.Outcome, prompt string) *Response {
	r := NewResponse().Say(out.Reply)
	switch {
	case out.Continue:
		r.Gather(Gather{
			Action:        SpeechPath,
			Prompt:        prompt,
			Timeout:       h.Listen.Timeout,
			SpeechTimeout: h.Listen.SpeechTimeout,
		}).Redirect(NoInputPath)
	case out.TransferTo != "":
		r.Dial(out.TransferTo)
	default:
		r.Say(out.Farewell).Hangup()
	}
	return r
}

func (h Handlers) fail(c *gin.Context, endpoint string, start time.Time) {
	h.write(c, endpoint, "error", start, http.StatusInternalServerError, NewResponse().Say(MsgCallError).Hangup())
}

func (h Handlers) write(c *gin.Context, endpoint, outcome string, start time.Time, code int, r *Response) {
	body, err := r.Render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		code, outcome = http.StatusInternalServerError, "error"
		body = xmlFallback
	}
	h.Metrics.Webhook(endpoint, outcome, time.Since(start).Seconds())
	c.Data(code, contentTwiML, []byte(body))
}

func (h Handlers) done(c *gin.Context, endpoint, outcome string, start time.Time) {
	h.Metrics.Webhook(endpoint, outcome, time.Since(start).Seconds())
	c.Status(http.StatusNoContent)
}

func (h Handlers) audit() Auditor {
	if h.Audit == nil {
		return nopAuditor{}
	}
	return h.Audit
}

const xmlFallback = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Hangup></Hangup></Response>`

type nopAuditor struct{}

func (nopAuditor) TenantNotFound(context.Context, string, string, string) {}
func (nopAuditor) UnknownCall(context.Context, string, string) {}
func (nopAuditor) CallFailed(context.Context, string, string, string, string) {}
