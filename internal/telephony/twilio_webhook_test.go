package telephony

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"ai-receptionist/internal/audit"
	"ai-receptionist/internal/calls"
	"ai-receptionist/internal/intent"
	"ai-receptionist/internal/leads"
	"ai-receptionist/internal/tenants"
	"ai-receptionist/internal/transcript"
	"ai-receptionist/pkg/logger"

	"github.com/gin-gonic/gin"
)

type testEnv struct {
	router *gin.Engine
	calls  *calls.MemoryRepo
	leads  *leads.MemoryRepo
	audit  *audit.MemoryRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil)
}

func newTestEnvWith(t *testing.T, override func(*calls.Deps)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := tenants.NewMemoryDirectory()
	if err := dir.Put(tenants.Tenant{
		ID:             "t1",
		Name:           "Acme Plumbing",
		PhoneNumber:    "+15557654321",
		Greeting:       "Thanks for calling Acme Plumbing, how can we help?",
		TransferNumber: "+15559876543",
	}); err != nil {
		t.Fatalf("put tenant: %v", err)
	}

	callRepo := calls.NewMemoryRepo()
	leadRepo := leads.NewMemoryRepo()
	auditRepo := audit.NewMemoryRepo()
	deps := calls.Deps{
		Repo:       callRepo,
		Tenants:    dir,
		Classifier: intent.NewGuarded(intent.NewKeywordClassifier(), time.Second, log, nil),
		Recorder:   transcript.NewRecorder(transcript.NewMemoryRepo(), log, nil),
		Leads:      leads.NewCapture(leadRepo, nil, log, nil),
		Log:        log,
	}
	if override != nil {
		override(&deps)
	}
	engine := calls.NewEngine(deps, calls.Options{})

	h := Handlers{
		Engine:  engine,
		Tenants: dir,
		Audit:   audit.NewService(auditRepo, log),
		Listen:  Listen{Timeout: 10 * time.Second, SpeechTimeout: 3 * time.Second},
		Region:  "US",
	}
	r := gin.New()
	r.Use(logger.Middleware(log))
	h.Register(r)
	return &testEnv{router: r, calls: callRepo, leads: leadRepo, audit: auditRepo}
}

func (e *testEnv) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) inbound(sid string) *httptest.ResponseRecorder {
	return e.post(BasePath, url.Values{"CallSid": {sid}, "From": {"(555) 000-1111"}, "To": {"+1 555 765 4321"}, "CallStatus": {"ringing"}})
}

func (e *testEnv) speech(sid, text string) *httptest.ResponseRecorder {
	return e.post(SpeechPath, url.Values{"CallSid": {sid}, "SpeechResult": {text}, "Confidence": {"0.91"}})
}

// esc renders s the way the TwiML encoder escapes text.
func esc(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func mustContain(t *testing.T, body string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(body, w) {
			t.Fatalf("expected %q in body:\n%s", w, body)
		}
	}
}

func TestInboundCallToUnconfiguredNumber(t *testing.T) {
	env := newTestEnv(t)
	w := env.post(BasePath, url.Values{"CallSid": {"CA1"}, "From": {"+15550001111"}, "To": {"+15550009999"}})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != contentTwiML {
		t.Fatalf("unexpected content type %q", ct)
	}
	mustContain(t, w.Body.String(), MsgNotConfigured, "<Hangup>")
	if _, err := env.calls.GetByCarrierID(context.Background(), "CA1"); err == nil {
		t.Fatalf("no call may be created for an unconfigured number")
	}
	evs := env.audit.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeTenantNotFound || evs[0].CarrierCallID != "CA1" {
		t.Fatalf("expected tenant_not_found audit event, got %+v", evs)
	}
}

func TestInboundCallGreetsAndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first := env.inbound("CA1")
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	mustContain(t, first.Body.String(),
		"Thanks for calling Acme Plumbing, how can we help?",
		`action="/webhooks/twilio/voice/speech"`,
		`timeout="10" speechTimeout="3"`,
		PromptGreeting,
		NoInputPath,
	)

	second := env.inbound("CA1")
	if second.Body.String() != first.Body.String() {
		t.Fatalf("duplicate start should render the same greeting")
	}
	c, err := env.calls.GetByCarrierID(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("call not stored: %v", err)
	}
	if c.CallerPhone != "+15550001111" || c.TenantID != "t1" {
		t.Fatalf("unexpected call %+v", c)
	}
}

func TestSpeechContinuesAndCapturesLead(t *testing.T) {
	env := newTestEnv(t)
	env.inbound("CA1")

	w := env.speech("CA1", "I want to book an appointment")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	mustContain(t, w.Body.String(), "appointment", PromptContinue, "<Gather", "<Redirect")
	if n := len(env.leads.All()); n != 1 {
		t.Fatalf("expected one lead, got %d", n)
	}

	dup := env.speech("CA1", "I want to book an appointment")
	if dup.Body.String() != w.Body.String() {
		t.Fatalf("replayed speech should render the same reply")
	}
	if n := len(env.leads.All()); n != 1 {
		t.Fatalf("replay must not add leads, got %d", n)
	}
}

func TestSpeechForUnknownCall(t *testing.T) {
	env := newTestEnv(t)
	w := env.speech("CA404", "hello")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	mustContain(t, w.Body.String(), calls.ApologyRequest, "<Hangup>")
	evs := env.audit.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeUnknownCall {
		t.Fatalf("expected unknown_call audit event, got %+v", evs)
	}
}

type brokenLeads struct{}

func (brokenLeads) CaptureIfApplicable(context.Context, leads.Source) (bool, error) {
	return false, errors.New("leads table unavailable")
}

func TestSpeechFailureIs500(t *testing.T) {
	env := newTestEnvWith(t, func(d *calls.Deps) { d.Leads = brokenLeads{} })
	env.inbound("CA1")

	w := env.speech("CA1", "I'd like to schedule an appointment")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	mustContain(t, w.Body.String(), esc(MsgCallError), "<Hangup>")
	if strings.Contains(w.Body.String(), "<Gather") {
		t.Fatalf("failed call must stop listening")
	}

	c, _ := env.calls.GetByCarrierID(context.Background(), "CA1")
	if c.Status != calls.StatusFailed || c.EndReason != "error" {
		t.Fatalf("expected failed call, got %+v", c)
	}
	if evs := env.audit.OfType(audit.EventTypeCallFailed); len(evs) != 1 {
		t.Fatalf("expected one call_failed audit event, got %+v", evs)
	}
}

func TestCarrierCallIdFallback(t *testing.T) {
	env := newTestEnv(t)
	w := env.post(BasePath, url.Values{"CarrierCallId": {"GW-7"}, "From": {"+15550001111"}, "To": {"+15557654321"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, err := env.calls.GetByCarrierID(context.Background(), "GW-7"); err != nil {
		t.Fatalf("call not keyed by CarrierCallId: %v", err)
	}

	sp := env.post(SpeechPath, url.Values{"CarrierCallId": {"GW-7"}, "SpeechResult": {"what are your hours"}})
	mustContain(t, sp.Body.String(), "<Gather")

	both := env.post(SpeechPath, url.Values{"CallSid": {"GW-7"}, "CarrierCallId": {"other"}, "SpeechResult": {"and on weekends"}})
	if both.Code != http.StatusOK {
		t.Fatalf("CallSid should win over CarrierCallId, got %d", both.Code)
	}
	c, _ := env.calls.GetByCarrierID(context.Background(), "GW-7")
	if c.Seq != 2 {
		t.Fatalf("expected two turns on GW-7, got %+v", c)
	}
}

func TestSpeechEscalationDialsTransferNumber(t *testing.T) {
	env := newTestEnv(t)
	env.inbound("CA1")
	w := env.speech("CA1", "my toilet is broken")
	mustContain(t, w.Body.String(), "support team", "<Number>+15559876543</Number>")
	if strings.Contains(w.Body.String(), "<Gather") {
		t.Fatalf("escalated call must stop listening")
	}
}

func TestSpeechFarewellHangsUp(t *testing.T) {
	env := newTestEnv(t)
	env.inbound("CA1")
	w := env.speech("CA1", "that's all, goodbye")
	mustContain(t, w.Body.String(), calls.ClosingCompleted, "<Hangup>")
	c, _ := env.calls.GetByCarrierID(context.Background(), "CA1")
	if c.Status != calls.StatusCompleted {
		t.Fatalf("expected completed, got %s", c.Status)
	}
}

func TestNoInputTwiceEndsCall(t *testing.T) {
	env := newTestEnv(t)
	env.inbound("CA1")

	first := env.post(NoInputPath, url.Values{"CallSid": {"CA1"}})
	mustContain(t, first.Body.String(), esc(calls.ReplyNoInput), "<Gather")

	second := env.post(NoInputPath, url.Values{"CallSid": {"CA1"}})
	mustContain(t, second.Body.String(), esc(calls.ClosingMissed), "<Hangup>")
	c, _ := env.calls.GetByCarrierID(context.Background(), "CA1")
	if c.Status != calls.StatusMissed {
		t.Fatalf("expected missed, got %s", c.Status)
	}
}

func TestStatusCallbackEndsCall(t *testing.T) {
	env := newTestEnv(t)
	env.inbound("CA1")

	ringing := env.post(StatusPath, url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}})
	if ringing.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", ringing.Code)
	}
	c, _ := env.calls.GetByCarrierID(context.Background(), "CA1")
	if c.Status.Terminal() {
		t.Fatalf("non-final carrier status must not end the call")
	}

	w := env.post(StatusPath, url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}, "CallDuration": {"12"}})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	c, _ = env.calls.GetByCarrierID(context.Background(), "CA1")
	if c.Status != calls.StatusMissed || c.DurationSeconds != 12 || c.EndReason != "carrier:completed" {
		t.Fatalf("call without turns should end missed, got %+v", c)
	}
}

func TestBadFormIs400(t *testing.T) {
	env := newTestEnv(t)
	w := env.post(SpeechPath, url.Values{"SpeechResult": {"hi"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCarrierStatus(t *testing.T) {
	cases := []struct {
		in    string
		turns int
		want  calls.Status
		ok    bool
	}{
		{"completed", 2, calls.StatusCompleted, true},
		{"completed", 0, calls.StatusMissed, true},
		{"canceled", 1, calls.StatusCompleted, true},
		{"busy", 0, calls.StatusMissed, true},
		{"no-answer", 3, calls.StatusMissed, true},
		{"failed", 0, calls.StatusFailed, true},
		{"ringing", 0, "", false},
	}
	for _, tc := range cases {
		got, ok := CarrierStatus(tc.in, tc.turns)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s/%d: got %s %v", tc.in, tc.turns, got, ok)
		}
	}
}

func TestParseConfidence(t *testing.T) {
	if parseConfidence("0.93") != 0.93 || parseConfidence("") != 0 || parseConfidence("7") != 1 || parseConfidence("-1") != 0 {
		t.Fatalf("unexpected confidence parsing")
	}
}
