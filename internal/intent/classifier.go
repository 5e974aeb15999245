// Package intent turns a caller utterance into an intent, a confidence and
// the reply the assistant speaks next.
package intent

import (
	"context"
	"strings"
)

const (
	AppointmentBooking = "appointment_booking"
	GeneralInquiry     = "general_inquiry"
	TechnicalSupport   = "technical_support"
	Farewell           = "farewell"
	Other              = "other"
)

// Action tells the session what to do after the reply is spoken.
type Action string

const (
	ActionContinue Action = "continue"
	ActionTransfer Action = "transfer"
	ActionClose    Action = "close"
)

// Result is the classification of one utterance. Confidence is in [0,1].
type Result struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reply      string  `json:"reply"`
	Action     Action  `json:"action"`
}

// Continue reports whether the conversation keeps listening.
func (r Result) Continue() bool { return r.Action == ActionContinue }

// TenantContext is the slice of tenant configuration a classifier may use.
type TenantContext struct {
	Name         string
	BusinessType string
	Open         bool
}

// Classifier must be free of side effects.
type Classifier interface {
	Classify(ctx context.Context, utterance string, tenant TenantContext) (Result, error)
}

// FallbackReply is spoken whenever classification cannot produce a result.
const FallbackReply = "I understand. How else can I help you today?"

// Fallback is the result used when classification fails or times out.
func Fallback() Result {
	return Result{Intent: Other, Confidence: 0.5, Reply: FallbackReply, Action: ActionContinue}
}

type rule struct {
	intent     string
	confidence float64
	action     Action
	keywords   []string
	reply      func(TenantContext) string
}

// KeywordClassifier matches lowercase keywords in rule order. The first rule
// with a hit wins.
type KeywordClassifier struct {
	rules []rule
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{rules: []rule{
		{
			intent:     AppointmentBooking,
			confidence: 0.9,
			action:     ActionContinue,
			keywords:   []string{"appointment", "schedule", "book", "reschedule"},
			reply: func(tc TenantContext) string {
				if !tc.Open {
					return "Our office is closed right now, but I can still help you schedule an appointment. What day works best for you?"
				}
				return "I'd be happy to help you schedule an appointment. What day works best for you?"
			},
		},
		{
			intent:     GeneralInquiry,
			confidence: 0.8,
			action:     ActionContinue,
			keywords:   []string{"question", "information", "price", "cost", "hours"},
			reply: func(tc TenantContext) string {
				if tc.Name != "" {
					return "I can help answer your questions about " + tc.Name + ". What would you like to know?"
				}
				return "I can help answer your questions. What would you like to know?"
			},
		},
		{
			intent:     TechnicalSupport,
			confidence: 0.8,
			action:     ActionTransfer,
			keywords:   []string{"problem", "issue", "broken", "not working", "complaint"},
			reply: func(TenantContext) string {
				return "I'm sorry to hear you're having an issue. Let me connect you with our support team."
			},
		},
		{
			intent:     Farewell,
			confidence: 0.9,
			action:     ActionClose,
			keywords:   []string{"goodbye", "bye", "that's all", "that is all", "nothing else"},
			reply: func(TenantContext) string {
				return "You're welcome. Thanks for calling!"
			},
		},
	}}
}

func (k *KeywordClassifier) Classify(ctx context.Context, utterance string, tc TenantContext) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	text := strings.ToLower(utterance)
	for _, r := range k.rules {
		for _, kw := range r.keywords {
			if containsWord(text, kw) {
				return Result{Intent: r.intent, Confidence: r.confidence, Reply: r.reply(tc), Action: r.action}, nil
			}
		}
	}
	return Fallback(), nil
}

// containsWord matches kw at the start of a word: "book" matches "booking"
// and "issue" matches "issues", but "book" does not match "facebook".
func containsWord(text, kw string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], kw)
		if j < 0 {
			return false
		}
		start := i + j
		if start == 0 || !isLetter(text[start-1]) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool { return b >= 'a' && b <= 'z' }
