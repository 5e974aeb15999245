package calls

import (
	"errors"
	"time"
)

// Call is one inbound phone call for one tenant. CarrierCallID is unique; a
// duplicate start event for the same carrier call resolves to the same Call.
//
// Version is bumped by every write and is the compare-and-swap token for
// Repository.Update. Seq counts committed speech turns.
type Call struct {
	ID               string  `json:"id"`
	TenantID         string  `json:"tenant_id"`
	CallerPhone      string  `json:"caller_phone"`
	CarrierCallID    string  `json:"carrier_call_id"`
	Status           Status  `json:"status"`
	Intent           string  `json:"intent,omitempty"`
	Confidence       float64 `json:"confidence"`
	DurationSeconds  int     `json:"duration"`
	EscalatedToHuman bool    `json:"escalated_to_human"`
	EndReason        string  `json:"end_reason,omitempty"`

	Version        int64     `json:"version"`
	Seq            int       `json:"seq"`
	NoInputCount   int       `json:"no_input_count"`
	LastUtterance  string    `json:"-"`
	LastReply      string    `json:"last_reply,omitempty"`
	LastAdvancedAt time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusIncoming   Status = "incoming"
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusEscalated  Status = "escalated"
	StatusMissed     Status = "missed"
	StatusFailed     Status = "failed"
)

// Terminal statuses are immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusEscalated, StatusMissed, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusIncoming, StatusActive, StatusProcessing, StatusCompleted, StatusEscalated, StatusMissed, StatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal state machine edge.
// Processing -> Processing is allowed so a turn interrupted by a crash can be
// resumed by the next event for the call.
func CanTransition(from, to Status) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	if to.Terminal() {
		return true
	}
	switch to {
	case StatusProcessing:
		return true
	case StatusActive:
		return from == StatusProcessing || from == StatusIncoming || from == StatusActive
	default:
		return false
	}
}

// Utterance is the speech-to-text result for one listen window.
type Utterance struct {
	Text       string
	Confidence float64
}

// Outcome is what the carrier should do next for a call.
type Outcome struct {
	Call Call
	// Reply is spoken first.
	Reply string
	// Continue means listen again after Reply.
	Continue bool
	// Farewell is spoken after Reply before hanging up.
	Farewell string
	// TransferTo is dialed after Reply when the call was escalated.
	TransferTo string
	// Replayed is set when a duplicate event was answered from the stored turn.
	Replayed bool
}

// EndRequest forces a call terminal from outside the conversation.
type EndRequest struct {
	Status          Status
	Reason          string
	DurationSeconds int
}

var (
	ErrNotFound          = errors.New("calls: not found")
	ErrVersionConflict   = errors.New("calls: version conflict")
	ErrInvalidTransition = errors.New("calls: invalid status transition")
	ErrLockTimeout       = errors.New("calls: timed out waiting for call lock")
	ErrInvalidArgument   = errors.New("calls: invalid argument")
	ErrCallFailed        = errors.New("calls: call failed")
)

// Spoken lines the engine owns.
const (
	ClosingCompleted = "Thank you for calling. Have a great day!"
	ClosingEscalated = "Please hold while I connect you with our team."
	ClosingMissed    = "I didn't hear anything. Please call back when you're ready to speak."
	ReplyNoInput     = "Sorry, I didn't catch that. How can I help you today?"
	ApologyRequest   = "Sorry, there was an error processing your request."
)
