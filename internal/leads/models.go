package leads

import (
	"errors"
	"time"
)

type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusConverted Status = "converted"
	StatusLost      Status = "lost"
)

// Lead is a sales or service opportunity captured from a call. There is at
// most one lead per (CallID, Intent).
type Lead struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	CallID    string    `json:"call_id,omitempty"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Intent    string    `json:"intent"`
	Notes     string    `json:"notes,omitempty"`
	Score     int       `json:"score"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source is the classified utterance a lead may be captured from.
type Source struct {
	TenantID    string
	CallID      string
	CallerPhone string
	Intent      string
	Confidence  float64
	Utterance   string
}

var (
	ErrDuplicate       = errors.New("leads: lead already exists for call and intent")
	ErrNotFound        = errors.New("leads: not found")
	ErrInvalidArgument = errors.New("leads: invalid argument")
)
