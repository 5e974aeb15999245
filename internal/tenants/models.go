package tenants

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Tenant is one business whose published number routes to the receptionist.
// PhoneNumber is stored E.164-normalized and is unique across tenants.
type Tenant struct {
	ID             string       `json:"id" validate:"required"`
	Name           string       `json:"name" validate:"required,max=200"`
	BusinessType   string       `json:"business_type"`
	PhoneNumber    string       `json:"phone_number" validate:"required,e164"`
	Greeting       string       `json:"greeting" validate:"max=1000"`
	Timezone       string       `json:"timezone" validate:"omitempty,timezone"`
	WorkingHours   WorkingHours `json:"working_hours" validate:"dive,keys,oneof=monday tuesday wednesday thursday friday saturday sunday,endkeys"`
	TransferNumber string       `json:"transfer_number,omitempty" validate:"omitempty,e164"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// WorkingHours maps a lowercase weekday name to the hours the business is open.
// An empty schedule means always open; a missing day means closed all day.
type WorkingHours map[string]Window

// Window is an HH:MM opening range in the tenant's timezone. Close earlier
// than Open wraps past midnight.
type Window struct {
	Open  string `json:"open" validate:"required,datetime=15:04"`
	Close string `json:"close" validate:"required,datetime=15:04"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the tenant's configuration.
func (t Tenant) Validate() error {
	return validate.Struct(t)
}

// Location resolves the tenant timezone, falling back to UTC.
func (t Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsOpen reports whether at falls inside the tenant's working hours.
func (t Tenant) IsOpen(at time.Time) bool {
	if len(t.WorkingHours) == 0 {
		return true
	}
	local := at.In(t.Location())
	w, ok := t.WorkingHours[strings.ToLower(local.Weekday().String())]
	if !ok {
		return false
	}
	open, ok1 := minuteOfDay(w.Open)
	closeAt, ok2 := minuteOfDay(w.Close)
	if !ok1 || !ok2 {
		return false
	}
	now := local.Hour()*60 + local.Minute()
	if closeAt > open {
		return now >= open && now < closeAt
	}
	if closeAt == open {
		return true
	}
	return now >= open || now < closeAt
}

// GreetingText returns the configured greeting or a default built from Name.
func (t Tenant) GreetingText() string {
	if g := strings.TrimSpace(t.Greeting); g != "" {
		return g
	}
	if t.Name == "" {
		return "Hello, thank you for calling. How can I help you today?"
	}
	return "Hello, thank you for calling " + t.Name + ". How can I help you today?"
}

func minuteOfDay(hhmm string) (int, bool) {
	v, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return 0, false
	}
	return v.Hour()*60 + v.Minute(), true
}
