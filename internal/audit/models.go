package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required except for ingress rejections, which happen before
//   a tenant is known.
// - Audit writes are best-effort; call handling never blocks on them.
type Event struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenant_id,omitempty" db:"tenant_id"`
	Type     EventType `json:"type" db:"type"`

	// ActorUserID and ActorRole are set for operator actions.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the resolved client IP, see WithClientIP.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	CallID        string `json:"call_id,omitempty" db:"call_id"`
	CarrierCallID string `json:"carrier_call_id,omitempty" db:"carrier_call_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is a JSON object with type-specific details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeTenantNotFound    EventType = "tenant_not_found"
	EventTypeUnknownCall       EventType = "unknown_call"
	EventTypeSignatureRejected EventType = "signature_rejected"
	EventTypeCallFailed        EventType = "call_failed"
	EventTypeOperatorEnd       EventType = "operator_end"
)

// tenantless types are recorded before a tenant has been resolved.
func (t EventType) tenantless() bool {
	switch t {
	case EventTypeTenantNotFound, EventTypeUnknownCall, EventTypeSignatureRejected:
		return true
	default:
		return false
	}
}
