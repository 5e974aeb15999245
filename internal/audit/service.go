package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information. Records are not exposed to
// tenant users.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.TenantID == "" && !e.Type.tenantless() {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.IPAddress == "" {
		e.IPAddress = ClientIPFromContext(ctx)
	}
	return s.repo.Append(ctx, e)
}

// record appends e and only logs a failure.
func (s *Service) record(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "type", e.Type, "call_sid", e.CarrierCallID, "err", err)
	}
}

func (s *Service) TenantNotFound(ctx context.Context, carrierCallID, toNumber, fromNumber string) {
	s.record(ctx, Event{
		Type:          EventTypeTenantNotFound,
		CarrierCallID: carrierCallID,
		Message:       "inbound call to unconfigured number",
		Metadata:      metadata(map[string]string{"to": toNumber, "from": fromNumber}),
	})
}

func (s *Service) UnknownCall(ctx context.Context, carrierCallID, endpoint string) {
	s.record(ctx, Event{
		Type:          EventTypeUnknownCall,
		CarrierCallID: carrierCallID,
		Message:       "webhook for unknown call",
		Metadata:      metadata(map[string]string{"endpoint": endpoint}),
	})
}

func (s *Service) SignatureRejected(ctx context.Context, path string) {
	s.record(ctx, Event{
		Type:     EventTypeSignatureRejected,
		Message:  "carrier signature rejected",
		Metadata: metadata(map[string]string{"path": path}),
	})
}

func (s *Service) CallFailed(ctx context.Context, tenantID, callID, carrierCallID, reason string) {
	s.record(ctx, Event{
		Type:          EventTypeCallFailed,
		TenantID:      tenantID,
		CallID:        callID,
		CarrierCallID: carrierCallID,
		Message:       reason,
	})
}

// OperatorEnd records a dashboard user forcing a call to end.
func (s *Service) OperatorEnd(ctx context.Context, tenantID, actorUserID, actorRole, callID, status, reason string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeOperatorEnd,
		TenantID:    tenantID,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		CallID:      callID,
		Message:     "call ended by operator",
		Metadata:    metadata(map[string]string{"status": status, "reason": reason}),
	})
}

func metadata(kv map[string]string) string {
	b, err := json.Marshal(kv)
	if err != nil {
		return ""
	}
	return string(b)
}
