package tenants

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ai-receptionist/pkg/phone"
)

var (
	ErrNotFound     = errors.New("tenants: not found")
	ErrNumberInUse  = errors.New("tenants: phone number already assigned")
	ErrInvalidInput = errors.New("tenants: invalid tenant")
)

// Directory resolves tenants. Lookups by number expect an E.164 value.
type Directory interface {
	ByPhoneNumber(ctx context.Context, number string) (Tenant, error)
	ByID(ctx context.Context, id string) (Tenant, error)
}

// MemoryDirectory is an in-memory directory for tests and APP_STORAGE=memory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	byID     map[string]Tenant
	byNumber map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byID: map[string]Tenant{}, byNumber: map[string]string{}}
}

// Prepare normalizes t's numbers to E.164 and validates it. Every directory
// stores tenants in this form.
func Prepare(t Tenant) (Tenant, error) {
	t.PhoneNumber = phone.NormalizeDefault(t.PhoneNumber)
	t.TransferNumber = phone.NormalizeDefault(t.TransferNumber)
	if err := t.Validate(); err != nil {
		return Tenant{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return t, nil
}

// Put validates and stores t, normalizing its numbers first.
func (d *MemoryDirectory) Put(t Tenant) error {
	t, err := Prepare(t)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if owner, ok := d.byNumber[t.PhoneNumber]; ok && owner != t.ID {
		return ErrNumberInUse
	}
	if prev, ok := d.byID[t.ID]; ok {
		delete(d.byNumber, prev.PhoneNumber)
	}
	d.byID[t.ID] = t
	d.byNumber[t.PhoneNumber] = t.ID
	return nil
}

func (d *MemoryDirectory) ByPhoneNumber(ctx context.Context, number string) (Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byNumber[number]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return d.byID[id], nil
}

func (d *MemoryDirectory) ByID(ctx context.Context, id string) (Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byID[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}
