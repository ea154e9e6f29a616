package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"nexsync-auth/internal/model"
)

// MemoryAccountRepository keeps accounts in process memory. Uniqueness is
// decided inside a single critical section, so concurrent registrations of one
// email resolve to exactly one winner.
type MemoryAccountRepository struct {
	mu      sync.RWMutex
	byID    map[string]model.Account
	byEmail map[string]string
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byID:    map[string]model.Account{},
		byEmail: map[string]string{},
	}
}

func (r *MemoryAccountRepository) Create(_ context.Context, a model.Account) (model.Account, error) {
	a.Email = strings.TrimSpace(a.Email)
	a.EmailNormalized = model.NormalizeEmail(a.Email)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[a.EmailNormalized]; exists {
		return model.Account{}, oops.Code("ACCOUNT_DUPLICATE").
			With("email", a.EmailNormalized).
			Wrap(model.ErrDuplicateIdentity)
	}
	if _, exists := r.byID[a.ID]; exists {
		return model.Account{}, oops.Code("ACCOUNT_DUPLICATE").
			With("id", a.ID).
			Wrap(model.ErrDuplicateIdentity)
	}

	r.byID[a.ID] = a
	r.byEmail[a.EmailNormalized] = a.ID
	return a, nil
}

func (r *MemoryAccountRepository) FindByEmail(_ context.Context, email string) (model.Account, error) {
	normalized := model.NormalizeEmail(email)

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[normalized]
	if !ok {
		return model.Account{}, oops.Code("ACCOUNT_NOT_FOUND").With("email", normalized).Wrap(model.ErrAccountNotFound)
	}
	return r.byID[id], nil
}

func (r *MemoryAccountRepository) FindByID(_ context.Context, id string) (model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return model.Account{}, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(model.ErrAccountNotFound)
	}
	return a, nil
}

func (r *MemoryAccountRepository) UpdatePasswordHash(_ context.Context, id string, passwordHash string) error {
	if passwordHash == "" {
		return oops.Code("ACCOUNT_UPDATE_FAILED").With("id", id).Wrap(model.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(model.ErrAccountNotFound)
	}
	a.PasswordHash = passwordHash
	a.UpdatedAt = time.Now().UTC()
	r.byID[id] = a
	return nil
}

func (r *MemoryAccountRepository) Ping(context.Context) error {
	return nil
}

// Remove deletes an account. Accounts are never removed by the service; this
// exists for operators and tests that simulate out-of-band deletion.
func (r *MemoryAccountRepository) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.byID[id]; ok {
		delete(r.byEmail, a.EmailNormalized)
		delete(r.byID, id)
	}
}

// SetRole changes an account's role out of band.
func (r *MemoryAccountRepository) SetRole(id string, role model.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.byID[id]; ok {
		a.Role = role
		r.byID[id] = a
	}
}
