package repository

import (
	"context"
	"fmt"

	"github.com/samber/oops"

	"nexsync-auth/internal/model"
)

// AccountStore is the credential store contract. Implementations enforce
// uniqueness of the normalized email themselves; callers never check before
// writing.
type AccountStore interface {
	Create(ctx context.Context, account model.Account) (model.Account, error)
	FindByEmail(ctx context.Context, email string) (model.Account, error)
	FindByID(ctx context.Context, id string) (model.Account, error)
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error
	Ping(ctx context.Context) error
}

func unavailable(code string, operation string, err error) error {
	return oops.Code(code).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", model.ErrStorageUnavailable, err))
}
