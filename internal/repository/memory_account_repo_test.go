package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexsync-auth/internal/model"
)

func TestMemoryAccountRepository_CreateAndFind(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, model.Account{
		Email:        "Alice@Example.com",
		DisplayName:  "Alice",
		PasswordHash: "hash",
		Role:         model.RoleUser,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "alice@example.com", created.EmailNormalized)

	byEmail, err := repo.FindByEmail(ctx, " ALICE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, created, byEmail)

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, byID)

	_, err = repo.FindByEmail(ctx, "bob@example.com")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
}

func TestMemoryAccountRepository_DuplicateIgnoresCase(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, model.Account{Email: "alice@example.com", DisplayName: "A", PasswordHash: "h", Role: model.RoleUser})
	require.NoError(t, err)

	_, err = repo.Create(ctx, model.Account{Email: "ALICE@EXAMPLE.COM", DisplayName: "B", PasswordHash: "h", Role: model.RoleUser})
	assert.ErrorIs(t, err, model.ErrDuplicateIdentity)
}

func TestMemoryAccountRepository_ConcurrentCreateHasOneWinner(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	const workers = 32
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		duplicate atomic.Int32
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(ctx, model.Account{
				Email:        "race@example.com",
				DisplayName:  fmt.Sprintf("racer-%d", i),
				PasswordHash: "h",
				Role:         model.RoleUser,
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case assert.ErrorIs(t, err, model.ErrDuplicateIdentity):
				duplicate.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), duplicate.Load())
}

func TestMemoryAccountRepository_UpdatePasswordHash(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, model.Account{Email: "a@example.com", DisplayName: "A", PasswordHash: "old", Role: model.RoleUser})
	require.NoError(t, err)

	require.NoError(t, repo.UpdatePasswordHash(ctx, created.ID, "new"))
	got, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.PasswordHash)

	assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, "missing", "new"), model.ErrAccountNotFound)
	assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, created.ID, ""), model.ErrInvalidInput)
}

func TestMemoryAccountRepository_RemoveAndSetRole(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	created, err := repo.Create(ctx, model.Account{Email: "a@example.com", DisplayName: "A", PasswordHash: "h", Role: model.RoleUser})
	require.NoError(t, err)

	repo.SetRole(created.ID, model.RoleAdmin)
	got, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, got.Role)

	repo.Remove(created.ID)
	_, err = repo.FindByEmail(ctx, "a@example.com")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	_, err = repo.Create(ctx, model.Account{Email: "a@example.com", DisplayName: "A", PasswordHash: "h", Role: model.RoleUser})
	assert.NoError(t, err)
}
