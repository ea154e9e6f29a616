package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexsync-auth/internal/model"
)

var accountRowColumns = []string{"id", "email", "email_normalized", "display_name", "password_hash", "role", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*AccountRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return NewAccountRepository(mock), mock
}

func TestAccountRepository_Create(t *testing.T) {
	tests := []struct {
		name      string
		execErr   error
		wantErrIs error
	}{
		{name: "inserted"},
		{
			name:      "unique violation maps to duplicate identity",
			execErr:   &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "accounts_email_normalized_key"},
			wantErrIs: model.ErrDuplicateIdentity,
		},
		{
			name:      "connection failure maps to storage unavailable",
			execErr:   errors.New("connection refused"),
			wantErrIs: model.ErrStorageUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)

			exp := mock.ExpectExec(`INSERT INTO accounts`).
				WithArgs(pgxmock.AnyArg(), "Alice@Example.com", "alice@example.com", "Alice", "$argon2id$hash", "user", pgxmock.AnyArg(), pgxmock.AnyArg())
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", 1))
			}

			got, err := repo.Create(context.Background(), model.Account{
				Email:        " Alice@Example.com ",
				DisplayName:  "Alice",
				PasswordHash: "$argon2id$hash",
				Role:         model.RoleUser,
			})

			if tt.wantErrIs != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, got.ID)
				assert.Equal(t, "alice@example.com", got.EmailNormalized)
				assert.Equal(t, "Alice@Example.com", got.Email)
				assert.False(t, got.CreatedAt.IsZero())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccountRepository_FindByEmail(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(`SELECT .+ FROM accounts WHERE email_normalized = \$1`).
			WithArgs("alice@example.com").
			WillReturnRows(pgxmock.NewRows(accountRowColumns).
				AddRow("id-1", "Alice@Example.com", "alice@example.com", "Alice", "$argon2id$hash", "admin", created, created))

		got, err := repo.FindByEmail(context.Background(), "  ALICE@example.COM")
		require.NoError(t, err)
		assert.Equal(t, "id-1", got.ID)
		assert.Equal(t, model.RoleAdmin, got.Role)
		assert.Equal(t, created, got.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(`SELECT .+ FROM accounts WHERE email_normalized = \$1`).
			WithArgs("nobody@example.com").
			WillReturnRows(pgxmock.NewRows(accountRowColumns))

		_, err := repo.FindByEmail(context.Background(), "nobody@example.com")
		assert.ErrorIs(t, err, model.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(`SELECT .+ FROM accounts WHERE email_normalized = \$1`).
			WithArgs("alice@example.com").
			WillReturnError(errors.New("connection reset"))

		_, err := repo.FindByEmail(context.Background(), "alice@example.com")
		assert.ErrorIs(t, err, model.ErrStorageUnavailable)
		assert.NotErrorIs(t, err, model.ErrAccountNotFound)
	})
}

const (
	accountID1 = "0b6f1b3e-8a51-4c1f-9a52-0d6c1f2a3b41"
	accountID2 = "6f1d2c3b-4a59-4e68-9c7b-1a2b3c4d5e62"
	accountID9 = "9e8d7c6b-5a49-4f38-8e27-1d0c9b8a7f69"
)

func TestAccountRepository_FindByID(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs(accountID1).
		WillReturnRows(pgxmock.NewRows(accountRowColumns).
			AddRow(accountID1, "bob@example.com", "bob@example.com", "Bob", "$2a$10$hash", "user", created, created))
	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs(accountID2).
		WillReturnRows(pgxmock.NewRows(accountRowColumns))

	got, err := repo.FindByID(context.Background(), accountID1)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.DisplayName)
	assert.Equal(t, model.RoleUser, got.Role)

	_, err = repo.FindByID(context.Background(), accountID2)
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_MalformedIDIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	_, err := repo.FindByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
	assert.NotErrorIs(t, err, model.ErrStorageUnavailable)

	err = repo.UpdatePasswordHash(context.Background(), "not-a-uuid", "$argon2id$new")
	assert.ErrorIs(t, err, model.ErrAccountNotFound)

	assert.NoError(t, mock.ExpectationsWereMet(), "no query may reach the database")
}

func TestAccountRepository_UpdatePasswordHash(t *testing.T) {
	t.Run("updated", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`UPDATE accounts SET password_hash`).
			WithArgs(accountID1, "$argon2id$new", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, repo.UpdatePasswordHash(context.Background(), accountID1, "$argon2id$new"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no such account", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`UPDATE accounts SET password_hash`).
			WithArgs(accountID9, "$argon2id$new", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := repo.UpdatePasswordHash(context.Background(), accountID9, "$argon2id$new")
		assert.ErrorIs(t, err, model.ErrAccountNotFound)
	})

	t.Run("empty hash rejected without a query", func(t *testing.T) {
		repo, mock := newMockRepo(t)

		err := repo.UpdatePasswordHash(context.Background(), accountID1, "")
		assert.ErrorIs(t, err, model.ErrInvalidInput)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountRepository_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAccountRepository(mock)
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	require.NoError(t, repo.Ping(context.Background()))
	assert.ErrorIs(t, repo.Ping(context.Background()), model.ErrStorageUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}
