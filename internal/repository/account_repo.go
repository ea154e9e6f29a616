package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"nexsync-auth/internal/model"
)

// dbPool is the subset of *pgxpool.Pool the repository needs.
type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const accountColumns = `id, email, email_normalized, display_name, password_hash, role, created_at, updated_at`

type AccountRepository struct {
	pool dbPool
}

func NewAccountRepository(pool dbPool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) Create(ctx context.Context, a model.Account) (model.Account, error) {
	a.Email = strings.TrimSpace(a.Email)
	a.EmailNormalized = model.NormalizeEmail(a.Email)
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt

	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Email, a.EmailNormalized, a.DisplayName, a.PasswordHash, string(a.Role), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return model.Account{}, oops.Code("ACCOUNT_DUPLICATE").
				With("email", a.EmailNormalized).
				Wrap(model.ErrDuplicateIdentity)
		}
		return model.Account{}, unavailable("ACCOUNT_CREATE_FAILED", "insert account", err)
	}

	return a, nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (model.Account, error) {
	normalized := model.NormalizeEmail(email)
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email_normalized = $1`, normalized)

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, oops.Code("ACCOUNT_NOT_FOUND").With("email", normalized).Wrap(model.ErrAccountNotFound)
	}
	if err != nil {
		return model.Account{}, unavailable("ACCOUNT_GET_BY_EMAIL_FAILED", "get account by email", err)
	}
	return a, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (model.Account, error) {
	// accounts.id is a UUID column; anything else cannot match a row.
	if _, err := uuid.Parse(id); err != nil {
		return model.Account{}, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(model.ErrAccountNotFound)
	}

	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(model.ErrAccountNotFound)
	}
	if err != nil {
		return model.Account{}, unavailable("ACCOUNT_GET_BY_ID_FAILED", "get account by id", err)
	}
	return a, nil
}

func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error {
	if passwordHash == "" {
		return oops.Code("ACCOUNT_UPDATE_FAILED").With("id", id).Wrap(model.ErrInvalidInput)
	}
	if _, err := uuid.Parse(id); err != nil {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(model.ErrAccountNotFound)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, time.Now().UTC())
	if err != nil {
		return unavailable("ACCOUNT_UPDATE_FAILED", "update password hash", err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(model.ErrAccountNotFound)
	}
	return nil
}

func (r *AccountRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return unavailable("STORE_PING_FAILED", "ping", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var (
		a    model.Account
		role string
	)
	if err := row.Scan(&a.ID, &a.Email, &a.EmailNormalized, &a.DisplayName, &a.PasswordHash, &role, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return model.Account{}, err
	}
	a.Role = model.Role(role)
	return a, nil
}
