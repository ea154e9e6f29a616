package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"nexsync-auth/internal/auth"
	"nexsync-auth/internal/event"
	"nexsync-auth/internal/metrics"
	"nexsync-auth/internal/model"
	"nexsync-auth/internal/repository"
	"nexsync-auth/pkg/apierror"
)

const (
	DefaultTokenTTL = 24 * time.Hour

	MinPasswordLength    = 6
	MaxPasswordLength    = 128
	MaxDisplayNameLength = 64
	maxEmailLength       = 254

	tokenType = "Bearer"
)

type AuthService struct {
	store     repository.AccountStore
	hasher    *auth.PasswordHasher
	tokens    *auth.TokenManager
	tokenTTL  time.Duration
	metrics   *metrics.Metrics
	bus       event.Bus
	dummyHash string
}

func NewAuthService(store repository.AccountStore, hasher *auth.PasswordHasher, tokens *auth.TokenManager, tokenTTL time.Duration, m *metrics.Metrics, bus event.Bus) (*AuthService, error) {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}

	// Verified against when the email is unknown so both login failures cost
	// the same.
	dummyHash, err := hasher.Hash("nexsync-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("compute dummy hash: %w", err)
	}

	return &AuthService{
		store:     store,
		hasher:    hasher,
		tokens:    tokens,
		tokenTTL:  tokenTTL,
		metrics:   m,
		bus:       bus,
		dummyHash: dummyHash,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, email string, displayName string, password string) (model.PublicAccount, error) {
	account, err := s.create(ctx, email, displayName, password, model.RoleUser)
	if err != nil {
		s.metrics.RecordAuth("register", outcomeOf(err))
		return model.PublicAccount{}, err
	}

	s.metrics.RecordAuth("register", metrics.OutcomeSuccess)
	slog.Info("account registered", "account_id", account.ID, "email", account.EmailNormalized)
	s.publish(event.TypeAccountRegistered, account.ID, map[string]string{"email": account.EmailNormalized})
	return account.Public(), nil
}

// BootstrapAdmin creates an admin account when none exists for email. An
// existing account is left untouched.
func (s *AuthService) BootstrapAdmin(ctx context.Context, email string, displayName string, password string) (model.PublicAccount, bool, error) {
	existing, err := s.store.FindByEmail(ctx, email)
	if err == nil {
		if existing.Role != model.RoleAdmin {
			slog.Warn("bootstrap admin email belongs to a non-admin account", "account_id", existing.ID)
		}
		return existing.Public(), false, nil
	}
	if !errors.Is(err, model.ErrAccountNotFound) {
		return model.PublicAccount{}, false, err
	}

	account, err := s.create(ctx, email, displayName, password, model.RoleAdmin)
	if errors.Is(err, model.ErrDuplicateIdentity) {
		// Lost a race with another instance doing the same bootstrap.
		existing, err = s.store.FindByEmail(ctx, email)
		if err != nil {
			return model.PublicAccount{}, false, err
		}
		return existing.Public(), false, nil
	}
	if err != nil {
		return model.PublicAccount{}, false, err
	}

	slog.Info("bootstrap admin created", "account_id", account.ID, "email", account.EmailNormalized)
	s.publish(event.TypeAdminBootstrapped, account.ID, map[string]string{"email": account.EmailNormalized})
	return account.Public(), true, nil
}

func (s *AuthService) Login(ctx context.Context, email string, password string) (model.LoginResult, error) {
	account, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, model.ErrAccountNotFound) {
			s.metrics.RecordAuth("login", metrics.OutcomeError)
			return model.LoginResult{}, err
		}
		_, _ = s.hasher.Verify(password, s.dummyHash)
		return model.LoginResult{}, s.loginFailed(email)
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		slog.Error("stored password hash unusable", "account_id", account.ID, "error", err)
		return model.LoginResult{}, s.loginFailed(email)
	}
	if !ok {
		return model.LoginResult{}, s.loginFailed(email)
	}

	s.rehashIfNeeded(ctx, account, password)

	token, expiresAt, err := s.tokens.Issue(account.ID, account.Role, s.tokenTTL)
	if err != nil {
		s.metrics.RecordAuth("login", metrics.OutcomeError)
		return model.LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.metrics.RecordAuth("login", metrics.OutcomeSuccess)
	slog.Info("login succeeded", "account_id", account.ID)
	s.publish(event.TypeLoginSucceeded, account.ID, nil)

	return model.LoginResult{
		AccessToken: token,
		TokenType:   tokenType,
		ExpiresAt:   expiresAt,
		User:        account.Public(),
	}, nil
}

// VerifySession resolves a bearer token to the account it was issued for. The
// role returned is the stored one; the role claim inside the token is not
// trusted past signature verification.
func (s *AuthService) VerifySession(ctx context.Context, token string) (model.PublicAccount, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		reason := string(auth.TokenReasonOf(err))
		s.metrics.RecordTokenRejection(reason)
		s.publish(event.TypeSessionRejected, "", map[string]string{"reason": reason})
		return model.PublicAccount{}, fmt.Errorf("%w: %w", model.ErrUnauthorized, err)
	}

	account, err := s.store.FindByID(ctx, claims.AccountID)
	if errors.Is(err, model.ErrAccountNotFound) {
		s.metrics.RecordTokenRejection("unknown-account")
		s.publish(event.TypeSessionRejected, claims.AccountID, map[string]string{"reason": "unknown-account"})
		return model.PublicAccount{}, fmt.Errorf("%w: account no longer exists", model.ErrUnauthorized)
	}
	if err != nil {
		return model.PublicAccount{}, err
	}

	if account.Role != claims.Role {
		slog.Debug("token role differs from stored role", "account_id", account.ID, "token_role", claims.Role, "role", account.Role)
	}

	return account.Public(), nil
}

// GetAccount looks an account up by id for administrative views.
func (s *AuthService) GetAccount(ctx context.Context, id string) (model.PublicAccount, error) {
	account, err := s.store.FindByID(ctx, id)
	if err != nil {
		return model.PublicAccount{}, err
	}
	return account.Public(), nil
}

// Ping reports whether the credential store is reachable.
func (s *AuthService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *AuthService) create(ctx context.Context, email string, displayName string, password string, role model.Role) (model.Account, error) {
	email = strings.TrimSpace(email)
	displayName = strings.TrimSpace(displayName)

	if err := ValidateEmail(email); err != nil {
		return model.Account{}, err
	}
	if err := ValidateDisplayName(displayName); err != nil {
		return model.Account{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return model.Account{}, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return model.Account{}, fmt.Errorf("hash password: %w", err)
	}

	return s.store.Create(ctx, model.Account{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         role,
	})
}

func (s *AuthService) rehashIfNeeded(ctx context.Context, account model.Account, password string) {
	if !s.hasher.NeedsRehash(account.PasswordHash) {
		return
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		slog.Warn("password rehash failed", "account_id", account.ID, "error", err)
		return
	}
	if err := s.store.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		slog.Warn("password rehash not saved", "account_id", account.ID, "error", err)
		return
	}
	slog.Info("password hash upgraded", "account_id", account.ID)
	s.publish(event.TypePasswordHashUpgraded, account.ID, nil)
}

func (s *AuthService) loginFailed(email string) error {
	s.metrics.RecordAuth("login", metrics.OutcomeInvalid)
	normalized := model.NormalizeEmail(email)
	slog.Warn("login failed", "email", normalized)
	s.publish(event.TypeLoginFailed, "", map[string]string{"email": normalized})
	return model.ErrInvalidCredentials
}

func (s *AuthService) publish(t event.Type, actorID string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actorID,
	})
}

func ValidateEmail(email string) error {
	if email == "" || len(email) > maxEmailLength {
		return apierror.Wrap(model.ErrInvalidInput, "INVALID_EMAIL", "A valid email address is required", http.StatusBadRequest)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return apierror.Wrap(model.ErrInvalidInput, "INVALID_EMAIL", "A valid email address is required", http.StatusBadRequest)
	}

	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return apierror.Wrap(model.ErrInvalidInput, "INVALID_EMAIL", "A valid email address is required", http.StatusBadRequest)
	}
	return nil
}

func ValidateDisplayName(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxDisplayNameLength {
		return apierror.Wrap(model.ErrInvalidInput, "INVALID_DISPLAY_NAME",
			fmt.Sprintf("Display name must be between 1 and %d characters", MaxDisplayNameLength), http.StatusBadRequest)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return apierror.Wrap(model.ErrInvalidInput, "INVALID_DISPLAY_NAME", "Display name contains invalid characters", http.StatusBadRequest)
		}
	}
	return nil
}

// ValidatePassword requires MinPasswordLength..MaxPasswordLength characters
// with at least one letter and one non-letter.
func ValidatePassword(password string) error {
	weak := apierror.Wrap(model.ErrWeakCredential, "WEAK_PASSWORD",
		fmt.Sprintf("Password must be %d to %d characters and contain a letter and a digit or symbol", MinPasswordLength, MaxPasswordLength),
		http.StatusBadRequest)

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return weak
	}

	var hasLetter, hasOther bool
	for _, r := range password {
		if unicode.IsLetter(r) {
			hasLetter = true
		} else if !unicode.IsSpace(r) {
			hasOther = true
		}
	}
	if !hasLetter || !hasOther {
		return weak
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, model.ErrDuplicateIdentity):
		return metrics.OutcomeDuplicate
	case errors.Is(err, model.ErrWeakCredential):
		return metrics.OutcomeWeak
	case errors.Is(err, model.ErrInvalidInput):
		return metrics.OutcomeInvalidInput
	default:
		return metrics.OutcomeError
	}
}
