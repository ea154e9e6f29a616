package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"nexsync-auth/internal/model"
)

const MinSecretLength = 32

var ErrInvalidToken = errors.New("invalid token")

type TokenReason string

const (
	ReasonMalformed    TokenReason = "malformed"
	ReasonBadSignature TokenReason = "bad-signature"
	ReasonExpired      TokenReason = "expired"
)

// TokenError is returned for every rejected token. It matches ErrInvalidToken
// under errors.Is.
type TokenError struct {
	Reason TokenReason
	Err    error
}

func (e *TokenError) Error() string {
	return "invalid token: " + string(e.Reason)
}

func (e *TokenError) Is(target error) bool {
	return target == ErrInvalidToken
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// TokenReasonOf extracts the rejection reason, or "" when err is not a token error.
func TokenReasonOf(err error) TokenReason {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Reason
	}
	return ""
}

func invalid(reason TokenReason, err error) *TokenError {
	return &TokenError{Reason: reason, Err: err}
}

type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// SessionClaims is the verified content of a live token.
type SessionClaims struct {
	AccountID string
	Role      model.Role
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenManager issues and verifies HS256 session tokens.
type TokenManager struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

type TokenOption func(*TokenManager)

func WithIssuer(issuer string) TokenOption {
	return func(tm *TokenManager) { tm.issuer = issuer }
}

// WithLeeway allows a grace window on expiry. The default is none.
func WithLeeway(leeway time.Duration) TokenOption {
	return func(tm *TokenManager) { tm.leeway = leeway }
}

func WithClock(now func() time.Time) TokenOption {
	return func(tm *TokenManager) { tm.now = now }
}

func NewTokenManager(secret string, opts ...TokenOption) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}

	tm := &TokenManager{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(tm)
	}
	if tm.leeway < 0 {
		tm.leeway = 0
	}

	return tm, nil
}

func (tm *TokenManager) Issue(accountID string, role model.Role, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token ttl must be positive")
	}

	issuedAt := tm.now().UTC()
	expiresAt := issuedAt.Add(ttl)

	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    tm.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify checks structure, then the signature over the raw header and payload,
// and only then decodes and validates the claims against the server clock.
func (tm *TokenManager) Verify(token string) (SessionClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return SessionClaims{}, invalid(ReasonMalformed, jwt.ErrTokenMalformed)
	}

	parser := tm.parser()

	signature, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return SessionClaims{}, invalid(ReasonMalformed, err)
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], signature, tm.secret); err != nil {
		return SessionClaims{}, invalid(ReasonBadSignature, err)
	}

	claims := &Claims{}
	_, err = parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return tm.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return SessionClaims{}, invalid(ReasonExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return SessionClaims{}, invalid(ReasonBadSignature, err)
		default:
			return SessionClaims{}, invalid(ReasonMalformed, err)
		}
	}

	if claims.Subject == "" || claims.IssuedAt == nil || !claims.Role.Valid() {
		return SessionClaims{}, invalid(ReasonMalformed, jwt.ErrTokenInvalidClaims)
	}

	return SessionClaims{
		AccountID: claims.Subject,
		Role:      claims.Role,
		TokenID:   claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (tm *TokenManager) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(tm.now),
		jwt.WithLeeway(tm.leeway),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}
	return jwt.NewParser(opts...)
}
