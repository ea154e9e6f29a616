package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"nexsync-auth/internal/auth"
	"nexsync-auth/internal/logger"
	"nexsync-auth/internal/model"
)

type sessionVerifier interface {
	VerifySession(ctx context.Context, token string) (model.PublicAccount, error)
}

type contextKey string

const accountContextKey contextKey = "auth_account"

// AuthMiddleware is the access gate in front of protected routes. Bearer
// tokens are the only accepted credential.
type AuthMiddleware struct {
	verifier sessionVerifier
}

func NewAuthMiddleware(verifier sessionVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="nexsync"`)
			writeJSONError(w, http.StatusUnauthorized, "TOKEN_MISSING", "Authentication required")
			return
		}

		account, err := m.verifier.VerifySession(r.Context(), token)
		if err != nil {
			m.reject(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), accountContextKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrStorageUnavailable) {
		logger.LogError(slog.Default(), "session verification unavailable", err)
		writeJSONError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Service temporarily unavailable")
		return
	}
	if !errors.Is(err, model.ErrUnauthorized) && !errors.Is(err, auth.ErrInvalidToken) {
		slog.Error("session verification failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error")
		return
	}

	w.Header().Set("WWW-Authenticate", `Bearer realm="nexsync", error="invalid_token"`)
	switch auth.TokenReasonOf(err) {
	case auth.ReasonExpired:
		writeJSONError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Session expired, please log in again")
	case auth.ReasonBadSignature:
		writeJSONError(w, http.StatusUnauthorized, "TOKEN_INVALID", "Invalid token")
	case auth.ReasonMalformed:
		writeJSONError(w, http.StatusUnauthorized, "TOKEN_MALFORMED", "Invalid token")
	default:
		writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	}
}

// RequireRoles must run after RequireAuth.
func (m *AuthMiddleware) RequireRoles(allowedRoles ...model.Role) func(http.Handler) http.Handler {
	roleSet := map[model.Role]struct{}{}
	for _, role := range allowedRoles {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, ok := AccountFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}

			if _, exists := roleSet[account.Role]; !exists {
				writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func AccountFromContext(ctx context.Context) (model.PublicAccount, bool) {
	account, ok := ctx.Value(accountContextKey).(model.PublicAccount)
	return account, ok
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}
