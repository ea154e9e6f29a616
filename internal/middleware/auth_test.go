package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexsync-auth/internal/auth"
	"nexsync-auth/internal/model"
)

type stubVerifier struct {
	accounts map[string]model.PublicAccount
	err      error
	calls    int
}

func (s *stubVerifier) VerifySession(_ context.Context, token string) (model.PublicAccount, error) {
	s.calls++
	if s.err != nil {
		return model.PublicAccount{}, s.err
	}
	account, ok := s.accounts[token]
	if !ok {
		return model.PublicAccount{}, fmt.Errorf("%w: %w", model.ErrUnauthorized, &auth.TokenError{Reason: auth.ReasonBadSignature})
	}
	return account, nil
}

func echoAccount() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			http.Error(w, "no account", http.StatusTeapot)
			return
		}
		_ = json.NewEncoder(w).Encode(account)
	})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) model.APIResponse {
	t.Helper()
	var body model.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequireAuth(t *testing.T) {
	alice := model.PublicAccount{ID: "id-alice", Email: "alice@example.com", DisplayName: "alice", Role: model.RoleUser}

	tests := []struct {
		name       string
		header     string
		verifyErr  error
		wantStatus int
		wantCode   string
	}{
		{name: "valid token", header: "Bearer good", wantStatus: http.StatusOK},
		{name: "scheme is case-insensitive", header: "bearer good", wantStatus: http.StatusOK},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantCode: "TOKEN_MISSING"},
		{name: "basic scheme", header: "Basic Zm9vOmJhcg==", wantStatus: http.StatusUnauthorized, wantCode: "TOKEN_MISSING"},
		{name: "bearer without token", header: "Bearer   ", wantStatus: http.StatusUnauthorized, wantCode: "TOKEN_MISSING"},
		{name: "unknown token", header: "Bearer bad", wantStatus: http.StatusUnauthorized, wantCode: "TOKEN_INVALID"},
		{
			name:       "expired token",
			header:     "Bearer good",
			verifyErr:  fmt.Errorf("%w: %w", model.ErrUnauthorized, &auth.TokenError{Reason: auth.ReasonExpired}),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "TOKEN_EXPIRED",
		},
		{
			name:       "malformed token",
			header:     "Bearer good",
			verifyErr:  fmt.Errorf("%w: %w", model.ErrUnauthorized, &auth.TokenError{Reason: auth.ReasonMalformed}),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "TOKEN_MALFORMED",
		},
		{
			name:       "deleted account",
			header:     "Bearer good",
			verifyErr:  fmt.Errorf("%w: account no longer exists", model.ErrUnauthorized),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "store down",
			header:     "Bearer good",
			verifyErr:  model.ErrStorageUnavailable,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "SERVICE_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := &stubVerifier{accounts: map[string]model.PublicAccount{"good": alice}, err: tt.verifyErr}
			handler := NewAuthMiddleware(verifier).RequireAuth(echoAccount())

			req := httptest.NewRequest(http.MethodGet, "/auth/check-auth", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				var got model.PublicAccount
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, alice.ID, got.ID)
				return
			}

			body := decodeEnvelope(t, rec)
			assert.False(t, body.Success)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Message)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestRequireAuthMissingTokenSkipsVerifier(t *testing.T) {
	verifier := &stubVerifier{}
	handler := NewAuthMiddleware(verifier).RequireAuth(echoAccount())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/check-auth", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, verifier.calls)
}

func TestRequireAuthTwiceResolvesSameIdentity(t *testing.T) {
	alice := model.PublicAccount{ID: "id-alice", Role: model.RoleUser}
	gate := NewAuthMiddleware(&stubVerifier{accounts: map[string]model.PublicAccount{"good": alice}})

	handler := gate.RequireAuth(gate.RequireAuth(echoAccount()))

	req := httptest.NewRequest(http.MethodGet, "/auth/check-auth", nil)
	req.Header.Set("Authorization", "Bearer good")

	var ids []string
	for range 2 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var got model.PublicAccount
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		ids = append(ids, got.ID)
	}
	assert.Equal(t, []string{"id-alice", "id-alice"}, ids)
}

func TestRequireRoles(t *testing.T) {
	verifier := &stubVerifier{accounts: map[string]model.PublicAccount{
		"admin": {ID: "a", Role: model.RoleAdmin},
		"user":  {ID: "u", Role: model.RoleUser},
	}}
	gate := NewAuthMiddleware(verifier)
	handler := gate.RequireAuth(gate.RequireRoles(model.RoleAdmin)(echoAccount()))

	for token, want := range map[string]int{"admin": http.StatusOK, "user": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, token)
	}

	rec := httptest.NewRecorder()
	gate.RequireRoles(model.RoleAdmin)(echoAccount()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	tests := map[string]struct {
		token string
		ok    bool
	}{
		"Bearer abc.def.ghi":  {token: "abc.def.ghi", ok: true},
		"BEARER abc":          {token: "abc", ok: true},
		"  Bearer   abc  ":    {token: "abc", ok: true},
		"Bearerabc":           {},
		"Token abc":           {},
		"":                    {},
		"Bearer":              {},
	}

	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)

		token, ok := BearerToken(req)
		assert.Equal(t, want.ok, ok, header)
		assert.Equal(t, want.token, token, header)
	}
}
