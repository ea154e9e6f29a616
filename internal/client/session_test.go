package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexsync-auth/internal/app"
	"nexsync-auth/internal/config"
	"nexsync-auth/internal/model"
)

type fakeAuthenticator struct {
	mu         sync.Mutex
	checkCalls int
	loginCalls int
	checkErrs  []error
	user       model.PublicAccount
	loginErr   error
}

func (f *fakeAuthenticator) Register(_ context.Context, req model.RegisterRequest) (model.PublicAccount, error) {
	return model.PublicAccount{ID: "new", Email: req.Email, DisplayName: req.DisplayName, Role: model.RoleUser}, nil
}

func (f *fakeAuthenticator) Login(_ context.Context, _ model.LoginRequest) (model.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return model.LoginResult{}, f.loginErr
	}
	return model.LoginResult{AccessToken: "issued", TokenType: "Bearer", User: f.user}, nil
}

func (f *fakeAuthenticator) CheckAuth(_ context.Context, _ string) (model.PublicAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	if len(f.checkErrs) > 0 {
		err := f.checkErrs[0]
		f.checkErrs = f.checkErrs[1:]
		if err != nil {
			return model.PublicAccount{}, err
		}
	}
	return f.user, nil
}

func (f *fakeAuthenticator) calls() (check int, login int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls, f.loginCalls
}

var alice = model.PublicAccount{ID: "alice-id", Email: "alice@example.com", DisplayName: "Alice", Role: model.RoleUser}

func newTestController(api Authenticator, slot TokenSlot) *Controller {
	return NewController(api, slot, WithRestoreBackoff(time.Millisecond))
}

func TestControllerStartsLoading(t *testing.T) {
	c := newTestController(&fakeAuthenticator{}, NewMemorySlot())
	assert.True(t, c.Loading())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRestoreWithoutTokenSkipsNetwork(t *testing.T) {
	api := &fakeAuthenticator{user: alice}
	c := newTestController(api, NewMemorySlot())

	state := c.Restore(context.Background())
	assert.Equal(t, StatusAnonymous, state.Status)
	assert.False(t, c.Loading())

	check, _ := api.calls()
	assert.Zero(t, check)

	waited, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusAnonymous, waited.Status)
}

func TestRestoreWithValidToken(t *testing.T) {
	slot := NewMemorySlot()
	require.NoError(t, slot.Save("persisted"))
	api := &fakeAuthenticator{user: alice}
	c := newTestController(api, slot)

	state := c.Restore(context.Background())
	require.True(t, state.Authenticated())
	assert.Equal(t, alice.ID, state.User.ID)

	token, _ := slot.Load()
	assert.Equal(t, "persisted", token)
}

func TestRestoreRejectedTokenIsDiscardedWithoutRetry(t *testing.T) {
	slot := NewMemorySlot()
	require.NoError(t, slot.Save("stale"))
	api := &fakeAuthenticator{user: alice, checkErrs: []error{ErrUnauthorized}}
	c := newTestController(api, slot)

	state := c.Restore(context.Background())
	assert.Equal(t, StatusAnonymous, state.Status)
	assert.Nil(t, state.User)

	check, _ := api.calls()
	assert.Equal(t, 1, check)
	token, _ := slot.Load()
	assert.Empty(t, token)
}

func TestRestoreRetriesTransientFailureOnce(t *testing.T) {
	transient := errors.New("connection refused")

	t.Run("second attempt succeeds", func(t *testing.T) {
		slot := NewMemorySlot()
		require.NoError(t, slot.Save("persisted"))
		api := &fakeAuthenticator{user: alice, checkErrs: []error{transient}}
		c := newTestController(api, slot)

		state := c.Restore(context.Background())
		assert.True(t, state.Authenticated())
		check, _ := api.calls()
		assert.Equal(t, 2, check)
	})

	t.Run("both attempts fail", func(t *testing.T) {
		slot := NewMemorySlot()
		require.NoError(t, slot.Save("persisted"))
		api := &fakeAuthenticator{user: alice, checkErrs: []error{transient, transient, transient}}
		c := newTestController(api, slot)

		state := c.Restore(context.Background())
		assert.Equal(t, StatusAnonymous, state.Status)
		check, _ := api.calls()
		assert.Equal(t, 2, check)
		token, _ := slot.Load()
		assert.Empty(t, token)
	})

	t.Run("rate limited then accepted", func(t *testing.T) {
		slot := NewMemorySlot()
		require.NoError(t, slot.Save("persisted"))
		limited := &APIError{Status: http.StatusTooManyRequests, Code: "RATE_LIMITED", Message: "Too many requests"}
		api := &fakeAuthenticator{user: alice, checkErrs: []error{limited}}
		c := newTestController(api, slot)

		state := c.Restore(context.Background())
		assert.True(t, state.Authenticated())
		check, _ := api.calls()
		assert.Equal(t, 2, check)
		token, _ := slot.Load()
		assert.Equal(t, "persisted", token)
	})
}

func TestLoginPersistsToken(t *testing.T) {
	slot := NewMemorySlot()
	c := newTestController(&fakeAuthenticator{user: alice}, slot)

	user, err := c.Login(context.Background(), "alice@example.com", "Secr3t!")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)
	assert.True(t, c.State().Authenticated())

	token, _ := slot.Load()
	assert.Equal(t, "issued", token)
}

func TestLoginFailureIsAnonymousAndNotRetried(t *testing.T) {
	slot := NewMemorySlot()
	require.NoError(t, slot.Save("old"))
	api := &fakeAuthenticator{loginErr: ErrLoginFailed}
	c := newTestController(api, slot)

	_, err := c.Login(context.Background(), "ghost@example.com", "whatever1")
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, StatusAnonymous, c.State().Status)

	_, login := api.calls()
	assert.Equal(t, 1, login)
	token, _ := slot.Load()
	assert.Empty(t, token)
}

func TestRegisterDoesNotSignIn(t *testing.T) {
	slot := NewMemorySlot()
	c := newTestController(&fakeAuthenticator{}, slot)
	c.Restore(context.Background())

	user, err := c.Register(context.Background(), "Bob", "bob@example.com", "Passw0rd")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", user.Email)
	assert.Equal(t, StatusAnonymous, c.State().Status)

	token, _ := slot.Load()
	assert.Empty(t, token)
}

func TestLogoutAndHandleUnauthorized(t *testing.T) {
	slot := NewMemorySlot()
	c := newTestController(&fakeAuthenticator{user: alice}, slot)
	_, err := c.Login(context.Background(), "alice@example.com", "Secr3t!")
	require.NoError(t, err)

	assert.False(t, c.HandleUnauthorized(errors.New("boom")))
	assert.True(t, c.State().Authenticated())

	assert.True(t, c.HandleUnauthorized(ErrUnauthorized))
	assert.Equal(t, StatusAnonymous, c.State().Status)
	token, _ := slot.Load()
	assert.Empty(t, token)

	_, err = c.Login(context.Background(), "alice@example.com", "Secr3t!")
	require.NoError(t, err)
	state := c.Logout()
	assert.Equal(t, StatusAnonymous, state.Status)
}

func TestAuthorizedLogsOutOn401(t *testing.T) {
	c := newTestController(&fakeAuthenticator{user: alice}, NewMemorySlot())

	err := c.Authorized(context.Background(), func(context.Context, string) error { return nil })
	assert.ErrorIs(t, err, ErrUnauthorized, "no session yet")

	_, err = c.Login(context.Background(), "alice@example.com", "Secr3t!")
	require.NoError(t, err)

	var seen string
	err = c.Authorized(context.Background(), func(_ context.Context, token string) error {
		seen = token
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "issued", seen)
	assert.True(t, c.State().Authenticated())

	err = c.Authorized(context.Background(), func(context.Context, string) error { return ErrUnauthorized })
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, StatusAnonymous, c.State().Status)
}

func TestSubscribeDeliversLatestState(t *testing.T) {
	c := newTestController(&fakeAuthenticator{user: alice}, NewMemorySlot())

	states, cancel := c.Subscribe()
	assert.Equal(t, StatusLoading, (<-states).Status)

	c.Restore(context.Background())
	_, err := c.Login(context.Background(), "alice@example.com", "Secr3t!")
	require.NoError(t, err)

	latest := <-states
	assert.Equal(t, StatusAuthenticated, latest.Status)

	cancel()
	cancel()
	_, open := <-states
	assert.False(t, open)

	c.Logout()
}

func TestControllerAgainstServer(t *testing.T) {
	cfg := &config.Config{
		ServerPort:       "0",
		RequestTimeout:   5 * time.Second,
		StoreDriver:      config.StoreDriverMemory,
		JWTSecret:        "client-e2e-secret-0123456789abcdef",
		TokenTTL:         time.Hour,
		TokenIssuer:      "nexsync",
		AuthRateLimitRPM: 100,
		LogFormat:        "json",
	}
	application, err := app.New(context.Background(), cfg, "test")
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	defer srv.Close()

	api := NewAPI(srv.URL, srv.Client())
	slot := NewMemorySlot()
	ctx := context.Background()

	c := NewController(api, slot)
	c.Restore(ctx)
	view, _ := Route(c.State(), ViewHome)
	assert.Equal(t, ViewAuth, view)

	_, err = c.Register(ctx, "Alice", "alice@example.com", "Secr3t!")
	require.NoError(t, err)

	_, err = c.Login(ctx, "alice@example.com", "wrong-pass1")
	assert.ErrorIs(t, err, ErrLoginFailed)
	_, err = c.Login(ctx, "nobody@example.com", "Secr3t!")
	assert.ErrorIs(t, err, ErrLoginFailed)

	user, err := c.Login(ctx, "alice@example.com", "Secr3t!")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)

	view, redirected := Route(c.State(), ViewAuth)
	assert.True(t, redirected)
	assert.Equal(t, ViewHome, view)

	reloaded := NewController(api, slot)
	state := reloaded.Restore(ctx)
	require.True(t, state.Authenticated())
	assert.Equal(t, user.ID, state.User.ID)

	require.NoError(t, slot.Save("not-a-token"))
	state = NewController(api, slot).Restore(ctx)
	assert.Equal(t, StatusAnonymous, state.Status)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/auth/check-auth", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
