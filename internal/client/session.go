package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"nexsync-auth/internal/model"
)

type Status int

const (
	StatusLoading Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is a snapshot of the controller. User is set only when authenticated.
type State struct {
	Status Status
	User   *model.PublicAccount
}

func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.User != nil
}

// Authenticator is the server surface the controller needs. *API satisfies it.
type Authenticator interface {
	Register(ctx context.Context, req model.RegisterRequest) (model.PublicAccount, error)
	Login(ctx context.Context, req model.LoginRequest) (model.LoginResult, error)
	CheckAuth(ctx context.Context, token string) (model.PublicAccount, error)
}

const defaultRestoreBackoff = 200 * time.Millisecond

type Option func(*Controller)

// WithRestoreBackoff sets the pause before the single restore retry.
func WithRestoreBackoff(d time.Duration) Option {
	return func(c *Controller) { c.restoreBackoff = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// Controller is the only writer of the client auth state.
type Controller struct {
	api            Authenticator
	slot           TokenSlot
	restoreBackoff time.Duration
	logger         *slog.Logger

	mu          sync.Mutex
	state       State
	subscribers map[int]chan State
	nextSubID   int
	ready       chan struct{}
	readyOnce   sync.Once
}

func NewController(api Authenticator, slot TokenSlot, opts ...Option) *Controller {
	c := &Controller{
		api:            api,
		slot:           slot,
		restoreBackoff: defaultRestoreBackoff,
		logger:         slog.Default(),
		state:          State{Status: StatusLoading},
		subscribers:    make(map[int]chan State),
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loading reports whether the startup restore has not resolved yet.
func (c *Controller) Loading() bool {
	return c.State().Status == StatusLoading
}

// Wait blocks until the controller has left the loading state.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	select {
	case <-c.ready:
		return c.State(), nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// Restore verifies a persisted token with the server. Transport faults and
// rate limiting are retried once; any remaining failure discards the token and ends anonymous.
func (c *Controller) Restore(ctx context.Context) State {
	token, err := c.slot.Load()
	if err != nil {
		c.logger.Warn("unable to read persisted token", "error", err)
	}
	if token == "" {
		return c.setAnonymous()
	}

	var user model.PublicAccount
	backoff := retry.WithMaxRetries(1, retry.NewConstant(c.restoreBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		account, err := c.api.CheckAuth(ctx, token)
		if err == nil {
			user = account
			return nil
		}
		if isDefinitive(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		c.logger.Debug("persisted session rejected", "error", err)
		c.discardToken()
		return c.setAnonymous()
	}

	return c.setAuthenticated(user)
}

// Login is never retried. Any credential failure collapses to ErrLoginFailed.
func (c *Controller) Login(ctx context.Context, email string, password string) (model.PublicAccount, error) {
	result, err := c.api.Login(ctx, model.LoginRequest{Email: email, Password: password})
	if err != nil {
		c.discardToken()
		c.setAnonymous()
		if errors.Is(err, ErrLoginFailed) {
			return model.PublicAccount{}, ErrLoginFailed
		}
		return model.PublicAccount{}, err
	}

	if err := c.slot.Save(result.AccessToken); err != nil {
		c.setAnonymous()
		return model.PublicAccount{}, fmt.Errorf("persist token: %w", err)
	}

	c.setAuthenticated(result.User)
	return result.User, nil
}

// Register creates the account without signing in.
func (c *Controller) Register(ctx context.Context, displayName string, email string, password string) (model.PublicAccount, error) {
	return c.api.Register(ctx, model.RegisterRequest{
		DisplayName: displayName,
		Email:       email,
		Password:    password,
	})
}

func (c *Controller) Logout() State {
	c.discardToken()
	return c.setAnonymous()
}

// HandleUnauthorized logs out when err is a server-side 401 and reports
// whether it did.
func (c *Controller) HandleUnauthorized(err error) bool {
	if !errors.Is(err, ErrUnauthorized) {
		return false
	}
	c.Logout()
	return true
}

// Authorized runs fn with the persisted token. A 401 from fn ends the session.
func (c *Controller) Authorized(ctx context.Context, fn func(ctx context.Context, token string) error) error {
	token, err := c.slot.Load()
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token == "" || !c.State().Authenticated() {
		return ErrUnauthorized
	}

	err = fn(ctx, token)
	c.HandleUnauthorized(err)
	return err
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers see only the newest snapshot. Call cancel to release it.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan State, 1)
	ch <- c.state
	c.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subscribers, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (c *Controller) discardToken() {
	if err := c.slot.Clear(); err != nil {
		c.logger.Warn("unable to clear persisted token", "error", err)
	}
}

func (c *Controller) setAuthenticated(user model.PublicAccount) State {
	return c.transition(State{Status: StatusAuthenticated, User: &user})
}

func (c *Controller) setAnonymous() State {
	return c.transition(State{Status: StatusAnonymous})
}

func (c *Controller) transition(next State) State {
	c.mu.Lock()
	c.state = next
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
	return next
}

// isDefinitive reports errors that a retry cannot change. A 429 says nothing
// about the token itself.
func isDefinitive(err error) bool {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
}
