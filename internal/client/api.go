package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nexsync-auth/internal/model"
)

var (
	// ErrUnauthorized is returned when the server rejects the presented token.
	ErrUnauthorized = errors.New("session is not authorized")
	// ErrLoginFailed covers both an unknown email and a wrong password.
	ErrLoginFailed = errors.New("login failed")
)

const maxResponseBytes = 1 << 20

// APIError is a non-2xx envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d %s): %s", e.Status, e.Code, e.Message)
}

// API talks to the auth endpoints of the server.
type API struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPI(baseURL string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (a *API) Register(ctx context.Context, req model.RegisterRequest) (model.PublicAccount, error) {
	var payload model.UserPayload
	if err := a.do(ctx, http.MethodPost, "/auth/register", "", req, &payload); err != nil {
		return model.PublicAccount{}, err
	}
	return payload.User, nil
}

func (a *API) Login(ctx context.Context, req model.LoginRequest) (model.LoginResult, error) {
	var result model.LoginResult
	err := a.do(ctx, http.MethodPost, "/auth/login", "", req, &result)
	if errors.Is(err, ErrUnauthorized) {
		return model.LoginResult{}, ErrLoginFailed
	}
	if err != nil {
		return model.LoginResult{}, err
	}
	if result.AccessToken == "" {
		return model.LoginResult{}, errors.New("login response did not include a token")
	}
	return result, nil
}

func (a *API) CheckAuth(ctx context.Context, token string) (model.PublicAccount, error) {
	var payload model.UserPayload
	if err := a.do(ctx, http.MethodGet, "/auth/check-auth", token, nil, &payload); err != nil {
		return model.PublicAccount{}, err
	}
	return payload.User, nil
}

func (a *API) do(ctx context.Context, method string, path string, token string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Code    string          `json:"code"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&envelope); err != nil {
		if resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("unreadable response: %v", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, envelope.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || !envelope.Success {
		return &APIError{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Message}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
