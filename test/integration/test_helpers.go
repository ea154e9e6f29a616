//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"nexsync-auth/internal/app"
	"nexsync-auth/internal/config"
)

const (
	adminEmail    = "root@example.com"
	adminPassword = "Adm1nPass!"
)

// startPostgres runs a throwaway PostgreSQL and returns its connection string.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("nexsync_e2e"),
		postgres.WithUsername("nexsync"),
		postgres.WithPassword("nexsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// newServer boots the whole application against databaseURL.
func newServer(t *testing.T, databaseURL string) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		ServerPort:             "0",
		RequestTimeout:         10 * time.Second,
		StoreDriver:            config.StoreDriverPostgres,
		DatabaseURL:            databaseURL,
		DBMaxConns:             4,
		DBMinConns:             1,
		DBAutoMigrate:          true,
		JWTSecret:              "integration-secret-0123456789abcdef",
		TokenTTL:               time.Hour,
		TokenIssuer:            "nexsync",
		AuthRateLimitRPM:       1000,
		BootstrapAdminEmail:    adminEmail,
		BootstrapAdminPassword: adminPassword,
		BootstrapAdminName:     "Root",
		LogFormat:              "json",
		MetricsEnabled:         true,
	}

	application, err := app.New(context.Background(), cfg, "integration")
	require.NoError(t, err)
	t.Cleanup(application.Close)

	server := httptest.NewServer(application.Handler())
	t.Cleanup(server.Close)
	return server
}

func mustNewRequest(t *testing.T, method string, url string, body any) *http.Request {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

func doRequest(t *testing.T, req *http.Request) *http.Response {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func doAuthRequest(t *testing.T, method string, url string, accessToken string) *http.Response {
	t.Helper()

	req := mustNewRequest(t, method, url, nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return doRequest(t, req)
}

func decodeData(t *testing.T, resp *http.Response, dst any) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}
