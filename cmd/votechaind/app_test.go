package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"votechain/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Storage.Difficulty = 1
	cfg.Verification.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	cfg.Verification.ExposeOTP = true
	return &cfg
}

func startApp(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	application, err := newApp(context.Background(), cfg, slogger, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	srv := httptest.NewServer(application.handler)
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, application.close())
	})
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, user, role, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func TestAppServesWorkflowAgainstLedger(t *testing.T) {
	srv := startApp(t, testConfig(t))

	status, _ := call(t, srv, http.MethodGet, "/healthz", "", "", "")
	require.Equal(t, http.StatusOK, status)

	status, body := call(t, srv, http.MethodGet, "/api/voter-profile", "", "", "")
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "VTC-401", body["error"].(map[string]any)["code"])

	status, _ = call(t, srv, http.MethodPost, "/api/voter-profile", "user-1", "",
		`{"voterId":"vc-100","district":"North","age":30,"registrationDate":"2024-01-01","precinct":"P-1","isEligible":true}`)
	require.Equal(t, http.StatusCreated, status)

	status, body = call(t, srv, http.MethodPost, "/api/verification/start", "user-1", "", "")
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, body["blockchainRef"])

	status, body = call(t, srv, http.MethodGet, "/api/admin/blockchain", "auditor", "admin", "")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["isValid"])
	require.EqualValues(t, 2, body["chainLength"])

	status, _ = call(t, srv, http.MethodGet, "/api/admin/blockchain", "user-1", "", "")
	require.Equal(t, http.StatusForbidden, status)
}

func TestAppRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "cassandra"
	_, err := newApp(context.Background(), cfg, slog.Default(), log.Default())
	require.ErrorContains(t, err, "open block store")
}

func TestAppCreatesDataDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Storage.Backend = "bolt"
	cfg.Storage.Path = filepath.Join(dir, "chain", "ledger.db")
	cfg.Verification.DSN = filepath.Join(dir, "workflow", "verification.sqlite")
	srv := startApp(t, cfg)

	status, _ := call(t, srv, http.MethodGet, "/healthz", "", "", "")
	require.Equal(t, http.StatusOK, status)
	require.DirExists(t, filepath.Join(dir, "chain"))
	require.DirExists(t, filepath.Join(dir, "workflow"))
}

func TestRateLimitsMapPathsToLimits(t *testing.T) {
	limits, prefixes := rateLimits([]config.RateLimitConfig{
		{ID: "otp", RequestsPerMinute: 10, Burst: 3, Paths: []string{"/api/verification/otp", " "}},
		{ID: "", RatePerSecond: 5, Paths: []string{"/ignored"}},
		{ID: "admin", RatePerSecond: 2, Burst: 4, Paths: []string{"/api/admin"}},
	})
	require.Len(t, limits, 2)
	require.Equal(t, 10.0, limits["otp"].RequestsPerMinute)
	require.Equal(t, 2.0, limits["admin"].RatePerSecond)
	require.Len(t, prefixes, 2)
	require.Equal(t, "/api/verification/otp", prefixes[0].Prefix)
	require.Equal(t, "otp", prefixes[0].Limit)
	require.Equal(t, "admin", prefixes[1].Limit)
}
