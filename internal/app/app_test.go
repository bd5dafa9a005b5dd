package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"recording-relay/internal/config"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/recordings":
			fmt.Fprintf(w, `{"recordings":[
				{"id":"a1","caller_number":"+111","date_time":"2024-05-01T08:00:00Z","owner":{"extension_number":4100},"download_url":"%[1]s/dl/a1"},
				{"id":"b2","caller_number":"+222","date_time":"2024-05-01T09:00:00Z","owner":{"extension_number":"999"},"download_url":"%[1]s/dl/b2"}
			]}`, srv.URL)
		case strings.HasPrefix(r.URL.Path, "/dl/"):
			_, _ = w.Write([]byte("audio:" + strings.TrimPrefix(r.URL.Path, "/dl/")))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, upstream string, routes string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	tokenFile := filepath.Join(dir, "token", "token.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(tokenFile), 0o755))
	require.NoError(t, os.WriteFile(tokenFile, []byte("secret\n"), 0o600))

	routesFile := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(routesFile, []byte(routes), 0o644))

	return &config.Config{
		LogLevel:           "error",
		TokenFile:          tokenFile,
		ListingURL:         upstream + "/recordings",
		ListingQuery:       "page_size=300",
		PollInterval:       time.Hour,
		HTTPTimeout:        5 * time.Second,
		DownloadTimeout:    5 * time.Second,
		FetchConcurrency:   2,
		FetchRateLimit:     100,
		FetchBurst:         10,
		RecordingExtension: "mp3",
		RoutesFile:         routesFile,
		LedgerType:         "sqlite",
		LedgerPath:         filepath.Join(dir, "data", "ledger.db"),
		RelayScanInterval:  time.Hour,
	}
}

func TestApp_RunOnce(t *testing.T) {
	upstream := newUpstream(t)
	stage := t.TempDir()
	cfg := testConfig(t, upstream.URL, fmt.Sprintf(`
destinations:
  sales: {dir: %q}
rules:
  - when: 'owner_extension startsWith "4"'
    destination: sales
`, stage))

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	result, err := app.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Items)

	got, err := os.ReadFile(filepath.Join(stage, "+111_2024-05-01T080000Z.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "audio:a1", string(got))

	count, err := app.Ledger.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, count, "the unmatched recording is claimed too")

	stats := app.Processor.Stats()
	assert.EqualValues(t, 1, stats.Fetched)
	assert.EqualValues(t, 1, stats.Unmatched)
}

func TestApp_RelayDestinationsGetUploaders(t *testing.T) {
	upstream := newUpstream(t)
	root := t.TempDir()
	cfg := testConfig(t, upstream.URL, fmt.Sprintf(`
destinations:
  local: {dir: %q}
  remote: {dir: %q, relay: "sftp://relay@127.0.0.1:2222/incoming"}
rules:
  - when: 'owner_extension == "4100"'
    destination: local
  - destination: remote
`, filepath.Join(root, "local"), filepath.Join(root, "remote")))

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	require.Len(t, app.Uploaders, 1)
	assert.Equal(t, "remote", app.Uploaders[0].Destination().Name)
}

func TestApp_InvalidRelayTarget(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL, fmt.Sprintf(`
destinations:
  remote: {dir: %q, relay: "ftp://relay/incoming"}
rules:
  - destination: remote
`, t.TempDir()))

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestApp_StatusAPI(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL, fmt.Sprintf(`
destinations:
  sales: {dir: %q}
rules:
  - destination: sales
`, t.TempDir()))
	cfg.StatusPort = "8090"

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	srv, handler := app.RunServer()
	require.NotNil(t, srv)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/poll", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		CredentialLoaded bool                   `json:"credential_loaded"`
		Claims           *int64                 `json:"claims"`
		DownloadLimiter  map[string]interface{} `json:"download_limiter"`
		Poller           struct {
			Cycles int64 `json:"cycles"`
		} `json:"poller"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.CredentialLoaded)
	require.NotNil(t, status.Claims)
	assert.EqualValues(t, 2, *status.Claims)
	assert.EqualValues(t, 1, status.Poller.Cycles)
	assert.EqualValues(t, 100, status.DownloadLimiter["requests_per_second"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/poll", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestApp_StatusAPIDisabled(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(t, upstream.URL, fmt.Sprintf(`
destinations:
  sales: {dir: %q}
rules:
  - destination: sales
`, t.TempDir()))

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	srv, _ := app.RunServer()
	assert.Nil(t, srv)
}

func TestApp_StartShutdown(t *testing.T) {
	upstream := newUpstream(t)
	stage := t.TempDir()
	cfg := testConfig(t, upstream.URL, fmt.Sprintf(`
destinations:
  sales: {dir: %q}
rules:
  - destination: sales
`, stage))

	app, err := New(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, app.Start(context.Background()))
	require.Eventually(t, func() bool {
		return app.Poller.Stats().Cycles == 1
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
	assert.Nil(t, app.Ledger)

	entries, err := os.ReadDir(stage)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
