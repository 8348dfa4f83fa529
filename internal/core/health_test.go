package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHealthProbe implements HealthProbe for testing.
type mockHealthProbe struct {
	name     string
	checkErr error
	delay    time.Duration
	panics   bool
	called   atomic.Bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	m.called.Store(true)
	if m.panics {
		panic("probe exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := runHealth(t)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Empty(t, resp.Components)
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, resp := runHealth(t, PingProbe{Component: "database", Target: stubPinger{}})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, componentStatus{Status: "ok"}, resp.Components["database"])
}

func TestHandleHealth_DatabaseDown(t *testing.T) {
	code, resp := runHealth(t, PingProbe{Component: "database", Target: stubPinger{err: errors.New("connection refused")}})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "connection refused", resp.Components["database"].Message)
}

func TestHandleHealth_Timeout(t *testing.T) {
	slow := &mockHealthProbe{name: "database", delay: 10 * time.Second}
	start := time.Now()
	code, resp := runHealth(t, slow)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", resp.Components["database"].Status)
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	ok := &mockHealthProbe{name: "database"}
	bad := &mockHealthProbe{name: "archive", panics: true}
	code, resp := runHealth(t, ok, bad)

	assert.True(t, ok.called.Load())
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "ok", resp.Components["database"].Status)
	assert.Contains(t, resp.Components["archive"].Message, "probe panicked")
}

func TestHandleHealth_VersionFallback(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.Build.Version = ""
	assert.Equal(t, "dev", srv.version())
}
