// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rtsp2go/internal/config"
)

type stubChecker struct {
	name   string
	result CheckResult
}

func (s stubChecker) Name() string                      { return s.name }
func (s stubChecker) Check(context.Context) CheckResult { return s.result }

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthAlways200(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(stubChecker{name: "broken", result: CheckResult{Status: StatusUnhealthy}})

	w := httptest.NewRecorder()
	m.ServeHealth(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, StatusHealthy, resp.Status, "liveness ignores components unless verbose")
	assert.Empty(t, resp.Checks)
}

func TestHealthVerboseAggregates(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(stubChecker{name: "ok", result: CheckResult{Status: StatusHealthy}})
	m.RegisterChecker(stubChecker{name: "slow", result: CheckResult{Status: StatusDegraded}})

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestReady503WhenUnhealthy(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(stubChecker{name: "store", result: CheckResult{Status: StatusUnhealthy, Error: "gone"}})

	w := httptest.NewRecorder()
	m.ServeReady(w, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, 503, w.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
}

func TestReadyDegradedIsStillReady(t *testing.T) {
	m := NewManager("test")
	m.RegisterChecker(stubChecker{name: "session", result: CheckResult{Status: StatusDegraded}})

	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready)
	assert.Equal(t, StatusDegraded, resp.Status)
}

func TestStoreChecker(t *testing.T) {
	ok := NewStoreChecker("resume_store", stubPinger{})
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	bad := NewStoreChecker("resume_store", stubPinger{err: errors.New("locked")})
	res := bad.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "locked", res.Error)
}

func TestSessionChecker(t *testing.T) {
	c := NewSessionChecker(func() (string, bool) { return "playing", false })
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)

	c = NewSessionChecker(func() (string, bool) { return "failed", true })
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
}

func TestBinaryCheckerMissing(t *testing.T) {
	c := NewBinaryChecker("player_binary", "definitely-not-a-real-binary-xyz")
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)
}

func TestStartupChecksDataDir(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Pipeline.Backend = "mpv"
	cfg.Pipeline.MpvBin = "sh" // present on any test host

	require.NoError(t, PerformStartupChecks(cfg))

	// The directory is created on demand.
	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestStartupChecksMissingBinary(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Pipeline.MpvBin = "definitely-not-a-real-binary-xyz"

	err := PerformStartupChecks(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in PATH")
}
