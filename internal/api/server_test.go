package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/checkpoint"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/hash/sha256"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeIDGen struct{}

func (fakeIDGen) NewID() (string, error) { return "req-1", nil }

func newTestServer(t *testing.T) (*Server, *checkpoint.Manager) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	mgr, err := checkpoint.NewManager(t.TempDir(), checkpoint.Config{FlushEvery: 1}, clock, sha256.New(), nil)
	require.NoError(t, err)
	return NewServer(mgr, fakeIDGen{}, nil), mgr
}

func TestHealthAndReadyProbes(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
		require.Equal(t, "req-1", rr.Header().Get("X-Request-ID"))
	}
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestListStagesReportsCombinedProgress(t *testing.T) {
	t.Parallel()

	s, mgr := newTestServer(t)
	cp := mgr.Stage(crawl.StageDiscovery)
	require.NoError(t, cp.Start(10, ""))
	require.NoError(t, cp.UpdateProgress(4, 4, 0, 0, "x", 3))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stages", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Stages   []checkpoint.State  `json:"stages"`
		Combined checkpoint.Progress `json:"combined"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Stages, 1)
	require.Equal(t, 4, body.Combined.Processed)
}

func TestStageStatusAndUnknownStage(t *testing.T) {
	t.Parallel()

	s, mgr := newTestServer(t)
	require.NoError(t, mgr.Stage(crawl.StageValidation).Start(5, ""))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stages/validation/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Stage checkpoint.State `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "validation", body.Stage.Stage)
	require.Equal(t, checkpoint.StatusRunning, body.Stage.Status)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stages/bogus/status", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestResetStageClearsCheckpoint(t *testing.T) {
	t.Parallel()

	s, mgr := newTestServer(t)
	cp := mgr.Stage(crawl.StageDiscovery)
	require.NoError(t, cp.Start(10, ""))
	require.NoError(t, cp.UpdateProgress(10, 10, 0, 0, "x", 9))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/stages/discovery/reset", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	require.Equal(t, checkpoint.StatusInitialized, mgr.Stage(crawl.StageDiscovery).Status())
}
