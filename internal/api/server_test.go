package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-orchestrator/internal/config"
	"github.com/JakeFAU/policy-orchestrator/internal/control"
	"github.com/JakeFAU/policy-orchestrator/internal/pipeline"
	"github.com/JakeFAU/policy-orchestrator/internal/progress"
	"github.com/JakeFAU/policy-orchestrator/internal/queue"
	memstore "github.com/JakeFAU/policy-orchestrator/internal/store/memory"
)

type stubClock struct{}

func (stubClock) Now() time.Time { return time.Now().UTC() }

type stubIDGen struct{ n atomic.Int64 }

func (g *stubIDGen) NewID() (string, error) {
	return fmt.Sprintf("task-%d", g.n.Add(1)), nil
}

type stubPressure struct {
	level float64
	open  bool
}

func (p *stubPressure) ThrottleLevel() float64 { return p.level }

func (p *stubPressure) BreakerOpen() bool { return p.open }

type stubSlots struct{ n int }

func (s *stubSlots) ActiveSlots() int { return s.n }

type apiFixture struct {
	server   *Server
	queue    *queue.TaskQueue
	store    *memstore.TaskStore
	pressure *stubPressure
	slots    *stubSlots
}

func newAPIFixture(t *testing.T, cfg config.Config) *apiFixture {
	t.Helper()
	clock := stubClock{}
	store := memstore.NewTaskStore(time.Hour, clock)
	q := queue.New(
		store,
		control.NewRegistry(),
		progress.NopEmitter{},
		clock,
		&stubIDGen{},
		pipeline.NewRetryPolicy(),
		queue.Options{},
	)
	pressure := &stubPressure{}
	slots := &stubSlots{}
	srv := NewServer(q, store, pressure, slots, cfg, nil)
	return &apiFixture{server: srv, queue: q, store: store, pressure: pressure, slots: slots}
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func submitBody(urls ...string) map[string]any {
	entries := make([]map[string]any, 0, len(urls))
	for _, u := range urls {
		entries = append(entries, map[string]any{"url": u})
	}
	return map[string]any{"selection": entries}
}

func TestSubmitJobAccepted(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, config.Config{})

	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/jobs", submitBody("https://example.com/p/1"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	require.NotEmpty(t, body["task_id"])
}

func TestSubmitJobEmptySelectionRejected(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, config.Config{})

	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/jobs", map[string]any{"selection": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/jobs", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJobStatusFields(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, config.Config{})
	id, err := f.queue.Submit(context.Background(), []pipeline.UnitSpec{{URL: "https://example.com/p/1"}})
	require.NoError(t, err)

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)

	// Every field is present on every poll, including zero values.
	for _, field := range []string{
		"task_id", "status", "completed", "total", "errors",
		"current_label", "throttled", "reason", "estimated_completion",
	} {
		require.Contains(t, body, field)
	}
	require.Equal(t, "PENDING", body["status"])
	require.Equal(t, float64(1), body["total"])
	require.Equal(t, false, body["throttled"])
}

func TestGetJobStatusNotFound(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, config.Config{})

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/jobs/unknown", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobStatusReportsThrottle(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, config.Config{})
	f.pressure.level = 0.4
	id, err := f.queue.Submit(context.Background(), []pipeline.UnitSpec{{URL: "https://example.com/p/1"}})
	require.NoError(t, err)

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/jobs/"+id, nil)
	body := decodeBody(t, rec)
	require.Equal(t, true, body["throttled"])
}

func TestControlEndpoints(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, config.Config{})
	id, err := f.queue.Submit(context.Background(), []pipeline.UnitSpec{{URL: "https://example.com/p/1"}, {URL: "https://example.com/p/2"}})
	require.NoError(t, err)

	// Pausing a task that never started is a conflict.
	rec := doJSON(t, f.server.Handler(), http.MethodPost, "/jobs/"+id+"/pause", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	_, ok := f.queue.Claim(context.Background())
	require.True(t, ok)

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/jobs/"+id+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "PAUSED", decodeBody(t, rec)["status"])

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/jobs/"+id+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "RUNNING", decodeBody(t, rec)["status"])

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/jobs/"+id+"/abort", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ABORTED", decodeBody(t, rec)["status"])

	// Control on terminal tasks: abort is idempotent, resume conflicts.
	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/jobs/"+id+"/abort", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/jobs/"+id+"/resume", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, f.server.Handler(), http.MethodPost, "/jobs/unknown/pause", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, config.Config{})
	f.slots.n = 2

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, "closed", body["breaker"])
	require.Equal(t, float64(2), body["active_slots"])
}

func TestHealthDegradedWhileBreakerOpen(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, config.Config{})
	f.pressure.open = true

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/health", nil)
	body := decodeBody(t, rec)
	require.Equal(t, "degraded", body["status"])
	require.Equal(t, "open", body["breaker"])
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	f := newAPIFixture(t, cfg)

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-API-Key", "secret")
	out := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	f := newAPIFixture(t, config.Config{})

	rec := doJSON(t, f.server.Handler(), http.MethodGet, "/health", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
