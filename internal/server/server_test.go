package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imkarma/hivegate/internal/agent"
	"github.com/imkarma/hivegate/internal/artifact"
	"github.com/imkarma/hivegate/internal/config"
	"github.com/imkarma/hivegate/internal/guardrail"
	"github.com/imkarma/hivegate/internal/intake"
	"github.com/imkarma/hivegate/internal/metrics"
	"github.com/imkarma/hivegate/internal/store"
	"github.com/imkarma/hivegate/internal/worker"
)

func testServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	return testServerWith(t, config.DefaultConfig().Guardrail)
}

func testServerWith(t *testing.T, gcfg config.GuardrailConfig) (*httptest.Server, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})

	roster := agent.DefaultRoster()
	arts := artifact.NewStore(afero.NewMemMapFs(), "/art", nil)
	m := metrics.New()

	in := intake.New(s, roster)
	in.Now = func() time.Time { return time.Date(2026, 10, 17, 10, 30, 0, 0, time.UTC) }
	in.Metrics = m

	srv := &Server{
		Intake:         in,
		Guardrail:      guardrail.New(s, gcfg),
		Worker:         worker.New(s, arts, roster, "worker-1"),
		Metrics:        m,
		Health:         s.Ping,
		RequestTimeout: 5 * time.Second,
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func post(t *testing.T, ts *httptest.Server, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestIntake_CreateThenDedup(t *testing.T) {
	ts, _ := testServer(t)
	body := `{"title":"Clean up log rotation","assigned_to":"sam"}`

	code, first := post(t, ts, "/api/intake", body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, first["ok"])
	assert.Equal(t, false, first["deduped"])
	assert.Equal(t, "sam", first["assigned_to"])
	assert.Equal(t, "suggested", first["status"])
	assert.Equal(t, "2026-10-17T09:00:00Z", first["intent_window"])

	code, second := post(t, ts, "/api/intake", body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, second["deduped"])
	assert.Equal(t, first["id"], second["id"])
}

func TestIntake_MissingTitleIs400(t *testing.T) {
	ts, _ := testServer(t)
	code, out := post(t, ts, "/api/intake", `{"title":"  "}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, out["ok"])
	assert.Contains(t, out["error"], "title is required")
}

func TestIntake_MalformedJSONIs400(t *testing.T) {
	ts, _ := testServer(t)
	code, out := post(t, ts, "/api/intake", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, out["ok"])
}

func TestIntake_UnconfiguredIs500(t *testing.T) {
	ts := httptest.NewServer((&Server{}).Handler())
	defer ts.Close()

	code, out := post(t, ts, "/api/intake", `{"title":"Clean up log rotation"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, out["ok"])
}

func TestIntake_ErrorsAreLoggedWithRequestPath(t *testing.T) {
	var logs bytes.Buffer
	ts := httptest.NewServer((&Server{Log: zerolog.New(&logs)}).Handler())
	defer ts.Close()

	code, _ := post(t, ts, "/api/intake", `{"title":"Clean up log rotation"}`)
	require.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, logs.String(), `"path":"/api/intake"`)
	assert.Contains(t, logs.String(), `"method":"POST"`)
	assert.Contains(t, logs.String(), "request failed")
}

func TestActions_GuardrailUsesConfiguredMax(t *testing.T) {
	gcfg := config.DefaultConfig().Guardrail
	gcfg.MaxPerRun = 1
	ts, _ := testServerWith(t, gcfg)

	_, first := post(t, ts, "/api/intake", `{"title":"Clean up log rotation","assigned_to":"sam"}`)
	post(t, ts, "/api/intake", `{"title":"Add retry to webhook client","assigned_to":"sam"}`)

	code, g := post(t, ts, "/api/actions", `{"action":"guardrail"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), g["processed"])
	assert.Equal(t, []any{first["id"]}, g["accepted"])

	code, g = post(t, ts, "/api/actions", `{"action":"guardrail","max":3}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), g["processed"])
}

func TestActions_GuardrailThenWorker(t *testing.T) {
	ts, s := testServer(t)

	_, created := post(t, ts, "/api/intake", `{"title":"Clean up log rotation","assigned_to":"sam"}`)
	_, risky := post(t, ts, "/api/intake", `{"title":"delete prod db","assigned_to":"sam"}`)

	code, g := post(t, ts, "/api/actions", `{"action":"guardrail"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, g["ok"])
	assert.Equal(t, float64(2), g["processed"])
	assert.Equal(t, []any{created["id"]}, g["accepted"])
	rejected := g["rejected"].([]any)
	require.Len(t, rejected, 1)
	assert.Equal(t, risky["id"], rejected[0].(map[string]any)["id"])
	assert.Equal(t, "risky_keyword:delete", rejected[0].(map[string]any)["reason"])

	code, w := post(t, ts, "/api/actions", `{"action":"worker","assignee":"sam","max":3}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), w["processed"])
	task := w["task"].(map[string]any)
	assert.Equal(t, created["id"], task["id"])
	assert.Equal(t, "/art/executions/"+created["id"].(string)+".md", task["artifact_path"])

	got, err := s.GetTask(context.Background(), created["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, got.Status)

	code, w = post(t, ts, "/api/actions", `{"action":"worker","assignee":"sam"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), w["processed"])
	assert.Equal(t, "no_matching_backlog_task", w["reason"])
	assert.NotContains(t, w, "task")
}

func TestActions_UnknownActionIs400(t *testing.T) {
	ts, _ := testServer(t)
	code, out := post(t, ts, "/api/actions", `{"action":"teleport"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, out["ok"])
	assert.Contains(t, out["error"], "teleport")
}

func TestHealthz(t *testing.T) {
	ts, _ := testServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := httptest.NewServer((&Server{Health: func(context.Context) error { return errors.New("db down") }}).Handler())
	defer down.Close()
	resp, err = http.Get(down.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := testServer(t)
	post(t, ts, "/api/intake", `{"title":"Clean up log rotation"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `hivegate_intake_total{outcome="created"} 1`)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, status(intake.ErrInvalidInput))
	assert.Equal(t, http.StatusInternalServerError, status(config.ErrConfiguration))
	assert.Equal(t, http.StatusInternalServerError, status(errors.New("boom")))
}
