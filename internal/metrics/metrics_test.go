package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Intake("created")
	m.Intake("created")
	m.Intake("duplicate")
	m.GuardrailDecision("rejected")
	m.ClaimConflict()
	m.SweeperTask("verified", 2)
	m.SweeperTask("escalated", 0)
	m.LeasesExpired(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.intake.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.intake.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardrail.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.claimConflicts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sweeper.WithLabelValues("verified")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.sweeper.WithLabelValues("escalated")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.leasesExpired))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Intake("created")
	m.GuardrailDecision("promoted")
	m.WorkerRun("idle")
	m.ClaimConflict()
	m.SweeperTask("verified", 1)
	m.LeasesExpired(1)
	m.ObserveStage("worker", time.Now())
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New()
	m.WorkerRun("completed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `hivegate_worker_runs_total{outcome="completed"} 1`)
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a, b := New(), New()
	a.ClaimConflict()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.claimConflicts))
}
