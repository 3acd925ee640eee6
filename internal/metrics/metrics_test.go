package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveFire(t *testing.T) {
	m := New()
	start := time.UnixMilli(0)

	m.ObserveFire("report", types.ExecutionResult{Outcome: types.OutcomeSuccess, StartedAt: start, FinishedAt: start.Add(time.Second)})
	m.ObserveFire("report", types.ExecutionResult{Outcome: types.OutcomeFailure, StartedAt: start, FinishedAt: start})
	m.ObserveFire("report", types.ExecutionResult{Outcome: types.OutcomeSkipped})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fires.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fires.WithLabelValues("FAILURE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fires.WithLabelValues("SKIPPED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.JobDuration))
}

func TestMetrics_ObserveReaped(t *testing.T) {
	m := New()
	m.ObserveReaped([]types.ReapedNode{
		{NodeID: "node-a", ReleasedTriggers: 2},
		{NodeID: "", ReleasedTriggers: 1},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReapedNodes))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ReleasedTriggers))
}

func TestMetrics_TrackBusy(t *testing.T) {
	m := New()
	done := m.TrackBusy()
	m.TrackBusy()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BusyWorkers))
	done()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusyWorkers))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveMisfire(types.MisfireFireNow)
	m.ObserveTransient("scheduler")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gofire_misfires_total{policy="FIRE_NOW"} 1`)
	assert.Contains(t, rec.Body.String(), `gofire_transient_errors_total{component="scheduler"} 1`)
}
