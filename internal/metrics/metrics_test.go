package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIngestion("accepted", 0.01)
		m.RecordRun("PERSISTED", 1, 3)
		m.RecordDegraded("timeout")
		m.RecordCacheLookup("call", true)
		m.RecordCacheError("get")
		m.RecordSharedFlight()
		m.RecordAnalyzerCall("ok", 0.5)
		m.RecordAnalyzerRetry()
		m.RecordPublish(nil)
	})
}

func TestDefaultMetrics_Counts(t *testing.T) {
	m := DefaultMetrics

	before := testutil.ToFloat64(m.CacheLookups.WithLabelValues("chunk", "hit"))
	m.RecordCacheLookup("chunk", true)
	assert.Equal(t, before+1, testutil.ToFloat64(m.CacheLookups.WithLabelValues("chunk", "hit")))

	errBefore := testutil.ToFloat64(m.PublishTotal.WithLabelValues("error"))
	m.RecordPublish(errors.New("broker down"))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(m.PublishTotal.WithLabelValues("error")))
}

func TestNewMetricsWith_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)
	m.RecordRun("FAILED", 2, 0)
	m.RecordDegraded("some chunks failed analysis")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("FAILED")))
	n, err := testutil.GatherAndCount(reg, "call_coach_runs_total", "call_coach_dimension_degraded_total")
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}
