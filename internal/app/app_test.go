package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-coach-go/internal/config"
	"call-coach-go/internal/metrics"
	"call-coach-go/internal/types"
)

const rubricYAML = `
rubric_version: base-1
dimensions:
  - {id: discovery, criteria: Asks open questions, weight: 0.7}
  - {id: next_steps, criteria: Secures a next step, weight: 0.3}
`

func mockConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rubrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rubricYAML), 0o600))

	cfg := config.Defaults()
	cfg.LLM.Mock = true
	cfg.Transcript.Mock = true
	cfg.RubricPath = path
	cfg.Pools.Analyzer = 4
	cfg.Pools.Dispatch = 2
	return cfg
}

func TestNew_WiresMockStack(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	a, err := New(context.Background(), mockConfig(t), m, nil)
	require.NoError(t, err)
	defer a.Close()

	analysis, err := a.Processor.ProcessCall(context.Background(), "call-1", false)
	require.NoError(t, err)
	assert.Equal(t, types.StatePersisted, analysis.State)
	assert.Equal(t, "base-1", analysis.RubricVersion)
	require.NotNil(t, analysis.OverallScore)

	ack, err := a.Ingestion.Handle(context.Background(), types.IngestionEvent{EventID: "e1", CallID: "call-2"})
	require.NoError(t, err)
	assert.Equal(t, types.AckAccepted, ack.Status)
	ack, err = a.Ingestion.Handle(context.Background(), types.IngestionEvent{EventID: "e1", CallID: "call-2"})
	require.NoError(t, err)
	assert.Equal(t, types.AckDuplicate, ack.Status)

	require.Eventually(t, func() bool {
		return a.DispatchPool.Stats().Completed == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNew_MissingRubricFile(t *testing.T) {
	cfg := mockConfig(t)
	cfg.RubricPath = filepath.Join(t.TempDir(), "absent.yaml")
	a, err := New(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
	assert.Nil(t, a)
}
