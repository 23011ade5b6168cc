package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-coach-go/internal/metrics"
	"call-coach-go/internal/types"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func score(v float64) *float64 { return &v }

var rubric = types.Rubric{Version: "v7", Dimensions: []types.Dimension{
	{ID: "discovery", Criteria: "Ask open questions", Weight: 1},
}}

func analysis() types.CallAnalysis {
	return types.CallAnalysis{
		RunID:         "run-1",
		CallID:        "call-42",
		RubricVersion: "v7",
		State:         types.StatePersisted,
		OverallScore:  score(55),
		Dimensions:    map[string]types.DimensionResult{"discovery": {DimensionID: "discovery", Score: score(55)}},
	}
}

func TestPersist_WritesKeyedEnvelope(t *testing.T) {
	w := &fakeWriter{}
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	p := &Publisher{writer: w, topic: "call-analysis", metrics: m, log: New(Config{}, nil, nil).log}

	require.NoError(t, p.Persist(context.Background(), analysis(), rubric))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "call-42", string(w.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, "run-1", env.Analysis.RunID)
	assert.Equal(t, "discovery", env.ActionCard.FocusID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishTotal.WithLabelValues("ok")))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPersist_WriteErrorIsReturned(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	p := &Publisher{writer: w, metrics: m, log: New(Config{}, nil, nil).log}

	err := p.Persist(context.Background(), analysis(), rubric)
	assert.ErrorIs(t, err, w.err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishTotal.WithLabelValues("error")))
}

func TestPersist_LogOnlyWhenDisabled(t *testing.T) {
	p := New(Config{Brokers: []string{"localhost:9092"}, Topic: "t", Enabled: false}, nil, nil)
	assert.Nil(t, p.writer)
	assert.NoError(t, p.Persist(context.Background(), analysis(), rubric))
	assert.NoError(t, p.Close())
}
