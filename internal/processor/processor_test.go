package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-coach-go/internal/cache"
	"call-coach-go/internal/chunker"
	"call-coach-go/internal/extractor"
	"call-coach-go/internal/ingestion"
	"call-coach-go/internal/pipeline"
	"call-coach-go/internal/rubric"
	"call-coach-go/internal/transcription"
	"call-coach-go/internal/types"
	"call-coach-go/internal/workerpool"
)

type recordingRunner struct {
	meta   types.CallMetadata
	rubric types.Rubric
	opts   pipeline.Options
	calls  int
}

func (r *recordingRunner) Run(_ context.Context, meta types.CallMetadata, _ types.RawTranscript, rb types.Rubric, opts pipeline.Options) (types.CallAnalysis, error) {
	r.calls++
	r.meta, r.rubric, r.opts = meta, rb, opts
	return types.CallAnalysis{CallID: meta.CallID, State: types.StatePersisted}, nil
}

type failingSource struct{ err error }

func (s failingSource) Fetch(context.Context, string) (transcription.Document, error) {
	return transcription.Document{}, s.err
}

func registry(t *testing.T) *rubric.Registry {
	t.Helper()
	g := rubric.NewRegistry()
	require.NoError(t, g.Register(types.Rubric{Version: "base", Dimensions: []types.Dimension{
		{ID: "discovery", Criteria: "Ask open questions", Weight: 0.5},
		{ID: "next_steps", Criteria: "Agree a next step", Weight: 0.5},
	}}))
	require.NoError(t, g.Register(types.Rubric{Version: "ae-1", Role: "account_executive", Dimensions: []types.Dimension{
		{ID: "discovery", Criteria: "Quantify the pain", Weight: 1},
	}}))
	return g
}

func TestProcessCall_SelectsRubricByRole(t *testing.T) {
	runner := &recordingRunner{}
	p := New(transcription.MockSource{}, registry(t), runner, Config{FanoutTimeout: time.Minute}, nil)

	a, err := p.ProcessCall(context.Background(), "c-9", true)
	require.NoError(t, err)
	assert.Equal(t, types.StatePersisted, a.State)
	assert.Equal(t, "ae-1", runner.rubric.Version)
	assert.Equal(t, "c-9", runner.meta.CallID)
	assert.True(t, runner.opts.ForceRecompute)
	assert.Equal(t, time.Minute, runner.opts.Timeout)
}

func TestProcessCall_TranscriptUnavailable(t *testing.T) {
	runner := &recordingRunner{}
	p := New(failingSource{err: transcription.ErrCallNotFound}, registry(t), runner, Config{}, nil)

	a, err := p.ProcessCall(context.Background(), "gone", false)
	assert.ErrorIs(t, err, ErrTranscriptUnavailable)
	assert.ErrorIs(t, err, transcription.ErrCallNotFound)
	assert.Equal(t, types.StateFailed, a.State)
	assert.Zero(t, runner.calls)
}

func TestProcessCall_NoRubric(t *testing.T) {
	p := New(transcription.MockSource{}, rubric.NewRegistry(), &recordingRunner{}, Config{}, nil)
	a, err := p.ProcessCall(context.Background(), "c-1", false)
	assert.ErrorIs(t, err, rubric.ErrNoRubric)
	assert.Equal(t, types.StateFailed, a.State)
}

type countingSink struct{ n int }

func (s *countingSink) Persist(context.Context, types.CallAnalysis, types.Rubric) error {
	s.n++
	return nil
}

// End to end on the mock transcript and mock reasoning service.
func TestProcessEvent_RunsFullPipeline(t *testing.T) {
	pool, err := workerpool.New("analyzer", workerpool.AnalyzerConfig(4), nil)
	require.NoError(t, err)
	defer pool.Release(time.Second)

	sink := &countingSink{}
	orch := pipeline.New(pipeline.Deps{
		Chunker:  chunker.New(chunker.Config{MaxTokens: 400, OverlapFraction: 0.1}, nil),
		Cache:    cache.New(cache.NewMemoryStore(), cache.Options{}),
		Analyzer: extractor.NewAnalyzer(extractor.MockClient{}, extractor.DefaultConfig("mock"), nil, nil),
		Pool:     pool,
		Sink:     sink,
	})
	p := New(transcription.MockSource{}, registry(t), orch, Config{FanoutTimeout: 10 * time.Second}, nil)

	var process ingestion.ProcessFunc = p.ProcessEvent
	require.NoError(t, process(context.Background(), types.IngestionEvent{EventID: "e1", CallID: "c-1"}))
	assert.Equal(t, 1, sink.n)

	a, err := p.ProcessCall(context.Background(), "c-1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"discovery"}, a.CacheHitDimensions)
	require.NotNil(t, a.OverallScore)
}
