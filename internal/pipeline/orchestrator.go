// Package pipeline drives one call through chunking, per-dimension analysis
// and combination, then hands the CallAnalysis to a Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"call-coach-go/internal/aggregator"
	"call-coach-go/internal/cache"
	"call-coach-go/internal/fingerprint"
	"call-coach-go/internal/logger"
	"call-coach-go/internal/metrics"
	"call-coach-go/internal/types"
)

type Splitter interface {
	Split(t types.RawTranscript) ([]types.Chunk, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, chunk types.Chunk, dim types.Dimension, rubric types.Rubric) (types.DimensionResult, error)
}

type ResultCache interface {
	Get(ctx context.Context, fp string) (types.DimensionResult, bool)
	Put(ctx context.Context, fp string, result types.DimensionResult)
	WithSingleFlight(ctx context.Context, fp string, force bool, compute cache.ComputeFunc) (types.DimensionResult, bool, error)
}

// Runner executes a task on a bounded pool and waits for it.
type Runner interface {
	Run(task func()) error
}

// Sink receives every finished analysis with the rubric that scored it.
type Sink interface {
	Persist(ctx context.Context, analysis types.CallAnalysis, rubric types.Rubric) error
}

type Deps struct {
	Chunker  Splitter
	Cache    ResultCache
	Analyzer Analyzer
	Pool     Runner
	Sink     Sink
	Metrics  *metrics.Metrics
	Log      *logger.Logger
}

type Options struct {
	ForceRecompute bool
	// Timeout bounds the fan-out. Dimensions still pending when it fires are
	// reported degraded. Zero means no limit.
	Timeout time.Duration
}

// ErrPersist wraps Sink failures.
var ErrPersist = errors.New("persist analysis")

type Orchestrator struct {
	deps Deps
	log  *logger.Logger
	now  func() time.Time
}

func New(deps Deps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &Orchestrator{deps: deps, log: deps.Log.Component("orchestrator"), now: time.Now}
}

type dimensionDone struct {
	id     string
	result types.DimensionResult
}

// Run analyzes one call. The returned analysis is always populated; its State
// is FAILED exactly when err is non-nil.
func (o *Orchestrator) Run(ctx context.Context, meta types.CallMetadata, transcript types.RawTranscript, rubric types.Rubric, opts Options) (types.CallAnalysis, error) {
	analysis := types.CallAnalysis{
		RunID:              uuid.NewString(),
		CallID:             meta.CallID,
		StaffID:            meta.StaffID,
		RubricVersion:      rubric.Version,
		State:              types.StatePending,
		Dimensions:         map[string]types.DimensionResult{},
		CacheHitDimensions: []string{},
		StartedAt:          o.now().UTC(),
	}
	if analysis.CallID == "" {
		analysis.CallID = transcript.CallID
	}
	log := o.log.WithCall(analysis.CallID, analysis.RunID)

	fail := func(err error) (types.CallAnalysis, error) {
		analysis.State = types.StateFailed
		analysis.CompletedAt = o.now().UTC()
		o.deps.Metrics.RecordRun(string(types.StateFailed), analysis.CompletedAt.Sub(analysis.StartedAt).Seconds(), analysis.ChunkCount)
		log.WithError(err).Error("call analysis failed")
		return analysis, err
	}

	analysis.State = types.StateChunking
	chunks, err := o.deps.Chunker.Split(transcript)
	if err != nil {
		return fail(err)
	}
	analysis.ChunkCount = len(chunks)
	log.WithField("chunks", len(chunks)).WithField("dimensions", len(rubric.Dimensions)).Info("chunked transcript")

	analysis.State = types.StateFanout
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	transcriptHash := fingerprint.TranscriptHash(transcript)
	done := make(chan dimensionDone, len(rubric.Dimensions))
	for _, dim := range rubric.Dimensions {
		go func(dim types.Dimension) {
			res := o.runDimension(runCtx, log, transcriptHash, chunks, dim, rubric, opts.ForceRecompute)
			done <- dimensionDone{id: dim.ID, result: res}
		}(dim)
	}

	// each dimension arrives already combined, in whatever order it finishes
collect:
	for len(analysis.Dimensions) < len(rubric.Dimensions) {
		select {
		case d := <-done:
			analysis.Dimensions[d.id] = d.result
		case <-runCtx.Done():
			break collect
		}
	}
	// pick up dimensions that finished right as the deadline fired
	for drained := false; !drained; {
		select {
		case d := <-done:
			analysis.Dimensions[d.id] = d.result
		default:
			drained = true
		}
	}

	analysis.State = types.StateCombining
	for _, dim := range rubric.Dimensions {
		res, ok := analysis.Dimensions[dim.ID]
		if !ok || res.Reason == timeoutReason {
			o.deps.Metrics.RecordDegraded("timeout")
			log.WithField("dimension", dim.ID).Warn("dimension still pending at call timeout")
			analysis.Dimensions[dim.ID] = timedOut(dim.ID)
			continue
		}
		if res.CacheHit {
			analysis.CacheHitDimensions = append(analysis.CacheHitDimensions, dim.ID)
		}
	}
	sort.Strings(analysis.CacheHitDimensions)
	analysis.OverallScore = OverallScore(rubric, analysis.Dimensions)

	analysis.State = types.StatePersisted
	analysis.CompletedAt = o.now().UTC()
	if o.deps.Sink != nil {
		if err := o.deps.Sink.Persist(ctx, analysis, rubric); err != nil {
			return fail(fmt.Errorf("%w: %w", ErrPersist, err))
		}
	}

	o.deps.Metrics.RecordRun(string(types.StatePersisted), analysis.CompletedAt.Sub(analysis.StartedAt).Seconds(), analysis.ChunkCount)
	entry := log.WithField("cache_hits", len(analysis.CacheHitDimensions))
	if analysis.OverallScore != nil {
		entry = entry.WithField("overall_score", *analysis.OverallScore)
	}
	entry.Info("call analysis persisted")
	return analysis, nil
}

// runDimension resolves one dimension: a whole-call cache hit short-circuits,
// otherwise every chunk is analyzed under single-flight and the outcomes are
// combined. Only a fully successful result is cached at the call level.
func (o *Orchestrator) runDimension(ctx context.Context, log *logger.Logger, transcriptHash string, chunks []types.Chunk, dim types.Dimension, rubric types.Rubric, force bool) types.DimensionResult {
	callFP := fingerprint.Fingerprint(transcriptHash, dim.ID, rubric.Version)
	if !force {
		if res, ok := o.deps.Cache.Get(ctx, callFP); ok {
			o.deps.Metrics.RecordCacheLookup("call", true)
			res.DimensionID = dim.ID
			res.CacheHit = true
			return res
		}
		o.deps.Metrics.RecordCacheLookup("call", false)
	}

	outcomes := make([]aggregator.ChunkOutcome, len(chunks))
	hits := make([]bool, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk types.Chunk) {
			defer wg.Done()
			fp := fingerprint.Chunk(chunk, dim.ID, rubric.Version)
			res, hit, err := o.deps.Cache.WithSingleFlight(ctx, fp, force, func(cctx context.Context) (types.DimensionResult, error) {
				return o.analyze(cctx, chunk, dim, rubric)
			})
			o.deps.Metrics.RecordCacheLookup("chunk", hit)
			outcomes[i] = aggregator.ChunkOutcome{Chunk: chunk, Err: err}
			if err == nil {
				outcomes[i].Result = &res
				hits[i] = hit
			}
		}(i, chunk)
	}
	wg.Wait()

	cutOff := false
	for _, oc := range outcomes {
		if oc.Err == nil {
			continue
		}
		if ctx.Err() != nil && errors.Is(oc.Err, ctx.Err()) {
			cutOff = true
			continue
		}
		log.WithError(oc.Err).WithField("dimension", dim.ID).WithField("chunk", oc.Chunk.Index).Warn("chunk dropped from dimension")
	}
	if cutOff {
		return timedOut(dim.ID)
	}

	combined := aggregator.Combine(dim.ID, outcomes)
	combined.CacheHit = len(chunks) > 0
	for _, h := range hits {
		combined.CacheHit = combined.CacheHit && h
	}

	if combined.Degraded {
		o.deps.Metrics.RecordDegraded("chunk_failure")
		return combined
	}
	o.deps.Cache.Put(context.WithoutCancel(ctx), callFP, combined)
	return combined
}

const timeoutReason = "timed out before all chunks resolved"

func timedOut(dimensionID string) types.DimensionResult {
	return types.DimensionResult{
		DimensionID:  dimensionID,
		Evidence:     []types.Evidence{},
		Strengths:    []string{},
		Improvements: []string{},
		Degraded:     true,
		Reason:       timeoutReason,
	}
}

// analyze holds a pool slot for the duration of one analyzer call.
func (o *Orchestrator) analyze(ctx context.Context, chunk types.Chunk, dim types.Dimension, rubric types.Rubric) (types.DimensionResult, error) {
	if o.deps.Pool == nil {
		return o.deps.Analyzer.Analyze(ctx, chunk, dim, rubric)
	}
	var (
		res types.DimensionResult
		err error
	)
	if perr := o.deps.Pool.Run(func() {
		res, err = o.deps.Analyzer.Analyze(ctx, chunk, dim, rubric)
	}); perr != nil {
		return types.DimensionResult{}, fmt.Errorf("schedule analysis: %w", perr)
	}
	return res, err
}

// OverallScore is the rubric-weighted mean of the dimensions that have a
// score, renormalized over the weights present. Nil when none do.
func OverallScore(rubric types.Rubric, dims map[string]types.DimensionResult) *float64 {
	var sum, weight float64
	for _, d := range rubric.Dimensions {
		res, ok := dims[d.ID]
		if !ok || res.Score == nil || d.Weight <= 0 {
			continue
		}
		sum += d.Weight * *res.Score
		weight += d.Weight
	}
	if weight == 0 {
		return nil
	}
	v := math.Round(sum/weight*100) / 100
	return &v
}
