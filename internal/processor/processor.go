// Package processor runs one call end to end: fetch the transcript, pick the
// rubric for the rep's role and hand both to the pipeline.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"call-coach-go/internal/logger"
	"call-coach-go/internal/pipeline"
	"call-coach-go/internal/transcription"
	"call-coach-go/internal/types"
)

var ErrTranscriptUnavailable = errors.New("transcript unavailable")

type TranscriptSource interface {
	Fetch(ctx context.Context, callID string) (transcription.Document, error)
}

type RubricSource interface {
	For(role string) (types.Rubric, error)
}

type Runner interface {
	Run(ctx context.Context, meta types.CallMetadata, transcript types.RawTranscript, rubric types.Rubric, opts pipeline.Options) (types.CallAnalysis, error)
}

type Config struct {
	// FanoutTimeout bounds dimension analysis for one call.
	FanoutTimeout time.Duration
}

type Processor struct {
	transcripts TranscriptSource
	rubrics     RubricSource
	runner      Runner
	cfg         Config
	log         *logger.Logger
}

func New(transcripts TranscriptSource, rubrics RubricSource, runner Runner, cfg Config, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{
		transcripts: transcripts,
		rubrics:     rubrics,
		runner:      runner,
		cfg:         cfg,
		log:         log.Component("processor"),
	}
}

// ProcessCall fetches and analyzes callID. force bypasses cached results.
func (p *Processor) ProcessCall(ctx context.Context, callID string, force bool) (types.CallAnalysis, error) {
	start := time.Now()
	doc, rubric, err := p.Load(ctx, callID)
	if err != nil {
		return failed(callID, doc.Call), err
	}
	analysis, err := p.ProcessDocument(ctx, doc, rubric, force)
	p.log.WithField("call_id", callID).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		WithField("state", analysis.State).
		Info("processor finished")
	return analysis, err
}

// Load fetches the transcript for callID and selects the rubric for the
// rep's role.
func (p *Processor) Load(ctx context.Context, callID string) (transcription.Document, types.Rubric, error) {
	log := p.log.WithField("call_id", callID)
	doc, err := p.transcripts.Fetch(ctx, callID)
	if err != nil {
		log.WithError(err).Warn("transcript fetch failed")
		return doc, types.Rubric{}, fmt.Errorf("%w: %w", ErrTranscriptUnavailable, err)
	}
	if doc.Call.CallID == "" {
		doc.Call.CallID = callID
	}
	rubric, err := p.rubrics.For(doc.Call.StaffRole)
	if err != nil {
		log.WithError(err).WithField("staff_role", doc.Call.StaffRole).Error("no rubric for call")
		return doc, types.Rubric{}, err
	}
	return doc, rubric, nil
}

// ProcessDocument analyzes an already loaded transcript against rubric.
func (p *Processor) ProcessDocument(ctx context.Context, doc transcription.Document, rubric types.Rubric, force bool) (types.CallAnalysis, error) {
	return p.runner.Run(ctx, doc.Call, doc.Transcript(), rubric, pipeline.Options{
		ForceRecompute: force,
		Timeout:        p.cfg.FanoutTimeout,
	})
}

// ProcessEvent adapts ProcessCall to the ingestion scheduler.
func (p *Processor) ProcessEvent(ctx context.Context, event types.IngestionEvent) error {
	_, err := p.ProcessCall(ctx, event.CallID, false)
	return err
}

func failed(callID string, meta types.CallMetadata) types.CallAnalysis {
	now := time.Now().UTC()
	return types.CallAnalysis{
		CallID:             callID,
		StaffID:            meta.StaffID,
		State:              types.StateFailed,
		Dimensions:         map[string]types.DimensionResult{},
		CacheHitDimensions: []string{},
		StartedAt:          now,
		CompletedAt:        now,
	}
}
