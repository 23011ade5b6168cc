// Package extractor scores one transcript chunk against one rubric dimension
// by calling the external reasoning service.
package extractor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"call-coach-go/internal/logger"
	"call-coach-go/internal/metrics"
	"call-coach-go/internal/types"
)

type Config struct {
	Model string
	// MaxAttempts counts the first call; 3 means two retries.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxRetryAfter caps how long a server hint may delay the next attempt.
	MaxRetryAfter time.Duration
}

func DefaultConfig(model string) Config {
	return Config{
		Model:           model,
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxRetryAfter:   30 * time.Second,
	}
}

type Analyzer struct {
	client  Client
	cfg     Config
	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewAnalyzer(client Client, cfg Config, m *metrics.Metrics, log *logger.Logger) *Analyzer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Analyzer{client: client, cfg: cfg, metrics: m, log: log.Component("analyzer")}
}

// Analyze makes one logical call to the reasoning service for (chunk, dim),
// retrying transient failures. Any error it returns is a
// *PermanentAnalysisError.
func (a *Analyzer) Analyze(ctx context.Context, chunk types.Chunk, dim types.Dimension, rubric types.Rubric) (types.DimensionResult, error) {
	fail := func(err error) (types.DimensionResult, error) {
		return types.DimensionResult{}, &PermanentAnalysisError{
			DimensionID: dim.ID,
			ChunkIndex:  chunk.Index,
			Reason:      reasonFor(err),
			Err:         err,
		}
	}
	if strings.TrimSpace(dim.ID) == "" || strings.TrimSpace(dim.Criteria) == "" {
		return fail(ErrInvalidDimension)
	}

	req := Request{
		Model:       a.cfg.Model,
		System:      systemPrompt,
		Prompt:      BuildPrompt(chunk, dim, rubric),
		DimensionID: dim.ID,
		ChunkText:   chunk.Text,
	}
	log := a.log.WithField("dimension", dim.ID).WithField("chunk", chunk.Index)

	var (
		result      types.DimensionResult
		parseErrors int
	)
	policy := newRetryPolicy(a.cfg)

	op := func() error {
		start := time.Now()
		comp, err := a.client.Complete(ctx, req)
		elapsed := time.Since(start).Seconds()
		if err != nil {
			var te *TransientError
			if errors.As(err, &te) {
				a.metrics.RecordAnalyzerCall("transient", elapsed)
				policy.hint(te.RetryAfter)
				return err
			}
			a.metrics.RecordAnalyzerCall("rejected", elapsed)
			return backoff.Permanent(err)
		}

		res, err := parseResult(comp.Content, dim.ID, chunk)
		if err != nil {
			a.metrics.RecordAnalyzerCall("unparseable", elapsed)
			parseErrors++
			if parseErrors > 1 {
				return backoff.Permanent(err)
			}
			return &TransientError{Reason: "unparseable response", Err: err}
		}
		a.metrics.RecordAnalyzerCall("ok", elapsed)
		result = res
		return nil
	}

	notify := func(err error, wait time.Duration) {
		a.metrics.RecordAnalyzerRetry()
		log.WithError(err).WithField("wait", wait.String()).Warn("analysis attempt failed, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(a.cfg.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		log.WithError(err).Error("dimension analysis failed")
		return fail(err)
	}
	return result, nil
}

// retryPolicy is exponential backoff that lets a server Retry-After hint
// stretch the next wait, up to a cap.
type retryPolicy struct {
	exp     *backoff.ExponentialBackOff
	maxHint time.Duration
	pending time.Duration
}

func newRetryPolicy(cfg Config) *retryPolicy {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	return &retryPolicy{exp: exp, maxHint: cfg.MaxRetryAfter}
}

func (p *retryPolicy) hint(d time.Duration) { p.pending = d }

func (p *retryPolicy) NextBackOff() time.Duration {
	next := p.exp.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if h := p.pending; h > 0 {
		if h > p.maxHint {
			h = p.maxHint
		}
		if h > next {
			next = h
		}
	}
	p.pending = 0
	return next
}

func (p *retryPolicy) Reset() {
	p.exp.Reset()
	p.pending = 0
}
