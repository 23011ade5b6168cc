package ingestion

import (
	"context"
	"time"

	"call-coach-go/internal/logger"
	"call-coach-go/internal/types"
)

// Submitter is the part of a worker pool the scheduler needs.
type Submitter interface {
	Submit(task func()) error
}

// ProcessFunc runs the full analysis for one accepted event.
type ProcessFunc func(ctx context.Context, event types.IngestionEvent) error

// PoolScheduler runs accepted events on a worker pool, each under its own
// deadline and detached from the webhook request.
type PoolScheduler struct {
	pool    Submitter
	process ProcessFunc
	timeout time.Duration
	log     *logger.Logger
}

func NewPoolScheduler(pool Submitter, process ProcessFunc, timeout time.Duration, log *logger.Logger) *PoolScheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &PoolScheduler{pool: pool, process: process, timeout: timeout, log: log.Component("scheduler")}
}

func (s *PoolScheduler) Schedule(event types.IngestionEvent) error {
	return s.pool.Submit(func() {
		ctx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		log := s.log.WithField("event_id", event.EventID).WithField("call_id", event.CallID)
		if err := s.process(ctx, event); err != nil {
			log.WithError(err).Error("scheduled analysis failed")
			return
		}
		log.Debug("scheduled analysis finished")
	})
}
