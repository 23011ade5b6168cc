// Package ingestion is the entry point for call-completed notifications. It
// acknowledges fast and makes sure each upstream event triggers at most one
// analysis, however often it is redelivered.
package ingestion

import (
	"context"
	"errors"
	"strings"
	"time"

	"call-coach-go/internal/logger"
	"call-coach-go/internal/metrics"
	"call-coach-go/internal/types"
)

// AckSLA is the acknowledgment budget of the upstream platform.
const AckSLA = 500 * time.Millisecond

var ErrInvalidEvent = errors.New("invalid completion event")

// Scheduler starts analysis of an accepted event without waiting for it.
type Scheduler interface {
	Schedule(event types.IngestionEvent) error
}

type Deduplicator struct {
	ledger    Ledger
	scheduler Scheduler
	metrics   *metrics.Metrics
	log       *logger.Logger
	now       func() time.Time
}

func NewDeduplicator(ledger Ledger, scheduler Scheduler, m *metrics.Metrics, log *logger.Logger) *Deduplicator {
	if log == nil {
		log = logger.Nop()
	}
	return &Deduplicator{
		ledger:    ledger,
		scheduler: scheduler,
		metrics:   m,
		log:       log.Component("ingestion"),
		now:       time.Now,
	}
}

// Handle records event in the ledger and schedules analysis when it is new.
// Duplicates get a success ack with status "duplicate". Errors are always
// *types.IngestionError; Retryable ones should make upstream redeliver.
func (d *Deduplicator) Handle(ctx context.Context, event types.IngestionEvent) (types.IngestionAck, error) {
	start := d.now()
	event.EventID = strings.TrimSpace(event.EventID)
	event.CallID = strings.TrimSpace(event.CallID)
	log := d.log.WithField("event_id", event.EventID).WithField("call_id", event.CallID)

	defer func() {
		if elapsed := d.now().Sub(start); elapsed > AckSLA {
			log.WithField("elapsed_ms", elapsed.Milliseconds()).Warn("ack exceeded SLA")
		}
	}()

	if event.EventID == "" || event.CallID == "" {
		d.metrics.RecordIngestion("invalid", d.now().Sub(start).Seconds())
		return types.IngestionAck{}, &types.IngestionError{
			EventID: event.EventID,
			Reason:  "event_id and call_id are required",
			Err:     ErrInvalidEvent,
		}
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = start.UTC()
	}
	ack := types.IngestionAck{EventID: event.EventID, CallID: event.CallID, ReceivedAt: event.ReceivedAt}

	inserted, err := d.ledger.Insert(ctx, event)
	if err != nil {
		d.metrics.RecordIngestion("ledger_error", d.now().Sub(start).Seconds())
		log.WithError(err).Error("ledger unavailable")
		return types.IngestionAck{}, &types.IngestionError{
			EventID:   event.EventID,
			Reason:    "ledger unavailable",
			Retryable: true,
			Err:       err,
		}
	}
	if !inserted {
		d.metrics.RecordIngestion(string(types.AckDuplicate), d.now().Sub(start).Seconds())
		log.Info("duplicate event acknowledged")
		ack.Status = types.AckDuplicate
		return ack, nil
	}

	if err := d.scheduler.Schedule(event); err != nil {
		// roll back so the redelivery is not mistaken for a duplicate
		if rerr := d.ledger.Release(context.WithoutCancel(ctx), event.EventID); rerr != nil {
			log.WithError(rerr).Error("ledger release failed, redelivery will be dropped as duplicate")
		}
		d.metrics.RecordIngestion("schedule_error", d.now().Sub(start).Seconds())
		log.WithError(err).Warn("could not schedule analysis")
		return types.IngestionAck{}, &types.IngestionError{
			EventID:   event.EventID,
			Reason:    "analysis could not be scheduled",
			Retryable: true,
			Err:       err,
		}
	}

	d.metrics.RecordIngestion(string(types.AckAccepted), d.now().Sub(start).Seconds())
	log.Info("event accepted")
	ack.Status = types.AckAccepted
	return ack, nil
}
