package ingestion

import (
	"context"
	"sync"
	"time"

	"call-coach-go/internal/types"
)

// Retention is how long ledger entries are kept so that very late
// redeliveries are still recognized.
const Retention = 365 * 24 * time.Hour

// Ledger records every event id ever accepted. Insert must be atomic: of any
// number of concurrent inserts for one event id exactly one reports true.
type Ledger interface {
	Insert(ctx context.Context, event types.IngestionEvent) (inserted bool, err error)
	// Release removes an entry whose processing could not be scheduled, so a
	// redelivery of the same event is treated as new.
	Release(ctx context.Context, eventID string) error
}

// MemoryLedger is a process-local ledger for tests and single-node runs.
type MemoryLedger struct {
	mu     sync.Mutex
	events map[string]types.IngestionEvent
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{events: make(map[string]types.IngestionEvent)}
}

func (l *MemoryLedger) Insert(_ context.Context, event types.IngestionEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.events[event.EventID]; ok {
		return false, nil
	}
	l.events[event.EventID] = event
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, eventID)
	return nil
}

func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
