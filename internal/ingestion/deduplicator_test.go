package ingestion

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-coach-go/internal/types"
	"call-coach-go/internal/workerpool"
)

type countingScheduler struct {
	mu     sync.Mutex
	events []types.IngestionEvent
	err    error
}

func (s *countingScheduler) Schedule(e types.IngestionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *countingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func event(id string) types.IngestionEvent {
	return types.IngestionEvent{EventID: id, CallID: "call-" + id}
}

func TestHandle_AcceptsNovelEvent(t *testing.T) {
	sched := &countingScheduler{}
	d := NewDeduplicator(NewMemoryLedger(), sched, nil, nil)

	ack, err := d.Handle(context.Background(), event("e1"))
	require.NoError(t, err)
	assert.Equal(t, types.AckAccepted, ack.Status)
	assert.Equal(t, "e1", ack.EventID)
	assert.Equal(t, "call-e1", ack.CallID)
	assert.False(t, ack.ReceivedAt.IsZero(), "received_at defaults to now")
	assert.Equal(t, 1, sched.count())
}

func TestHandle_SequentialDuplicate(t *testing.T) {
	sched := &countingScheduler{}
	d := NewDeduplicator(NewMemoryLedger(), sched, nil, nil)
	ctx := context.Background()

	_, err := d.Handle(ctx, event("e1"))
	require.NoError(t, err)
	ack, err := d.Handle(ctx, event("e1"))
	require.NoError(t, err)
	assert.Equal(t, types.AckDuplicate, ack.Status)
	assert.Equal(t, 1, sched.count())
}

func TestHandle_ConcurrentDuplicatesScheduleOnce(t *testing.T) {
	sched := &countingScheduler{}
	d := NewDeduplicator(NewMemoryLedger(), sched, nil, nil)

	const n = 50
	var accepted, duplicate atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack, err := d.Handle(context.Background(), event("same"))
			assert.NoError(t, err)
			switch ack.Status {
			case types.AckAccepted:
				accepted.Add(1)
			case types.AckDuplicate:
				duplicate.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(n-1), duplicate.Load())
	assert.Equal(t, 1, sched.count())
}

func TestHandle_InvalidEvent(t *testing.T) {
	d := NewDeduplicator(NewMemoryLedger(), &countingScheduler{}, nil, nil)

	for _, e := range []types.IngestionEvent{{CallID: "c"}, {EventID: "e"}, {EventID: "  ", CallID: "c"}} {
		_, err := d.Handle(context.Background(), e)
		var ie *types.IngestionError
		require.True(t, errors.As(err, &ie))
		assert.False(t, ie.Retryable)
		assert.ErrorIs(t, err, ErrInvalidEvent)
	}
}

type brokenLedger struct{}

func (brokenLedger) Insert(context.Context, types.IngestionEvent) (bool, error) {
	return false, errors.New("connection reset")
}
func (brokenLedger) Release(context.Context, string) error { return nil }

func TestHandle_LedgerUnavailableIsRetryable(t *testing.T) {
	sched := &countingScheduler{}
	d := NewDeduplicator(brokenLedger{}, sched, nil, nil)

	_, err := d.Handle(context.Background(), event("e1"))
	var ie *types.IngestionError
	require.True(t, errors.As(err, &ie))
	assert.True(t, ie.Retryable)
	assert.Equal(t, "e1", ie.EventID)
	assert.Zero(t, sched.count())
}

func TestHandle_ScheduleFailureReleasesLedgerEntry(t *testing.T) {
	ledger := NewMemoryLedger()
	sched := &countingScheduler{err: workerpool.ErrPoolOverload}
	d := NewDeduplicator(ledger, sched, nil, nil)
	ctx := context.Background()

	_, err := d.Handle(ctx, event("e1"))
	var ie *types.IngestionError
	require.True(t, errors.As(err, &ie))
	assert.True(t, ie.Retryable)
	assert.ErrorIs(t, err, workerpool.ErrPoolOverload)
	assert.Zero(t, ledger.Len())

	// redelivery after the pool recovers is processed
	sched.mu.Lock()
	sched.err = nil
	sched.mu.Unlock()
	ack, err := d.Handle(ctx, event("e1"))
	require.NoError(t, err)
	assert.Equal(t, types.AckAccepted, ack.Status)
	assert.Equal(t, 1, sched.count())
}

func TestPoolScheduler_RunsProcessOnPool(t *testing.T) {
	pool, err := workerpool.New("dispatch", workerpool.DispatchConfig(2), nil)
	require.NoError(t, err)
	defer pool.Release(time.Second)

	got := make(chan types.IngestionEvent, 1)
	s := NewPoolScheduler(pool, func(ctx context.Context, e types.IngestionEvent) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		got <- e
		return nil
	}, time.Minute, nil)

	d := NewDeduplicator(NewMemoryLedger(), s, nil, nil)
	_, err = d.Handle(context.Background(), event("e9"))
	require.NoError(t, err)

	select {
	case e := <-got:
		assert.Equal(t, "call-e9", e.CallID)
	case <-time.After(time.Second):
		t.Fatal("scheduled analysis never ran")
	}
}

func TestPostgresLedger_InsertQuery(t *testing.T) {
	l := NewPostgresLedger(nil)
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	query, args, err := l.insertQuery(types.IngestionEvent{EventID: "e1", CallID: "c1", ReceivedAt: at})
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO ingestion_events (event_id,call_id,received_at) VALUES ($1,$2,$3) ON CONFLICT (event_id) DO NOTHING", query)
	assert.Equal(t, []any{"e1", "c1", at}, args)
}

func TestRedisLedger_InsertIsUnique(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	l := NewRedisLedger(client, "test:"+uuid.NewString()+":")
	ok, err := l.Insert(context.Background(), event("e1"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.Insert(context.Background(), event("e1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(context.Background(), "e1"))
	ok, err = l.Insert(context.Background(), event("e1"))
	require.NoError(t, err)
	assert.True(t, ok)
}
