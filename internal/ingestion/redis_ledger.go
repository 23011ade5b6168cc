package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"call-coach-go/internal/types"
)

// RedisLedger stores one key per event with SET NX, which is atomic across
// every process sharing the instance.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
}

var _ Ledger = (*RedisLedger)(nil)

func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "coach:ledger:"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) Insert(ctx context.Context, event types.IngestionEvent) (bool, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("encode ledger entry: %w", err)
	}
	ok, err := l.client.SetNX(ctx, l.prefix+event.EventID, raw, Retention).Result()
	if err != nil {
		return false, fmt.Errorf("redis ledger insert: %w", err)
	}
	return ok, nil
}

func (l *RedisLedger) Release(ctx context.Context, eventID string) error {
	if err := l.client.Del(ctx, l.prefix+eventID).Err(); err != nil {
		return fmt.Errorf("redis ledger release: %w", err)
	}
	return nil
}
