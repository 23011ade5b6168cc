package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"call-coach-go/internal/types"
)

const defaultKeyPrefix = "coach:cache:"

// releaseScript deletes the lease only if it still holds our token, so a
// lease that expired and was re-taken by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisStore stores entries as JSON with a key TTL matching the cache TTL.
// Hit counts live in a sibling key so a hit never rewrites the entry.
// It also implements Locker.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Locker = (*RedisStore)(nil)
)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(fp string) string { return s.prefix + "entry:" + fp }
func (s *RedisStore) hitsKey(fp string) string  { return s.prefix + "hits:" + fp }

func (s *RedisStore) Get(ctx context.Context, fp string) (types.CacheEntry, bool, error) {
	pipe := s.client.Pipeline()
	entryCmd := pipe.Get(ctx, s.entryKey(fp))
	hitsCmd := pipe.Get(ctx, s.hitsKey(fp))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return types.CacheEntry{}, false, storeErr("get", err)
	}

	raw, err := entryCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return types.CacheEntry{}, false, nil
	}
	if err != nil {
		return types.CacheEntry{}, false, storeErr("get", err)
	}

	var entry types.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return types.CacheEntry{}, false, storeErr("decode", err)
	}
	if hits, err := hitsCmd.Result(); err == nil {
		entry.HitCount, _ = strconv.ParseInt(hits, 10, 64)
	}
	return entry, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry types.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return storeErr("encode", err)
	}
	ttl := time.Duration(entry.TTLSeconds) * time.Second
	if err := s.client.Set(ctx, s.entryKey(entry.Fingerprint), raw, ttl).Err(); err != nil {
		return storeErr("put", err)
	}
	return nil
}

func (s *RedisStore) IncrHits(ctx context.Context, fp string) error {
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, s.hitsKey(fp))
	pipe.Expire(ctx, s.hitsKey(fp), DefaultTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("incr", err)
	}
	return nil
}

func (s *RedisStore) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, token, ttl).Result()
	if err != nil {
		return false, storeErr("acquire", err)
	}
	return ok, nil
}

func (s *RedisStore) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, s.client, []string{s.prefix + key}, token, ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, storeErr("extend", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.prefix + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return storeErr("release", err)
	}
	return nil
}
