// Package cache holds analyzed dimension results keyed by fingerprint.
//
// Callers go through ResultCache.WithSingleFlight so that concurrent requests
// for the same fingerprint trigger exactly one computation. The backing Store
// is best effort: any error it returns is logged and treated as a miss.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"call-coach-go/internal/logger"
	"call-coach-go/internal/metrics"
	"call-coach-go/internal/types"
)

const (
	DefaultTTL          = 30 * 24 * time.Hour
	DefaultLeaseTTL     = 2 * time.Minute
	DefaultPollInterval = 250 * time.Millisecond
)

// Store persists cache entries. Implementations need not enforce TTL on read;
// ResultCache checks expiry itself.
type Store interface {
	Get(ctx context.Context, fp string) (types.CacheEntry, bool, error)
	Put(ctx context.Context, entry types.CacheEntry) error
	IncrHits(ctx context.Context, fp string) error
}

// Locker grants a short exclusive lease on a fingerprint across processes.
// Extend and Release only act while token still owns the lease.
type Locker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// ComputeFunc produces a fresh result. It receives a context that is not
// cancelled when the waiting caller goes away.
type ComputeFunc func(ctx context.Context) (types.DimensionResult, error)

type Options struct {
	TTL          time.Duration
	LeaseTTL     time.Duration
	PollInterval time.Duration
	Locker       Locker
	Metrics      *metrics.Metrics
	Log          *logger.Logger
	Now          func() time.Time
}

type ResultCache struct {
	store    Store
	locker   Locker
	group    singleflight.Group
	ttl      time.Duration
	leaseTTL time.Duration
	poll     time.Duration
	metrics  *metrics.Metrics
	log      *logger.Logger
	now      func() time.Time
}

func New(store Store, opts Options) *ResultCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ResultCache{
		store:    store,
		locker:   opts.Locker,
		ttl:      opts.TTL,
		leaseTTL: opts.LeaseTTL,
		poll:     opts.PollInterval,
		metrics:  opts.Metrics,
		log:      opts.Log.Component("cache"),
		now:      opts.Now,
	}
}

// Get returns the cached result for fp. Expired entries and store failures
// both read as absent.
func (c *ResultCache) Get(ctx context.Context, fp string) (types.DimensionResult, bool) {
	entry, ok, err := c.store.Get(ctx, fp)
	if err != nil {
		c.metrics.RecordCacheError("get")
		c.log.WithError(err).WithField("fingerprint", fp).Warn("cache read failed, treating as miss")
		return types.DimensionResult{}, false
	}
	if !ok || c.expired(entry) {
		return types.DimensionResult{}, false
	}
	if err := c.store.IncrHits(ctx, fp); err != nil {
		c.metrics.RecordCacheError("incr")
		c.log.WithError(err).WithField("fingerprint", fp).Debug("hit count not updated")
	}
	res := entry.Result
	res.CacheHit = true
	return res, true
}

// Put stores a successful result. A failed write is logged and dropped.
func (c *ResultCache) Put(ctx context.Context, fp string, result types.DimensionResult) {
	result.CacheHit = false
	entry := types.CacheEntry{
		Fingerprint: fp,
		Result:      result,
		ComputedAt:  c.now().UTC(),
		TTLSeconds:  int64(c.ttl / time.Second),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.metrics.RecordCacheError("put")
		c.log.WithError(err).WithField("fingerprint", fp).Warn("cache write skipped")
	}
}

// WithSingleFlight returns the cached result for fp or computes it, making sure
// concurrent callers share one computation. force skips the lookup but is
// still de-duplicated against other forced callers. The bool reports whether
// the result came from the cache. Errors from compute are returned to every
// waiter and never stored.
func (c *ResultCache) WithSingleFlight(ctx context.Context, fp string, force bool, compute ComputeFunc) (types.DimensionResult, bool, error) {
	if !force {
		if res, ok := c.Get(ctx, fp); ok {
			return res, true, nil
		}
	}

	key := fp
	if force {
		key = "force:" + fp
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fill(detached, fp, force, compute)
	})

	select {
	case <-ctx.Done():
		return types.DimensionResult{}, false, ctx.Err()
	case r := <-ch:
		if r.Shared {
			c.metrics.RecordSharedFlight()
		}
		if r.Err != nil {
			return types.DimensionResult{}, false, r.Err
		}
		f := r.Val.(filled)
		return f.result, f.hit, nil
	}
}

type filled struct {
	result types.DimensionResult
	hit    bool
}

func (c *ResultCache) fill(ctx context.Context, fp string, force bool, compute ComputeFunc) (filled, error) {
	// a previous flight may have landed between our lookup and this one
	if !force {
		if res, ok := c.Get(ctx, fp); ok {
			return filled{result: res, hit: true}, nil
		}
	}

	if c.locker != nil {
		release, res, hit := c.lease(ctx, fp, force)
		if hit {
			return filled{result: res, hit: true}, nil
		}
		defer release()
	}

	res, err := compute(ctx)
	if err != nil {
		return filled{}, err
	}
	c.Put(ctx, fp, res)
	return filled{result: res}, nil
}

// lease takes the cross-process lease for fp and keeps it alive until release
// is called. When another process holds it, the store is polled until the
// entry appears or the lease is free again. Locker errors degrade to computing
// without a lease.
func (c *ResultCache) lease(ctx context.Context, fp string, force bool) (release func(), res types.DimensionResult, hit bool) {
	key := "lease:" + fp
	token := uuid.NewString()
	release = func() {}

	for {
		ok, err := c.locker.Acquire(ctx, key, token, c.leaseTTL)
		if err != nil {
			c.metrics.RecordCacheError("lease")
			c.log.WithError(err).WithField("fingerprint", fp).Warn("lease unavailable, computing without it")
			return release, res, false
		}
		if ok {
			return c.keepAlive(ctx, fp, key, token), res, false
		}
		if !force {
			if r, found := c.Get(ctx, fp); found {
				return release, r, true
			}
		}
		if err := sleep(ctx, c.poll); err != nil {
			return release, res, false
		}
	}
}

// keepAlive extends the held lease every third of its TTL and returns the
// function that stops renewal and releases it.
func (c *ResultCache) keepAlive(ctx context.Context, fp, key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(max(c.leaseTTL/3, time.Millisecond))
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				ok, err := c.locker.Extend(ctx, key, token, c.leaseTTL)
				if err != nil {
					c.metrics.RecordCacheError("lease")
					c.log.WithError(err).WithField("fingerprint", fp).Warn("lease renewal failed")
					continue
				}
				if !ok {
					c.log.WithField("fingerprint", fp).Warn("lease lost while computing")
					return
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
		if err := c.locker.Release(ctx, key, token); err != nil {
			c.log.WithError(err).WithField("fingerprint", fp).Warn("lease release failed")
		}
	}
}

func (c *ResultCache) expired(e types.CacheEntry) bool {
	if e.TTLSeconds <= 0 {
		return false
	}
	return c.now().After(e.ComputedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("cache %s: %w", op, err)
}
