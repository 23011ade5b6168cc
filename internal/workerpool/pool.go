// Package workerpool bounds concurrent work on top of ants.
//
// The service runs two pools: one caps in-flight reasoning-service calls,
// the other runs scheduled call analyses for the ingestion path.
package workerpool

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"call-coach-go/internal/logger"
)

var (
	ErrPoolClosed   = errors.New("worker pool is closed")
	ErrPoolOverload = errors.New("worker pool is overloaded")
)

// PanicError is returned by Run when the task panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("task panicked: %v", e.Value) }

type Config struct {
	// Capacity is the maximum number of concurrently running tasks.
	Capacity       int
	ExpiryDuration time.Duration
	// Nonblocking makes Submit fail fast with ErrPoolOverload when full.
	Nonblocking bool
	// MaxBlockingTasks caps waiting submitters when Nonblocking is false (0 = unlimited).
	MaxBlockingTasks int
}

// AnalyzerConfig sizes the pool that guards the reasoning service.
func AnalyzerConfig(capacity int) Config {
	return Config{Capacity: capacity, ExpiryDuration: 30 * time.Second}
}

// DispatchConfig sizes the pool that runs accepted ingestion events. It never
// blocks the webhook: a full pool is reported so the event can be redelivered.
func DispatchConfig(capacity int) Config {
	return Config{Capacity: capacity, ExpiryDuration: 60 * time.Second, Nonblocking: true}
}

type Stats struct {
	Submitted int64
	Completed int64
	Rejected  int64
	Panics    int64
	Running   int
	Waiting   int
}

type Pool struct {
	name   string
	pool   *ants.Pool
	log    *logger.Logger
	closed atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

func New(name string, cfg Config, log *logger.Logger) (*Pool, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("worker pool %q: capacity must be positive, got %d", name, cfg.Capacity)
	}
	if log == nil {
		log = logger.Nop()
	}
	p := &Pool{name: name, log: log.Component("workerpool").With("pool", name)}

	opts := []ants.Option{
		ants.WithExpiryDuration(cfg.ExpiryDuration),
		ants.WithNonblocking(cfg.Nonblocking),
		ants.WithMaxBlockingTasks(cfg.MaxBlockingTasks),
		ants.WithPanicHandler(func(v any) {
			p.panics.Add(1)
			p.log.WithField("panic", v).Error("worker panic recovered")
		}),
	}
	ap, err := ants.NewPool(cfg.Capacity, opts...)
	if err != nil {
		return nil, fmt.Errorf("create ants pool %q: %w", name, err)
	}
	p.pool = ap

	p.log.WithField("capacity", cfg.Capacity).Info("worker pool created")
	return p, nil
}

func (p *Pool) Name() string { return p.name }
func (p *Pool) Cap() int     { return p.pool.Cap() }

// Submit schedules task and returns without waiting for it.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	err := p.pool.Submit(func() {
		defer p.completed.Add(1)
		task()
	})
	switch {
	case err == nil:
		p.submitted.Add(1)
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		p.rejected.Add(1)
		return ErrPoolOverload
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrPoolClosed
	default:
		return fmt.Errorf("submit to %q: %w", p.name, err)
	}
}

// Run executes task on the pool and blocks until it returns. A panic inside
// task is recovered and reported as *PanicError.
func (p *Pool) Run(task func()) error {
	done := make(chan error, 1)
	err := p.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				done <- &PanicError{Value: r}
				return
			}
			done <- nil
		}()
		task()
	})
	if err != nil {
		return err
	}
	return <-done
}

func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
		Running:   p.pool.Running(),
		Waiting:   p.pool.Waiting(),
	}
}

// Release stops accepting work and waits up to timeout for running tasks.
func (p *Pool) Release(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer p.log.Info("worker pool released")
	if timeout <= 0 {
		p.pool.Release()
		return nil
	}
	return p.pool.ReleaseTimeout(timeout)
}
