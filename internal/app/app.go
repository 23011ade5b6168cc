// Package app wires the service components from a Config.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/redis/go-redis/v9"

	"call-coach-go/internal/cache"
	"call-coach-go/internal/chunker"
	"call-coach-go/internal/config"
	"call-coach-go/internal/events"
	"call-coach-go/internal/extractor"
	"call-coach-go/internal/ingestion"
	"call-coach-go/internal/logger"
	"call-coach-go/internal/metrics"
	"call-coach-go/internal/pipeline"
	"call-coach-go/internal/processor"
	"call-coach-go/internal/rubric"
	"call-coach-go/internal/tokens"
	"call-coach-go/internal/transcription"
	"call-coach-go/internal/workerpool"
)

const (
	sweepInterval = time.Hour
	purgeInterval = 24 * time.Hour
)

type App struct {
	Config    config.Config
	Log       *logger.Logger
	Metrics   *metrics.Metrics
	Rubrics   *rubric.Registry
	Processor *processor.Processor
	Ingestion *ingestion.Deduplicator

	AnalyzerPool *workerpool.Pool
	DispatchPool *workerpool.Pool

	stop    context.CancelFunc
	closers []func() error
}

// New builds every component. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, m *metrics.Metrics, log *logger.Logger) (a *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	bg, stop := context.WithCancel(context.Background())
	a = &App{Config: cfg, Log: log, Metrics: m, Rubrics: rubric.NewRegistry(), stop: stop}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	n, err := rubric.LoadInto(a.Rubrics, cfg.RubricPath)
	if err != nil {
		return a, fmt.Errorf("load rubrics: %w", err)
	}
	log.WithField("rubrics", n).WithField("roles", a.Rubrics.Roles()).Info("rubrics loaded")

	var rdb redis.UniversalClient
	if cfg.Cache.Backend == "redis" || cfg.Ledger.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.onClose(rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return a, fmt.Errorf("connect redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	resultCache := a.buildCache(bg, rdb)

	est, err := a.buildEstimator()
	if err != nil {
		return a, err
	}
	chunkCfg := chunker.DefaultConfig(cfg.LLM.Model, config.PromptReserve)
	chunkCfg.OverlapFraction = cfg.Chunking.OverlapFraction
	if cfg.Chunking.ContextWindow > 0 {
		chunkCfg.MaxTokens = cfg.Chunking.ContextWindow - config.PromptReserve
	}

	var client extractor.Client = extractor.MockClient{}
	if !cfg.LLM.Mock {
		client = extractor.NewGatewayClient(cfg.LLM.GatewayURL, cfg.LLM.APIKey, cfg.LLM.Timeout, log)
	}
	analyzerCfg := extractor.DefaultConfig(cfg.LLM.Model)
	if cfg.LLM.MaxAttempts > 0 {
		analyzerCfg.MaxAttempts = cfg.LLM.MaxAttempts
	}

	publisher := events.New(events.Config{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
		Enabled:   cfg.Kafka.Enabled,
	}, m, log)
	a.onClose(publisher.Close)

	if a.AnalyzerPool, err = workerpool.New("analyzer", workerpool.AnalyzerConfig(cfg.Pools.Analyzer), log); err != nil {
		return a, err
	}
	a.onClose(func() error { return a.AnalyzerPool.Release(30 * time.Second) })
	if a.DispatchPool, err = workerpool.New("dispatch", workerpool.DispatchConfig(cfg.Pools.Dispatch), log); err != nil {
		return a, err
	}
	// dispatch drains first so its runs can still reach the analyzer pool
	a.onClose(func() error { return a.DispatchPool.Release(cfg.Pools.CallTimeout) })

	orch := pipeline.New(pipeline.Deps{
		Chunker:  chunker.New(chunkCfg, est),
		Cache:    resultCache,
		Analyzer: extractor.NewAnalyzer(client, analyzerCfg, m, log),
		Pool:     a.AnalyzerPool,
		Sink:     publisher,
		Metrics:  m,
		Log:      log,
	})

	var source processor.TranscriptSource = transcription.MockSource{}
	if !cfg.Transcript.Mock {
		source = transcription.NewClient(cfg.Transcript.BaseURL, cfg.Transcript.APIKey, cfg.Transcript.Timeout, log)
	}
	a.Processor = processor.New(source, a.Rubrics, orch, processor.Config{FanoutTimeout: cfg.Pools.FanoutTimeout}, log)

	ledger, err := a.buildLedger(ctx, bg, rdb)
	if err != nil {
		return a, err
	}
	scheduler := ingestion.NewPoolScheduler(a.DispatchPool, a.Processor.ProcessEvent, cfg.Pools.CallTimeout, log)
	a.Ingestion = ingestion.NewDeduplicator(ledger, scheduler, m, log)

	log.WithField("cache", cfg.Cache.Backend).
		WithField("ledger", cfg.Ledger.Backend).
		WithField("model", cfg.LLM.Model).
		WithField("max_chunk_tokens", chunkCfg.MaxTokens).
		Info("components wired")
	return a, nil
}

func (a *App) buildEstimator() (tokens.Estimator, error) {
	path := a.Config.Chunking.TokenizerPath
	if path == "" {
		return tokens.NewHeuristic(), nil
	}
	est, err := tokens.LoadTokenizer(path)
	if err != nil {
		return nil, err
	}
	a.Log.WithField("tokenizer", path).Info("using tokenizer estimator")
	return est, nil
}

func (a *App) buildCache(bg context.Context, rdb redis.UniversalClient) *cache.ResultCache {
	opts := cache.Options{
		TTL:      a.Config.Cache.TTL,
		LeaseTTL: a.Config.Cache.LeaseTTL,
		Metrics:  a.Metrics,
		Log:      a.Log,
	}
	if a.Config.Cache.Backend == "redis" {
		store := cache.NewRedisStore(rdb, "")
		opts.Locker = store
		return cache.New(store, opts)
	}

	store := cache.NewMemoryStore()
	every(bg, sweepInterval, func() {
		if n := store.Sweep(time.Now()); n > 0 {
			a.Log.WithField("removed", n).Debug("swept expired cache entries")
		}
	})
	return cache.New(store, opts)
}

func (a *App) buildLedger(ctx, bg context.Context, rdb redis.UniversalClient) (ingestion.Ledger, error) {
	switch a.Config.Ledger.Backend {
	case "redis":
		return ingestion.NewRedisLedger(rdb, ""), nil

	case "postgres":
		db, err := ingestion.OpenPostgres(ctx, a.Config.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		a.onClose(closeDB(db))
		ledger := ingestion.NewPostgresLedger(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		every(bg, purgeInterval, func() {
			n, err := ledger.Purge(bg, time.Now())
			if err != nil {
				a.Log.WithError(err).Warn("ledger purge failed")
				return
			}
			a.Log.WithField("removed", n).Info("purged expired ledger entries")
		})
		return ledger, nil

	case "cassandra":
		session, err := ingestion.ConnectCassandra(a.Config.Cassandra.Hosts, a.Config.Cassandra.Keyspace)
		if err != nil {
			return nil, err
		}
		a.onClose(closeSession(session))
		ledger := ingestion.NewCassandraLedger(session)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return ledger, nil

	default:
		return ingestion.NewMemoryLedger(), nil
	}
}

func (a *App) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close stops background jobs and releases resources in reverse order.
func (a *App) Close() {
	a.stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.WithError(err).Warn("shutdown step failed")
		}
	}
	a.closers = nil
}

func every(ctx context.Context, d time.Duration, fn func()) {
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	}()
}

func closeDB(db *sql.DB) func() error { return db.Close }

func closeSession(s *gocql.Session) func() error {
	return func() error {
		s.Close()
		return nil
	}
}
