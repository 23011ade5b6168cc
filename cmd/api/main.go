package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"call-coach-go/internal/api"
	"call-coach-go/internal/app"
	"call-coach-go/internal/config"
	"call-coach-go/internal/logger"
	"call-coach-go/internal/metrics"
)

func main() {
	log := logger.New()
	log.WithField("service", "call-coach-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(startCtx, cfg, metrics.DefaultMetrics, log)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("failed to start")
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewServer(a.Ingestion, a.Processor, cfg.Pools.CallTimeout, log).Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Pools.CallTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
}
