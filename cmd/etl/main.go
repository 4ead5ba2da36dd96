package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/hilltop-etl/internal/adapter/hilltop"
	httpadapter "github.com/couchcryptid/hilltop-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/hilltop-etl/internal/adapter/kafka"
	"github.com/couchcryptid/hilltop-etl/internal/config"
	"github.com/couchcryptid/hilltop-etl/internal/domain"
	"github.com/couchcryptid/hilltop-etl/internal/observability"
	"github.com/couchcryptid/hilltop-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	client, err := hilltop.NewClient(cfg.HilltopBaseURL, cfg.HilltopHTS, cfg.HilltopTimeout, metrics, logger,
		hilltop.WithRateLimit(cfg.RateLimit))
	if err != nil {
		logger.Error("failed to create hilltop client", "error", err)
		os.Exit(1)
	}
	catalog := hilltop.NewMeasurementCache(cfg.CacheSize)

	lister := hilltop.NewTargetLister(client, cfg.Sites, cfg.Measurements)
	extractor := hilltop.NewExtractor(client, hilltop.DataRequest{
		From:           cfg.FromDate,
		To:             cfg.ToDate,
		QualityCodes:   cfg.QualityCodes,
		ApplyPrecision: cfg.ApplyPrecision,
	})
	writer := kafkaadapter.NewWriter(cfg, logger)

	p := pipeline.New(lister, extractor, writer, catalog, logger, metrics, pipeline.Options{
		Resolver: domain.Resolver{
			Method:            cfg.DTLMethod,
			RejectGreaterThan: cfg.RejectGreaterThan,
		},
		Workers:      cfg.Workers,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
	})

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
