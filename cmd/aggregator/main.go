package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/crisis-funding-etl/internal/adapter/filesource"
	httpadapter "github.com/couchcryptid/crisis-funding-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/crisis-funding-etl/internal/adapter/kafka"
	"github.com/couchcryptid/crisis-funding-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/crisis-funding-etl/internal/config"
	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
	"github.com/couchcryptid/crisis-funding-etl/internal/observability"
	"github.com/couchcryptid/crisis-funding-etl/internal/pipeline"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Pooled-fund names fall back to geocoding when MAPBOX_ENABLED / MAPBOX_TOKEN allow it.
	var geocoder domain.CountryGeocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		cached, err := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		if err != nil {
			logger.Error("failed to create geocoder cache", "error", err)
			os.Exit(1)
		}
		geocoder = cached
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	aliases, err := filesource.LoadAliases(cfg.CountryAliasesFile)
	if err != nil {
		logger.Error("failed to load country aliases", "error", err)
		os.Exit(1)
	}

	source := filesource.NewCSVSource(cfg.DatasetFiles(), logger, metrics)
	detector := domain.NewDetector(cfg.MinCohortSize)
	aggregator := pipeline.NewAggregator(source, geocoder, detector, aliases, logger, metrics)

	var (
		publisher pipeline.Publisher
		writer    *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	schedule := cfg.RefreshSchedule
	if !cfg.RefreshEnabled() {
		schedule = ""
	}
	svc := pipeline.NewService(aggregator, publisher, schedule, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start aggregation loop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Run(ctx); err != nil {
			logger.Error("service error", "error", err)
			stop()
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
		logger.Error("aggregation did not stop before shutdown timeout")
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
