// Command snapshot runs a single aggregation against the configured data files
// and writes the resulting snapshot as JSON. It reads the same environment as
// the aggregator service; Kafka publishing and the refresh schedule are ignored.
//
// Usage:
//
//	DATA_DIR=./data go run ./cmd/snapshot \
//	  -out data/snapshot.json \
//	  -generated-at 2025-03-01T00:00:00Z
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/crisis-funding-etl/internal/adapter/filesource"
	"github.com/couchcryptid/crisis-funding-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/crisis-funding-etl/internal/config"
	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
	"github.com/couchcryptid/crisis-funding-etl/internal/observability"
	"github.com/couchcryptid/crisis-funding-etl/internal/pipeline"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the snapshot JSON")
	generatedAt := flag.String("generated-at", "", "pin the snapshot timestamp (RFC3339) for reproducible output")
	minCohort := flag.Int("min-cohort", 0, "override MIN_COHORT_SIZE")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	if *generatedAt != "" {
		at, err := time.Parse(time.RFC3339, *generatedAt)
		if err != nil {
			return fmt.Errorf("parse -generated-at: %w", err)
		}
		domain.SetClock(clockwork.NewFakeClockAt(at))
		defer domain.SetClock(nil)
	}

	if err := config.LoadEnvFile(".env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *minCohort > 0 {
		cfg.MinCohortSize = *minCohort
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	var geocoder domain.CountryGeocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		cached, err := mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		if err != nil {
			return fmt.Errorf("create geocoder cache: %w", err)
		}
		geocoder = cached
	}

	aliases, err := filesource.LoadAliases(cfg.CountryAliasesFile)
	if err != nil {
		return err
	}

	aggregator := pipeline.NewAggregator(
		filesource.NewCSVSource(cfg.DatasetFiles(), logger, metrics),
		geocoder,
		domain.NewDetector(cfg.MinCohortSize),
		aliases,
		logger,
		metrics,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := aggregator.Aggregate(ctx)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(*out, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}

	logger.Info("snapshot written",
		"path", *out,
		"snapshot_id", snap.ID,
		"crises", snap.Totals.Crises,
		"countries", snap.Totals.Countries,
		"records", snap.Totals.Records,
		"critical_countries", snap.Totals.CriticalCountries,
		"warning_countries", snap.Totals.WarningCountries,
	)
	return nil
}
