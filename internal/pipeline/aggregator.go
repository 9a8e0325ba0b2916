package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
	"github.com/couchcryptid/crisis-funding-etl/internal/observability"
)

// Skip reasons reported on rows_skipped_total.
const (
	reasonMalformed  = "malformed"
	reasonUnresolved = "unresolved_country"
	reasonDuplicate  = "duplicate"
)

// Extractor reads every row of one source dataset.
type Extractor interface {
	Extract(ctx context.Context, dataset domain.Dataset) ([]domain.RawRow, error)
}

// Aggregator joins the source datasets into scored, grouped snapshots.
type Aggregator struct {
	extractor Extractor
	geocoder  domain.CountryGeocoder
	detector  *domain.Detector
	aliases   map[string]string
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewAggregator creates an Aggregator. Pass a nil geocoder to resolve pooled-fund
// country names against the reference index only.
func NewAggregator(e Extractor, geocoder domain.CountryGeocoder, detector *domain.Detector, aliases map[string]string, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	if detector == nil {
		detector = domain.NewDetector(domain.DefaultMinCohortSize)
	}
	return &Aggregator{
		extractor: e,
		geocoder:  geocoder,
		detector:  detector,
		aliases:   aliases,
		logger:    logger,
		metrics:   metrics,
	}
}

// sources holds the raw rows of one run, one slot per dataset.
type sources map[domain.Dataset][]domain.RawRow

// Aggregate runs one full extract, join, score and group cycle. Any extraction
// failure aborts the run; malformed rows are skipped.
func (a *Aggregator) Aggregate(ctx context.Context) (*domain.Snapshot, error) {
	start := time.Now()

	src, err := a.extractAll(ctx)
	if err != nil {
		return nil, err
	}

	countries := a.parseCountries(src[domain.DatasetCountries])
	if len(countries) == 0 {
		return nil, errors.New("country reference is empty")
	}
	index := domain.NewCountryIndex(countries, a.aliases)

	funding := domain.AggregateFunding(a.parseFunding(src[domain.DatasetFunding]))
	pooled := a.aggregatePooledFunds(ctx, src[domain.DatasetPooledFunds], index)

	records := a.buildRecords(src[domain.DatasetSeverity], index, funding, pooled)

	annotated, report := a.detector.Annotate(records)
	for _, m := range report.Metrics {
		if m.Skipped {
			a.logger.Debug("metric skipped, cohort too small",
				"metric", m.Metric,
				"cohort_size", m.CohortSize,
			)
		}
	}

	snap := domain.BuildSnapshot(annotated, report.Metrics)
	a.logger.Info("aggregation complete",
		"snapshot_id", snap.ID,
		"records", snap.Totals.Records,
		"countries", snap.Totals.Countries,
		"crises", snap.Totals.Crises,
		"duration", time.Since(start),
	)
	return snap, nil
}

// extractAll reads all datasets concurrently.
func (a *Aggregator) extractAll(ctx context.Context) (sources, error) {
	rows := make([][]domain.RawRow, len(domain.Datasets))
	g, gctx := errgroup.WithContext(ctx)
	for i, ds := range domain.Datasets {
		g.Go(func() error {
			r, err := a.extractor.Extract(gctx, ds)
			if err != nil {
				return fmt.Errorf("extract %s: %w", ds, err)
			}
			rows[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	src := make(sources, len(domain.Datasets))
	for i, ds := range domain.Datasets {
		src[ds] = rows[i]
		a.metrics.RowsExtracted.WithLabelValues(string(ds)).Add(float64(len(rows[i])))
	}
	return src, nil
}

func (a *Aggregator) skip(ds domain.Dataset, reason string, err error, attrs ...any) {
	a.metrics.RowsSkipped.WithLabelValues(string(ds), reason).Inc()
	a.logger.Warn("skipping row", append([]any{"dataset", ds, "reason", reason, "error", err}, attrs...)...)
}

// noteClamped reports values a parser replaced before folding.
func (a *Aggregator) noteClamped(raw domain.RawRow, notes []string) {
	for _, note := range notes {
		a.metrics.ValuesClamped.WithLabelValues(string(raw.Dataset)).Inc()
		a.logger.Warn("source value clamped", "dataset", raw.Dataset, "line", raw.Line, "note", note)
	}
}

func (a *Aggregator) parseCountries(rows []domain.RawRow) []domain.Country {
	out := make([]domain.Country, 0, len(rows))
	for _, raw := range rows {
		c, err := domain.ParseCountryRow(raw)
		if err != nil {
			a.skip(raw.Dataset, reasonMalformed, err)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (a *Aggregator) parseFunding(rows []domain.RawRow) []domain.FundingRow {
	out := make([]domain.FundingRow, 0, len(rows))
	for _, raw := range rows {
		f, err := domain.ParseFundingRow(raw)
		if err != nil {
			a.skip(raw.Dataset, reasonMalformed, err)
			continue
		}
		a.noteClamped(raw, f.Notes)
		out = append(out, f)
	}
	return out
}

// aggregatePooledFunds resolves each distinct CBPF country name once and folds
// the rows into per-ISO3 totals.
func (a *Aggregator) aggregatePooledFunds(ctx context.Context, rows []domain.RawRow, index *domain.CountryIndex) map[string]domain.PooledFundTotals {
	totals := make(map[string]domain.PooledFundTotals)
	resolved := make(map[string]string)

	for _, raw := range rows {
		row, err := domain.ParsePooledFundRow(raw)
		if err != nil {
			a.skip(raw.Dataset, reasonMalformed, err)
			continue
		}
		a.noteClamped(raw, row.Notes)

		code, seen := resolved[row.Country]
		if !seen {
			var source string
			code, source = domain.ResolveCountry(ctx, row.Country, index, a.geocoder, a.logger)
			a.metrics.CountryResolutions.WithLabelValues(source).Inc()
			resolved[row.Country] = code
		}
		if code == "" {
			a.skip(raw.Dataset, reasonUnresolved, fmt.Errorf("no reference country matches %q", row.Country), "line", raw.Line)
			continue
		}
		domain.AddPooledFund(totals, code, row)
	}
	return totals
}

// buildRecords expands severity rows into one record per (crisis, country),
// joins funding and pooled-fund totals, and computes indices.
func (a *Aggregator) buildRecords(rows []domain.RawRow, index *domain.CountryIndex, funding map[string]domain.FundingTotals, pooled map[string]domain.PooledFundTotals) []domain.CountryCrisisRecord {
	seen := make(map[string]bool)
	records := make([]domain.CountryCrisisRecord, 0, len(rows))

	for _, raw := range rows {
		sev, err := domain.ParseSeverityRow(raw)
		if err != nil {
			a.skip(raw.Dataset, reasonMalformed, err)
			continue
		}

		for _, code := range sev.CountryCodes {
			key := sev.CrisisID + "|" + code
			if seen[key] {
				a.skip(raw.Dataset, reasonDuplicate, nil, "crisis_id", sev.CrisisID, "country", code, "line", raw.Line)
				continue
			}
			seen[key] = true

			f := funding[code]
			p := pooled[code]
			rec, err := domain.NewRecord(domain.RecordInput{
				CountryCode:           code,
				CountryName:           index.Name(code),
				CrisisID:              sev.CrisisID,
				CrisisName:            sev.CrisisName,
				Drivers:               sev.Drivers,
				SeverityIndex:         sev.SeverityIndex,
				SeverityCategory:      sev.Category,
				FundingRequirements:   f.Requirements,
				FundingReceived:       f.OnAppealFunding,
				OffAppealFunding:      f.OffAppealFunding,
				PooledFundAllocations: p.Allocations,
				TargetedPopulation:    p.TargetedPeople,
				ReachedPopulation:     p.ReachedPeople,
			})
			if err != nil {
				a.metrics.RecordsRejected.WithLabelValues(rejectReason(err)).Inc()
				a.logger.Warn("record rejected",
					"crisis_id", sev.CrisisID,
					"country", code,
					"error", err,
				)
				continue
			}
			for _, note := range rec.Notes {
				a.logger.Warn("record value clamped",
					"crisis_id", rec.CrisisID,
					"country", rec.CountryCode,
					"note", note,
				)
			}
			records = append(records, domain.ComputeIndices(rec))
		}
	}
	return records
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSeverityOutOfRange):
		return "severity_out_of_range"
	case errors.Is(err, domain.ErrInvalidCountryCode):
		return "invalid_country_code"
	default:
		return "invalid"
	}
}
