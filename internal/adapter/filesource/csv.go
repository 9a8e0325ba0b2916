// Package filesource reads the aggregation inputs from local CSV and YAML files.
package filesource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
	"github.com/couchcryptid/crisis-funding-etl/internal/observability"
)

// reasonMalformed matches the skip reason the aggregator reports for rows it
// cannot parse.
const reasonMalformed = "malformed"

// ErrMissingColumn is returned when a dataset file lacks a required header.
var ErrMissingColumn = errors.New("missing required column")

// requiredColumns lists the headers without which a dataset cannot be read.
var requiredColumns = map[domain.Dataset][]string{
	domain.DatasetSeverity:    {"iso3", "severity_index"},
	domain.DatasetFunding:     {"iso3", "requirements", "funding"},
	domain.DatasetPooledFunds: {"country", "total_allocations"},
	domain.DatasetCountries:   {"iso3", "name"},
}

// CSVSource extracts datasets from one CSV file each.
type CSVSource struct {
	paths   map[domain.Dataset]string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCSVSource creates a source reading each dataset from the given path.
func NewCSVSource(paths map[domain.Dataset]string, logger *slog.Logger, metrics *observability.Metrics) *CSVSource {
	return &CSVSource{paths: paths, logger: logger, metrics: metrics}
}

// Extract reads every data row of the dataset's file. Header names are
// matched case-insensitively. Rows the CSV reader cannot tokenize are
// skipped; an unreadable file or a missing required column fails the call.
func (s *CSVSource) Extract(ctx context.Context, dataset domain.Dataset) ([]domain.RawRow, error) {
	path, ok := s.paths[dataset]
	if !ok || path == "" {
		return nil, fmt.Errorf("no file configured for dataset %s", dataset)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dataset, err)
	}
	defer f.Close()

	rows, err := s.read(ctx, dataset, f)
	if err != nil {
		return nil, fmt.Errorf("read %s (%s): %w", dataset, path, err)
	}
	s.logger.Debug("dataset extracted", "dataset", dataset, "path", path, "rows", len(rows))
	return rows, nil
}

func (s *CSVSource) read(ctx context.Context, dataset domain.Dataset, r io.Reader) ([]domain.RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file is empty", ErrMissingColumn)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := normalizeHeader(header)
	if err := checkColumns(dataset, columns); err != nil {
		return nil, err
	}

	var rows []domain.RawRow
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				s.metrics.RowsSkipped.WithLabelValues(string(dataset), reasonMalformed).Inc()
				s.logger.Warn("unparseable csv row skipped", "dataset", dataset, "line", perr.Line, "error", err)
				continue
			}
			return nil, err
		}
		line, _ := cr.FieldPos(0)

		fields := make(map[string]string, len(columns))
		for i, col := range columns {
			if col != "" && i < len(record) {
				fields[col] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, domain.RawRow{Dataset: dataset, Line: line, Fields: fields})
	}
	return rows, nil
}

// normalizeHeader lowercases and trims column names and strips a UTF-8 BOM.
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

func checkColumns(dataset domain.Dataset, columns []string) error {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	var missing []string
	for _, want := range requiredColumns[dataset] {
		if !present[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}
