package domain

import (
	"cmp"
	"fmt"
	"slices"
)

// DefaultMinCohortSize is the smallest cohort for which percentiles are assigned.
const DefaultMinCohortSize = 5

// Percentile thresholds for tail classification.
const (
	criticalTail = 5.0
	warningTail  = 10.0
)

// Direction says which tail of a metric's distribution is the concern.
type Direction int

const (
	LowIsConcern Direction = iota
	HighIsConcern
)

func (d Direction) String() string {
	if d == HighIsConcern {
		return "high"
	}
	return "low"
}

// AnomalySeverity classifies how deep into the tail a value sits.
type AnomalySeverity string

const (
	AnomalyCritical AnomalySeverity = "critical"
	AnomalyWarning  AnomalySeverity = "warning"
)

func (s AnomalySeverity) rank() int {
	if s == AnomalyCritical {
		return 0
	}
	return 1
}

// Anomaly is one outlier finding for a country.
type Anomaly struct {
	Metric      string          `json:"metric"`
	Description string          `json:"description"`
	Value       float64         `json:"value"`
	Percentile  float64         `json:"percentile"`
	Severity    AnomalySeverity `json:"severity"`
	// Extremity is the distance in percentile points from the concerning end
	// of the distribution; 0 is the most extreme possible finding.
	Extremity float64 `json:"extremity"`
}

// Metric describes one detector input: how to read the value from a record,
// whether the record belongs in the cohort, and which tail is the concern.
type Metric struct {
	Name      string
	Label     string
	Direction Direction
	// Value returns the metric and whether the record belongs in the cohort.
	Value  func(CountryCrisisRecord) (float64, bool)
	Format func(float64) string
}

// Metric names.
const (
	MetricPercentFunded           = "percent_funded"
	MetricFundingGapPerCapita     = "funding_gap_per_capita"
	MetricSeverityFundingMismatch = "severity_funding_mismatch"
	MetricReachRatio              = "reach_ratio"
)

// PercentFundedMetric flags the most underfunded appeals.
func PercentFundedMetric() Metric {
	return Metric{
		Name:      MetricPercentFunded,
		Label:     "Percent funded",
		Direction: LowIsConcern,
		Value: func(r CountryCrisisRecord) (float64, bool) {
			if r.FundingRequirements <= 0 || r.Indices.PercentFunded == nil {
				return 0, false
			}
			return *r.Indices.PercentFunded, true
		},
		Format: formatPercent,
	}
}

// FundingGapPerCapitaMetric flags the largest unmet shortfall per targeted person.
// Records without a targeted population carry a zero and are left out.
func FundingGapPerCapitaMetric() Metric {
	return Metric{
		Name:      MetricFundingGapPerCapita,
		Label:     "Funding gap per capita",
		Direction: HighIsConcern,
		Value: func(r CountryCrisisRecord) (float64, bool) {
			if r.TargetedPopulation <= 0 || r.Indices.FundingGapPerCapita <= 0 {
				return 0, false
			}
			return r.Indices.FundingGapPerCapita, true
		},
		Format: func(v float64) string { return fmt.Sprintf("$%.2f per person", v) },
	}
}

// SeverityFundingMismatchMetric flags countries that are both severely affected
// and disproportionately unfunded, as the single ratio severity / percent funded.
// Countries at exactly 0% funded have no defined ratio and are not in the cohort.
func SeverityFundingMismatchMetric() Metric {
	return Metric{
		Name:      MetricSeverityFundingMismatch,
		Label:     "Severity to funding ratio",
		Direction: HighIsConcern,
		Value: func(r CountryCrisisRecord) (float64, bool) {
			pf := r.Indices.PercentFunded
			if r.SeverityIndex <= 0 || pf == nil || *pf <= 0 {
				return 0, false
			}
			return r.SeverityIndex / *pf, true
		},
		Format: func(v float64) string { return fmt.Sprintf("%.3f", v) },
	}
}

// ReachRatioMetric flags the weakest delivery against targets. A zero reach
// with a non-zero target is included as a genuine 0%.
func ReachRatioMetric() Metric {
	return Metric{
		Name:      MetricReachRatio,
		Label:     "Reach ratio",
		Direction: LowIsConcern,
		Value: func(r CountryCrisisRecord) (float64, bool) {
			if r.TargetedPopulation <= 0 || r.Indices.ReachRatio == nil {
				return 0, false
			}
			return *r.Indices.ReachRatio, true
		},
		Format: formatPercent,
	}
}

// DefaultMetrics is the metric set evaluated by a zero-configured detector.
func DefaultMetrics() []Metric {
	return []Metric{
		PercentFundedMetric(),
		FundingGapPerCapitaMetric(),
		SeverityFundingMismatchMetric(),
		ReachRatioMetric(),
	}
}

func formatPercent(v float64) string { return fmt.Sprintf("%.1f%%", v) }

// MetricResult summarizes one metric's pass over the cohort.
type MetricResult struct {
	Metric     string `json:"metric"`
	CohortSize int    `json:"cohort_size"`
	Skipped    bool   `json:"skipped"`
	Critical   int    `json:"critical"`
	Warning    int    `json:"warning"`
}

// DetectionReport is the detector's output: anomalies keyed by ISO3 code,
// plus per-metric cohort statistics.
type DetectionReport struct {
	Anomalies map[string][]Anomaly
	Metrics   []MetricResult
}

// Detector flags percentile-rank outliers across the cross-crisis record set.
type Detector struct {
	metrics   []Metric
	minCohort int
}

// NewDetector creates a detector. A non-positive minCohort uses
// DefaultMinCohortSize; no metrics uses DefaultMetrics.
func NewDetector(minCohort int, metrics ...Metric) *Detector {
	if minCohort <= 0 {
		minCohort = DefaultMinCohortSize
	}
	if len(metrics) == 0 {
		metrics = DefaultMetrics()
	}
	return &Detector{metrics: metrics, minCohort: minCohort}
}

type candidate struct {
	code  string
	value float64
	rank  float64
}

// Detect evaluates every metric once per country. The first record seen for a
// country code is canonical. Input records are not modified.
func (d *Detector) Detect(records []CountryCrisisRecord) DetectionReport {
	canonical := canonicalRecords(records)
	report := DetectionReport{
		Anomalies: make(map[string][]Anomaly),
		Metrics:   make([]MetricResult, 0, len(d.metrics)),
	}

	for _, m := range d.metrics {
		cohort := rankCohort(m, canonical)
		result := MetricResult{Metric: m.Name, CohortSize: len(cohort)}
		if len(cohort) < d.minCohort {
			result.Skipped = true
			report.Metrics = append(report.Metrics, result)
			continue
		}

		for _, c := range cohort {
			sev, ok := Classify(c.rank, m.Direction)
			if !ok {
				continue
			}
			if sev == AnomalyCritical {
				result.Critical++
			} else {
				result.Warning++
			}
			report.Anomalies[c.code] = append(report.Anomalies[c.code], newAnomaly(m, c.value, c.rank, sev, len(cohort)))
		}
		report.Metrics = append(report.Metrics, result)
	}

	for code := range report.Anomalies {
		SortAnomalies(report.Anomalies[code])
	}
	return report
}

// rankCohort filters canonical records to those the metric is defined for,
// sorts them ascending (country code breaks ties) and assigns percentile ranks.
func rankCohort(m Metric, canonical []CountryCrisisRecord) []candidate {
	cohort := make([]candidate, 0, len(canonical))
	for _, rec := range canonical {
		if v, ok := m.Value(rec); ok && isFinite(v) {
			cohort = append(cohort, candidate{code: rec.CountryCode, value: v})
		}
	}
	slices.SortFunc(cohort, func(a, b candidate) int {
		if c := cmp.Compare(a.value, b.value); c != 0 {
			return c
		}
		return cmp.Compare(a.code, b.code)
	})
	for i := range cohort {
		cohort[i].rank = PercentileRank(i, len(cohort))
	}
	return cohort
}

// Annotate runs detection and returns a copy of records in which every record
// sharing a country code carries an identical, independently allocated
// anomaly list.
func (d *Detector) Annotate(records []CountryCrisisRecord) ([]CountryCrisisRecord, DetectionReport) {
	report := d.Detect(records)
	out := make([]CountryCrisisRecord, len(records))
	for i, rec := range records {
		rec.Anomalies = slices.Clone(report.Anomalies[rec.CountryCode])
		if rec.Anomalies == nil {
			rec.Anomalies = []Anomaly{}
		}
		out[i] = rec
	}
	return out, report
}

// canonicalRecords returns the first record per country code, in input order.
func canonicalRecords(records []CountryCrisisRecord) []CountryCrisisRecord {
	seen := make(map[string]bool, len(records))
	out := make([]CountryCrisisRecord, 0, len(records))
	for _, rec := range records {
		if seen[rec.CountryCode] {
			continue
		}
		seen[rec.CountryCode] = true
		out = append(out, rec)
	}
	return out
}

// PercentileRank is the rank of the i-th (0-indexed) element of an ascending
// cohort of n. A single-member cohort ranks 50.
func PercentileRank(i, n int) float64 {
	if n <= 1 {
		return 50
	}
	return float64(i) * 100 / float64(n-1)
}

// Classify maps a percentile rank to a severity for the given direction.
// Boundary ranks count toward the stricter class.
func Classify(rank float64, dir Direction) (AnomalySeverity, bool) {
	tail := extremity(rank, dir)
	switch {
	case tail <= criticalTail:
		return AnomalyCritical, true
	case tail <= warningTail:
		return AnomalyWarning, true
	}
	return "", false
}

func extremity(rank float64, dir Direction) float64 {
	if dir == HighIsConcern {
		return 100 - rank
	}
	return rank
}

func newAnomaly(m Metric, value, rank float64, sev AnomalySeverity, n int) Anomaly {
	tail := "lowest"
	if m.Direction == HighIsConcern {
		tail = "highest"
	}
	format := m.Format
	if format == nil {
		format = func(v float64) string { return fmt.Sprintf("%g", v) }
	}
	return Anomaly{
		Metric: m.Name,
		Description: fmt.Sprintf("%s of %s is at the %.1f percentile of %d countries (%s %s)",
			m.Label, format(value), rank, n, sev, tail),
		Value:      value,
		Percentile: rank,
		Severity:   sev,
		Extremity:  extremity(rank, m.Direction),
	}
}

// SortAnomalies orders critical before warning, then the more extreme finding
// first regardless of metric, then by metric name.
func SortAnomalies(list []Anomaly) {
	slices.SortStableFunc(list, func(a, b Anomaly) int {
		if c := cmp.Compare(a.Severity.rank(), b.Severity.rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Extremity, b.Extremity); c != 0 {
			return c
		}
		return cmp.Compare(a.Metric, b.Metric)
	})
}
