package domain

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fundedRecord builds a record whose percent funded equals pf.
func fundedRecord(t *testing.T, code string, pf float64) CountryCrisisRecord {
	t.Helper()
	return buildRecord(t, RecordInput{
		CountryCode:         code,
		SeverityIndex:       3,
		FundingRequirements: 1_000_000,
		FundingReceived:     pf * 10_000,
	})
}

func codes(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("C%c%c", 'A'+i/26, 'A'+i%26)
	}
	return out
}

func TestPercentileRank(t *testing.T) {
	assert.Equal(t, 50.0, PercentileRank(0, 1))
	assert.Equal(t, 0.0, PercentileRank(0, 5))
	assert.Equal(t, 25.0, PercentileRank(1, 5))
	assert.Equal(t, 100.0, PercentileRank(4, 5))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		rank     float64
		dir      Direction
		expected AnomalySeverity
		flagged  bool
	}{
		{"low critical", 0, LowIsConcern, AnomalyCritical, true},
		{"low critical boundary", 5, LowIsConcern, AnomalyCritical, true},
		{"low warning", 7.5, LowIsConcern, AnomalyWarning, true},
		{"low warning boundary", 10, LowIsConcern, AnomalyWarning, true},
		{"low unflagged", 10.01, LowIsConcern, "", false},
		{"high critical", 100, HighIsConcern, AnomalyCritical, true},
		{"high critical boundary", 95, HighIsConcern, AnomalyCritical, true},
		{"high warning boundary", 90, HighIsConcern, AnomalyWarning, true},
		{"high unflagged", 89.9, HighIsConcern, "", false},
		{"median single member", 50, HighIsConcern, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sev, ok := Classify(tt.rank, tt.dir)
			assert.Equal(t, tt.flagged, ok)
			assert.Equal(t, tt.expected, sev)
		})
	}
}

func TestDetect_PercentFundedScenario(t *testing.T) {
	values := []float64{90, 15, 5, 50, 10}
	cs := []string{"AAA", "BBB", "CCC", "DDD", "EEE"}
	records := make([]CountryCrisisRecord, len(values))
	for i, v := range values {
		records[i] = fundedRecord(t, cs[i], v)
	}

	report := NewDetector(5, PercentFundedMetric()).Detect(records)

	require.Len(t, report.Anomalies, 1, "only the lowest value should be flagged")
	got := report.Anomalies["CCC"]
	require.Len(t, got, 1)
	assert.Equal(t, MetricPercentFunded, got[0].Metric)
	assert.Equal(t, AnomalyCritical, got[0].Severity)
	assert.Equal(t, 0.0, got[0].Percentile)
	assert.InDelta(t, 5.0, got[0].Value, 1e-9)
	assert.Contains(t, got[0].Description, "5.0%")
	assert.Contains(t, got[0].Description, "0.0 percentile")

	require.Len(t, report.Metrics, 1)
	assert.Equal(t, MetricResult{Metric: MetricPercentFunded, CohortSize: 5, Critical: 1}, report.Metrics[0])
}

func TestDetect_MinimumCohort(t *testing.T) {
	t.Run("cohort of five runs", func(t *testing.T) {
		var records []CountryCrisisRecord
		for i, c := range codes(5) {
			records = append(records, fundedRecord(t, c, float64(10*(i+1))))
		}
		report := NewDetector(5, PercentFundedMetric()).Detect(records)
		assert.False(t, report.Metrics[0].Skipped)
		assert.NotEmpty(t, report.Anomalies)
	})

	t.Run("cohort of four is skipped", func(t *testing.T) {
		var records []CountryCrisisRecord
		for i, c := range codes(4) {
			records = append(records, fundedRecord(t, c, float64(10*(i+1))))
		}
		report := NewDetector(5, PercentFundedMetric()).Detect(records)
		assert.True(t, report.Metrics[0].Skipped)
		assert.Equal(t, 4, report.Metrics[0].CohortSize)
		assert.Empty(t, report.Anomalies)
	})

	t.Run("duplicates do not pad the cohort", func(t *testing.T) {
		var records []CountryCrisisRecord
		for i, c := range codes(4) {
			a := fundedRecord(t, c, float64(10*(i+1)))
			b := a
			b.CrisisID = "OTHER"
			records = append(records, a, b)
		}
		report := NewDetector(5, PercentFundedMetric()).Detect(records)
		assert.True(t, report.Metrics[0].Skipped)
		assert.Equal(t, 4, report.Metrics[0].CohortSize)
	})
}

func TestDetect_TailBoundaries(t *testing.T) {
	// 21 members put ranks at exact multiples of 5.
	var records []CountryCrisisRecord
	for i, c := range codes(21) {
		records = append(records, buildRecord(t, RecordInput{
			CountryCode:         c,
			SeverityIndex:       3,
			FundingRequirements: 1_000_000,
			FundingReceived:     float64(i) * 10_000,
			TargetedPopulation:  1000,
			ReachedPopulation:   int64(i * 10),
		}))
	}
	cs := codes(21)

	report := NewDetector(5, PercentFundedMetric(), FundingGapPerCapitaMetric()).Detect(records)

	severities := func(code, metric string) AnomalySeverity {
		for _, a := range report.Anomalies[code] {
			if a.Metric == metric {
				return a.Severity
			}
		}
		return ""
	}

	// Percent funded ascends with i: low tail is i = 0, 1, 2.
	assert.Equal(t, AnomalyCritical, severities(cs[0], MetricPercentFunded))
	assert.Equal(t, AnomalyCritical, severities(cs[1], MetricPercentFunded), "rank 5 counts as critical")
	assert.Equal(t, AnomalyWarning, severities(cs[2], MetricPercentFunded), "rank 10 counts as warning")
	assert.Empty(t, severities(cs[3], MetricPercentFunded))

	// Gap per capita descends with i; i = 20 has zero gap and leaves the cohort,
	// so the cohort is 20 members ranked 0..100 in steps of 100/19.
	assert.Empty(t, severities(cs[20], MetricFundingGapPerCapita))
	assert.Equal(t, AnomalyCritical, severities(cs[0], MetricFundingGapPerCapita))
	assert.Equal(t, AnomalyWarning, severities(cs[1], MetricFundingGapPerCapita))
	assert.Empty(t, severities(cs[2], MetricFundingGapPerCapita))
}

func TestDetect_GapPerCapitaExcludesUntargeted(t *testing.T) {
	var records []CountryCrisisRecord
	for i, c := range codes(6) {
		records = append(records, buildRecord(t, RecordInput{
			CountryCode:         c,
			SeverityIndex:       3,
			FundingRequirements: float64(1_000_000 * (i + 1)),
			TargetedPopulation:  100_000,
		}))
	}
	// Huge gap, but nobody targeted: gap per capita is 0 and not a candidate.
	untargeted := buildRecord(t, RecordInput{
		CountryCode:         "ZZZ",
		SeverityIndex:       5,
		FundingRequirements: 9_000_000_000,
	})
	records = append(records, untargeted)

	assert.Zero(t, untargeted.Indices.FundingGapPerCapita)

	report := NewDetector(5, FundingGapPerCapitaMetric()).Detect(records)
	assert.Equal(t, 6, report.Metrics[0].CohortSize)
	for _, a := range report.Anomalies["ZZZ"] {
		assert.NotEqual(t, MetricFundingGapPerCapita, a.Metric)
	}
	require.NotEmpty(t, report.Anomalies[codes(6)[5]], "largest targeted gap is flagged")
}

func TestDetect_MismatchExcludesUnfundedCountries(t *testing.T) {
	// Documented behaviour: a 0%-funded country has no defined severity /
	// percent-funded ratio, so it cannot be flagged by the mismatch metric even
	// though it is the most extreme case. It is still caught by percent funded.
	var records []CountryCrisisRecord
	for i, c := range codes(6) {
		records = append(records, buildRecord(t, RecordInput{
			CountryCode:         c,
			SeverityIndex:       2 + float64(i)*0.3,
			FundingRequirements: 1_000_000,
			FundingReceived:     float64(300_000 + i*50_000),
		}))
	}
	unfunded := buildRecord(t, RecordInput{
		CountryCode:         "ZZZ",
		SeverityIndex:       5,
		FundingRequirements: 1_000_000,
	})
	records = append(records, unfunded)

	report := NewDetector(5).Detect(records)

	var metrics []string
	for _, a := range report.Anomalies["ZZZ"] {
		metrics = append(metrics, a.Metric)
	}
	assert.Contains(t, metrics, MetricPercentFunded)
	assert.NotContains(t, metrics, MetricSeverityFundingMismatch)

	for _, m := range report.Metrics {
		if m.Metric == MetricSeverityFundingMismatch {
			assert.Equal(t, 6, m.CohortSize)
		}
	}
}

func TestDetect_ZeroReachIsEligible(t *testing.T) {
	records := []CountryCrisisRecord{
		buildRecord(t, RecordInput{
			CountryCode:           "MMR",
			SeverityIndex:         4,
			PooledFundAllocations: 500_000,
			TargetedPopulation:    1000,
			ReachedPopulation:     0,
		}),
	}
	for i, c := range codes(5) {
		records = append(records, buildRecord(t, RecordInput{
			CountryCode:        c,
			SeverityIndex:      3,
			TargetedPopulation: 1000,
			ReachedPopulation:  int64(500 + i*100),
		}))
	}

	report := NewDetector(5, ReachRatioMetric()).Detect(records)

	assert.Equal(t, 6, report.Metrics[0].CohortSize)
	require.Len(t, report.Anomalies["MMR"], 1)
	assert.Equal(t, MetricReachRatio, report.Anomalies["MMR"][0].Metric)
	assert.Equal(t, AnomalyCritical, report.Anomalies["MMR"][0].Severity)
	assert.Zero(t, report.Anomalies["MMR"][0].Value)
}

func TestAnnotate_DuplicateCountriesShareAnomalies(t *testing.T) {
	var records []CountryCrisisRecord
	for i, c := range codes(5) {
		records = append(records, fundedRecord(t, c, float64(20+10*i)))
	}
	inA := fundedRecord(t, "XXX", 1)
	inA.CrisisID = "A"
	inB := inA
	inB.CrisisID = "B"
	records = append(records, inA, inB)

	annotated, _ := NewDetector(5).Annotate(records)

	var a, b CountryCrisisRecord
	for _, rec := range annotated {
		if rec.CountryCode == "XXX" && rec.CrisisID == "A" {
			a = rec
		}
		if rec.CountryCode == "XXX" && rec.CrisisID == "B" {
			b = rec
		}
	}
	require.NotEmpty(t, a.Anomalies)
	if diff := cmp.Diff(a.Anomalies, b.Anomalies); diff != "" {
		t.Fatalf("duplicate anomaly lists differ (-A +B):\n%s", diff)
	}

	// Lists are independent copies.
	a.Anomalies[0].Description = "changed"
	assert.NotEqual(t, "changed", b.Anomalies[0].Description)

	// Input records are untouched.
	assert.Empty(t, records[len(records)-1].Anomalies)
}

func TestAnnotate_Idempotent(t *testing.T) {
	var records []CountryCrisisRecord
	for i, c := range codes(12) {
		records = append(records, buildRecord(t, RecordInput{
			CountryCode:         c,
			SeverityIndex:       float64(i%5) + 0.5,
			FundingRequirements: float64((i + 1) * 3_000_000),
			FundingReceived:     float64((12 - i) * 200_000),
			TargetedPopulation:  int64((i + 1) * 10_000),
			ReachedPopulation:   int64(i * 700),
		}))
	}

	d := NewDetector(0)
	first, _ := d.Annotate(records)
	second, _ := d.Annotate(records)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("annotation not deterministic (-first +second):\n%s", diff)
	}
}

func TestDetect_MonotonicRank(t *testing.T) {
	base := []float64{12, 30, 45, 60, 75, 88}
	others := codes(len(base))
	rankOf := func(v float64) float64 {
		records := []CountryCrisisRecord{fundedRecord(t, "MOV", v)}
		for i, b := range base {
			records = append(records, fundedRecord(t, others[i], b))
		}
		for _, c := range rankCohort(PercentFundedMetric(), canonicalRecords(records)) {
			if c.code == "MOV" {
				return c.rank
			}
		}
		t.Fatalf("MOV missing from cohort at value %v", v)
		return 0
	}

	prev := -1.0
	for v := 0.0; v <= 100; v += 2.5 {
		r := rankOf(v)
		assert.GreaterOrEqual(t, r, prev, "rank decreased at value %v", v)
		prev = r
	}
}

func TestSortAnomalies(t *testing.T) {
	list := []Anomaly{
		{Metric: "b", Severity: AnomalyWarning, Extremity: 6},
		{Metric: "c", Severity: AnomalyCritical, Extremity: 4},
		{Metric: "a", Severity: AnomalyCritical, Extremity: 0},
		{Metric: "d", Severity: AnomalyWarning, Extremity: 6},
		{Metric: "e", Severity: AnomalyCritical, Extremity: 0},
	}

	SortAnomalies(list)

	var got []string
	for _, a := range list {
		got = append(got, a.Metric)
	}
	assert.Equal(t, []string{"a", "e", "c", "b", "d"}, got)
}

func TestNewDetector_Defaults(t *testing.T) {
	d := NewDetector(0)
	assert.Equal(t, DefaultMinCohortSize, d.minCohort)
	assert.Len(t, d.metrics, 4)
}
