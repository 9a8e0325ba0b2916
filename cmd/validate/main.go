// Command validate performs integrity checks on an exported crisis snapshot.
// It verifies record structure, recomputes every derived index, checks the
// ordering guarantees, confirms anomaly findings are consistent across a
// country's records, and reconciles the roll-up totals.
//
// Usage:
//
//	go run ./cmd/validate -snapshot data/snapshot.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
)

const floatTolerance = 1e-6

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	path := flag.String("snapshot", "", "path to a snapshot JSON export")
	flag.Parse()

	if *path == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*path); code != 0 {
		os.Exit(code)
	}
}

func run(path string) int {
	fmt.Println("=== Crisis Snapshot Integrity Validation ===")
	fmt.Println()

	snap, err := loadSnapshot(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load snapshot: %v\n", err)
		return 1
	}
	records := snap.Records()

	phases := []*phase{
		validateStructure(snap),
		validateIndices(records),
		validateOrdering(snap),
		validateAnomalies(records),
		validateTotals(snap, records),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Snapshot %s: %d crises, %d countries, %d records\n",
		snap.ID, len(snap.Crises), snap.Totals.Countries, len(records))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadSnapshot(path string) (*domain.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ── Phase 1: structure ──

func validateStructure(snap *domain.Snapshot) *phase {
	p := &phase{name: "Phase 1: Record Structure"}

	if snap.ID == "" {
		p.errorf("snapshot has no id")
	}
	if snap.GeneratedAt.IsZero() {
		p.errorf("snapshot has no generated_at")
	}

	seenCrisis := make(map[string]bool)
	for _, c := range snap.Crises {
		if c.ID == "" {
			p.errorf("crisis %q has empty id", c.Name)
		}
		if seenCrisis[c.ID] {
			p.errorf("crisis %s appears more than once", c.ID)
		}
		seenCrisis[c.ID] = true
		if len(c.Countries) == 0 {
			p.errorf("crisis %s has no countries", c.ID)
		}

		seenCountry := make(map[string]bool)
		for _, rec := range c.Countries {
			checkRecord(p, c.ID, rec)
			if seenCountry[rec.CountryCode] {
				p.errorf("%s: country %s appears more than once", c.ID, rec.CountryCode)
			}
			seenCountry[rec.CountryCode] = true
		}
	}
	return p
}

func checkRecord(p *phase, crisisID string, rec domain.CountryCrisisRecord) {
	key := crisisID + "/" + rec.CountryCode
	if !domain.IsISO3(rec.CountryCode) {
		p.errorf("%s: invalid country code", key)
	}
	if rec.CrisisID != crisisID {
		p.errorf("%s: record carries crisis_id %q", key, rec.CrisisID)
	}
	if rec.SeverityIndex < 0 || rec.SeverityIndex > domain.MaxSeverity {
		p.errorf("%s: severity %.2f out of range", key, rec.SeverityIndex)
	}
	if rec.SeverityCategory == "" {
		p.errorf("%s: missing severity category", key)
	}
	for field, v := range map[string]float64{
		"funding_requirements":    rec.FundingRequirements,
		"funding_received":        rec.FundingReceived,
		"off_appeal_funding":      rec.OffAppealFunding,
		"pooled_fund_allocations": rec.PooledFundAllocations,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			p.errorf("%s: %s = %v", key, field, v)
		}
	}
	if rec.TargetedPopulation < 0 || rec.ReachedPopulation < 0 {
		p.errorf("%s: negative population", key)
	}
}

// ── Phase 2: derived indices ──

func validateIndices(records []domain.CountryCrisisRecord) *phase {
	p := &phase{name: "Phase 2: Derived Indices"}
	opt := cmpopts.EquateApprox(0, floatTolerance)

	for _, rec := range records {
		want := domain.ComputeIndices(rec).Indices
		if diff := cmp.Diff(want, rec.Indices, opt); diff != "" {
			p.errorf("%s/%s: indices mismatch (-recomputed +exported):\n%s", rec.CrisisID, rec.CountryCode, diff)
		}
		if pf := rec.Indices.PercentFunded; pf != nil && *pf > 100 && rec.Indices.FundingGap != 0 {
			p.errorf("%s/%s: overfunded record has gap %.2f", rec.CrisisID, rec.CountryCode, rec.Indices.FundingGap)
		}
	}
	return p
}

// ── Phase 3: ordering ──

func validateOrdering(snap *domain.Snapshot) *phase {
	p := &phase{name: "Phase 3: Ordering"}

	for _, c := range snap.Crises {
		sorted := slices.IsSortedFunc(c.Countries, func(a, b domain.CountryCrisisRecord) int {
			return domain.CompareOptional(a.Indices.NeglectIndex, b.Indices.NeglectIndex, true)
		})
		if !sorted {
			p.errorf("crisis %s: countries not ordered by neglect index descending", c.ID)
		}

		var maxNeglect *float64
		if len(c.Countries) > 0 {
			maxNeglect = c.Countries[0].Indices.NeglectIndex
		}
		if !ptrFloatEq(maxNeglect, c.MaxNeglectIndex) {
			p.errorf("crisis %s: max_neglect_index %s, first country has %s", c.ID, ptrFloat(c.MaxNeglectIndex), ptrFloat(maxNeglect))
		}

		for _, rec := range c.Countries {
			sortedAnomalies := slices.Clone(rec.Anomalies)
			domain.SortAnomalies(sortedAnomalies)
			if !cmp.Equal(sortedAnomalies, rec.Anomalies, cmpopts.EquateEmpty()) {
				p.errorf("%s/%s: anomalies not in severity order", c.ID, rec.CountryCode)
			}
		}
	}
	return p
}

// ── Phase 4: anomalies ──

func validateAnomalies(records []domain.CountryCrisisRecord) *phase {
	p := &phase{name: "Phase 4: Anomaly Consistency"}

	directions := make(map[string]domain.Direction)
	for _, m := range domain.DefaultMetrics() {
		directions[m.Name] = m.Direction
	}

	first := make(map[string]domain.CountryCrisisRecord)
	for _, rec := range records {
		if prev, ok := first[rec.CountryCode]; ok {
			if diff := cmp.Diff(prev.Anomalies, rec.Anomalies, cmpopts.EquateEmpty()); diff != "" {
				p.errorf("%s: anomalies differ between %s and %s:\n%s", rec.CountryCode, prev.CrisisID, rec.CrisisID, diff)
			}
			continue
		}
		first[rec.CountryCode] = rec

		seen := make(map[string]bool)
		for _, a := range rec.Anomalies {
			checkAnomaly(p, rec, a, directions)
			if seen[a.Metric] {
				p.errorf("%s: metric %s flagged more than once", rec.CountryCode, a.Metric)
			}
			seen[a.Metric] = true
		}
	}
	return p
}

func checkAnomaly(p *phase, rec domain.CountryCrisisRecord, a domain.Anomaly, directions map[string]domain.Direction) {
	dir, ok := directions[a.Metric]
	if !ok {
		p.errorf("%s: unknown metric %q", rec.CountryCode, a.Metric)
		return
	}
	if a.Percentile < 0 || a.Percentile > 100 {
		p.errorf("%s/%s: percentile %.2f out of range", rec.CountryCode, a.Metric, a.Percentile)
	}
	want, flagged := domain.Classify(a.Percentile, dir)
	if !flagged || want != a.Severity {
		p.errorf("%s/%s: percentile %.2f classified %q, exported %q", rec.CountryCode, a.Metric, a.Percentile, want, a.Severity)
	}
	if a.Metric == domain.MetricSeverityFundingMismatch {
		if pf := rec.Indices.PercentFunded; pf == nil || *pf <= 0 {
			p.errorf("%s: mismatch flagged without positive funding", rec.CountryCode)
		}
	}
}

// ── Phase 5: totals ──

func validateTotals(snap *domain.Snapshot, records []domain.CountryCrisisRecord) *phase {
	p := &phase{name: "Phase 5: Totals Reconciliation"}

	want := domain.ComputeTotals(records)
	if diff := cmp.Diff(want, snap.Totals, cmpopts.EquateApprox(0, floatTolerance)); diff != "" {
		p.errorf("totals mismatch (-recomputed +exported):\n%s", diff)
	}
	if snap.Totals.Crises != len(snap.Crises) {
		p.errorf("totals.crises = %d, snapshot has %d", snap.Totals.Crises, len(snap.Crises))
	}
	return p
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

func ptrFloatEq(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return floatEq(*a, *b)
}

func ptrFloat(f *float64) string {
	if f == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%.4f", *f)
}
