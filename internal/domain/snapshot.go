package domain

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Crisis groups the country records belonging to one crisis, ordered by
// neglect index descending with undefined values last.
type Crisis struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	MaxNeglectIndex *float64              `json:"max_neglect_index"`
	Countries       []CountryCrisisRecord `json:"countries"`
}

// Totals are population-wide roll-ups. Monetary and population sums count
// each country once even when it appears in several crises.
type Totals struct {
	Crises    int `json:"crises"`
	Countries int `json:"countries"`
	Records   int `json:"records"`

	FundingRequirements   float64 `json:"funding_requirements"`
	FundingReceived       float64 `json:"funding_received"`
	OffAppealFunding      float64 `json:"off_appeal_funding"`
	PooledFundAllocations float64 `json:"pooled_fund_allocations"`
	TargetedPopulation    int64   `json:"targeted_population"`
	ReachedPopulation     int64   `json:"reached_population"`

	PercentFunded *float64 `json:"percent_funded"`
	CBPFShare     *float64 `json:"cbpf_share"`
	ReachRatio    *float64 `json:"reach_ratio"`

	CriticalCountries int `json:"critical_countries"`
	WarningCountries  int `json:"warning_countries"`
}

// Snapshot is the complete, immutable output of one aggregation run.
type Snapshot struct {
	ID          string         `json:"id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Crises      []Crisis       `json:"crises"`
	Totals      Totals         `json:"totals"`
	Detection   []MetricResult `json:"detection"`
}

// CountryAnomalies is the anomaly list shared by all records of one country.
type CountryAnomalies struct {
	CountryCode string    `json:"country_code"`
	CountryName string    `json:"country_name"`
	CrisisIDs   []string  `json:"crisis_ids"`
	Anomalies   []Anomaly `json:"anomalies"`
}

// BuildSnapshot groups annotated records into crises, sorts them, and
// computes the roll-up totals.
func BuildSnapshot(records []CountryCrisisRecord, detection []MetricResult) *Snapshot {
	return &Snapshot{
		ID:          uuid.NewString(),
		GeneratedAt: clock.Now().UTC(),
		Crises:      GroupByCrisis(records),
		Totals:      ComputeTotals(records),
		Detection:   detection,
	}
}

// GroupByCrisis buckets records by crisis ID. Countries are sorted by neglect
// index descending, crises by their highest neglect index, then by name.
func GroupByCrisis(records []CountryCrisisRecord) []Crisis {
	byID := make(map[string]int)
	var crises []Crisis
	for _, rec := range records {
		i, ok := byID[rec.CrisisID]
		if !ok {
			i = len(crises)
			byID[rec.CrisisID] = i
			crises = append(crises, Crisis{ID: rec.CrisisID, Name: rec.CrisisName})
		}
		crises[i].Countries = append(crises[i].Countries, rec)
	}

	for i := range crises {
		SortByNeglect(crises[i].Countries)
		if len(crises[i].Countries) > 0 {
			crises[i].MaxNeglectIndex = crises[i].Countries[0].Indices.NeglectIndex
		}
	}
	slices.SortStableFunc(crises, func(a, b Crisis) int {
		if c := CompareOptional(a.MaxNeglectIndex, b.MaxNeglectIndex, true); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return crises
}

// SortByNeglect orders records by neglect index descending, undefined last,
// with the country code as tie-break.
func SortByNeglect(records []CountryCrisisRecord) {
	slices.SortStableFunc(records, func(a, b CountryCrisisRecord) int {
		if c := CompareOptional(a.Indices.NeglectIndex, b.Indices.NeglectIndex, true); c != 0 {
			return c
		}
		return cmp.Compare(a.CountryCode, b.CountryCode)
	})
}

// ComputeTotals sums funding and delivery across unique countries. Ratios are
// nil when their denominator is zero.
func ComputeTotals(records []CountryCrisisRecord) Totals {
	var t Totals
	crises := make(map[string]bool)
	for _, rec := range records {
		crises[rec.CrisisID] = true
	}
	t.Crises = len(crises)
	t.Records = len(records)

	for _, rec := range canonicalRecords(records) {
		t.Countries++
		t.FundingRequirements += rec.FundingRequirements
		t.FundingReceived += rec.FundingReceived
		t.OffAppealFunding += rec.OffAppealFunding
		t.PooledFundAllocations += rec.PooledFundAllocations
		t.TargetedPopulation += rec.TargetedPopulation
		t.ReachedPopulation += rec.ReachedPopulation

		if len(rec.Anomalies) > 0 {
			if rec.Anomalies[0].Severity == AnomalyCritical {
				t.CriticalCountries++
			} else {
				t.WarningCountries++
			}
		}
	}

	t.PercentFunded = percentFunded(t.FundingRequirements, t.FundingReceived)
	t.CBPFShare = cbpfDependency(t.PooledFundAllocations, t.FundingReceived)
	t.ReachRatio = reachRatio(t.ReachedPopulation, t.TargetedPopulation)
	return t
}

// Crisis returns the crisis with the given ID.
func (s *Snapshot) Crisis(id string) (Crisis, bool) {
	for _, c := range s.Crises {
		if c.ID == id {
			return c, true
		}
	}
	return Crisis{}, false
}

// Records flattens the snapshot back into its records, crisis by crisis.
func (s *Snapshot) Records() []CountryCrisisRecord {
	out := make([]CountryCrisisRecord, 0, s.Totals.Records)
	for _, c := range s.Crises {
		out = append(out, c.Countries...)
	}
	return out
}

// CountryRecords returns every appearance of a country across crises.
func (s *Snapshot) CountryRecords(iso3 string) []CountryCrisisRecord {
	var out []CountryCrisisRecord
	for _, c := range s.Crises {
		for _, rec := range c.Countries {
			if rec.CountryCode == iso3 {
				out = append(out, rec)
			}
		}
	}
	return out
}

// Anomalies lists each flagged country once, most severe findings first.
func (s *Snapshot) Anomalies() []CountryAnomalies {
	index := make(map[string]int)
	var out []CountryAnomalies
	for _, rec := range s.Records() {
		if len(rec.Anomalies) == 0 {
			continue
		}
		i, ok := index[rec.CountryCode]
		if !ok {
			i = len(out)
			index[rec.CountryCode] = i
			out = append(out, CountryAnomalies{
				CountryCode: rec.CountryCode,
				CountryName: rec.CountryName,
				Anomalies:   rec.Anomalies,
			})
		}
		out[i].CrisisIDs = append(out[i].CrisisIDs, rec.CrisisID)
	}
	slices.SortStableFunc(out, func(a, b CountryAnomalies) int {
		x, y := a.Anomalies[0], b.Anomalies[0]
		if c := cmp.Compare(x.Severity.rank(), y.Severity.rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Extremity, y.Extremity); c != 0 {
			return c
		}
		return cmp.Compare(a.CountryCode, b.CountryCode)
	})
	return out
}
