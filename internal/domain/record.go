package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrSeverityOutOfRange rejects records whose severity index is not a finite value in [0, 5].
	ErrSeverityOutOfRange = errors.New("severity index out of range [0, 5]")

	// ErrInvalidCountryCode rejects records without a three-letter ISO3 code.
	ErrInvalidCountryCode = errors.New("invalid ISO3 country code")
)

// MaxSeverity is the top of the INFORM severity scale.
const MaxSeverity = 5.0

// SeverityCategory is the INFORM severity band published alongside the index.
type SeverityCategory string

const (
	SeverityVeryLow  SeverityCategory = "Very Low"
	SeverityLow      SeverityCategory = "Low"
	SeverityMedium   SeverityCategory = "Medium"
	SeverityHigh     SeverityCategory = "High"
	SeverityVeryHigh SeverityCategory = "Very High"
)

// RecordInput carries the raw, joined values for one country in one crisis
// before validation.
type RecordInput struct {
	CountryCode string
	CountryName string
	CrisisID    string
	CrisisName  string
	Drivers     string

	SeverityIndex    float64
	SeverityCategory string

	FundingRequirements   float64
	FundingReceived       float64
	OffAppealFunding      float64
	PooledFundAllocations float64

	TargetedPopulation int64
	ReachedPopulation  int64
}

// Indices holds the derived metrics for a record. Nil pointers mean the metric
// is undefined for the record, which is distinct from a value of zero.
type Indices struct {
	PercentFunded       *float64 `json:"percent_funded"`
	FundingGap          float64  `json:"funding_gap"`
	FundingGapPerCapita float64  `json:"funding_gap_per_capita"`
	NeglectIndex        *float64 `json:"neglect_index"`
	ReachRatio          *float64 `json:"reach_ratio"`
	CBPFDependency      *float64 `json:"cbpf_dependency"`
}

// CountryCrisisRecord is one country's entry within one crisis. The same ISO3
// code recurs as a separate record for every crisis the country belongs to.
type CountryCrisisRecord struct {
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	CrisisID    string `json:"crisis_id"`
	CrisisName  string `json:"crisis_name"`
	Drivers     string `json:"drivers,omitempty"`

	SeverityIndex    float64          `json:"severity_index"`
	SeverityCategory SeverityCategory `json:"severity_category"`

	FundingRequirements   float64 `json:"funding_requirements"`
	FundingReceived       float64 `json:"funding_received"`
	OffAppealFunding      float64 `json:"off_appeal_funding"`
	PooledFundAllocations float64 `json:"pooled_fund_allocations"`

	TargetedPopulation int64 `json:"targeted_population"`
	ReachedPopulation  int64 `json:"reached_population"`

	Indices   Indices   `json:"indices"`
	Anomalies []Anomaly `json:"anomalies"`

	// Notes records values that were clamped during construction.
	Notes []string `json:"notes,omitempty"`
}

// NewRecord validates the input and builds a record. Out-of-range severity and
// malformed country codes reject the record. Negative or non-finite amounts are
// placeholders in the upstream data, so they are clamped to zero and noted.
func NewRecord(in RecordInput) (CountryCrisisRecord, error) {
	code := strings.ToUpper(strings.TrimSpace(in.CountryCode))
	if !IsISO3(code) {
		return CountryCrisisRecord{}, fmt.Errorf("%w: %q", ErrInvalidCountryCode, in.CountryCode)
	}
	if math.IsNaN(in.SeverityIndex) || in.SeverityIndex < 0 || in.SeverityIndex > MaxSeverity {
		return CountryCrisisRecord{}, fmt.Errorf("%s in %s: %w: %v", code, in.CrisisID, ErrSeverityOutOfRange, in.SeverityIndex)
	}

	rec := CountryCrisisRecord{
		CountryCode:   code,
		CountryName:   strings.TrimSpace(in.CountryName),
		CrisisID:      strings.TrimSpace(in.CrisisID),
		CrisisName:    strings.TrimSpace(in.CrisisName),
		Drivers:       strings.TrimSpace(in.Drivers),
		SeverityIndex: in.SeverityIndex,
		Anomalies:     []Anomaly{},
	}
	if rec.CountryName == "" {
		rec.CountryName = code
	}
	rec.SeverityCategory = normalizeCategory(in.SeverityCategory, in.SeverityIndex)

	rec.FundingRequirements = rec.clampAmount("funding_requirements", in.FundingRequirements)
	rec.FundingReceived = rec.clampAmount("funding_received", in.FundingReceived)
	rec.OffAppealFunding = rec.clampAmount("off_appeal_funding", in.OffAppealFunding)
	rec.PooledFundAllocations = rec.clampAmount("pooled_fund_allocations", in.PooledFundAllocations)
	rec.TargetedPopulation = rec.clampCount("targeted_population", in.TargetedPopulation)
	rec.ReachedPopulation = rec.clampCount("reached_population", in.ReachedPopulation)

	return rec, nil
}

func (r *CountryCrisisRecord) clampAmount(field string, v float64) float64 {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		r.Notes = append(r.Notes, fmt.Sprintf("%s was non-finite, treated as 0", field))
		return 0
	case v < 0:
		r.Notes = append(r.Notes, fmt.Sprintf("%s was negative (%.2f), clamped to 0", field, v))
		return 0
	}
	return v
}

func (r *CountryCrisisRecord) clampCount(field string, v int64) int64 {
	if v < 0 {
		r.Notes = append(r.Notes, fmt.Sprintf("%s was negative (%d), clamped to 0", field, v))
		return 0
	}
	return v
}

// Key identifies a record within a run: one country in one crisis.
func (r CountryCrisisRecord) Key() string {
	return r.CrisisID + "|" + r.CountryCode
}

// normalizeCategory accepts the published band in any casing and falls back
// to banding the index when the label is missing or unrecognized.
func normalizeCategory(label string, index float64) SeverityCategory {
	switch strings.ToLower(strings.Join(strings.Fields(label), " ")) {
	case "very low":
		return SeverityVeryLow
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "very high":
		return SeverityVeryHigh
	}
	return CategoryForIndex(index)
}

// CategoryForIndex bands a severity index into a category using unit-wide bands.
func CategoryForIndex(index float64) SeverityCategory {
	switch {
	case index < 1:
		return SeverityVeryLow
	case index < 2:
		return SeverityLow
	case index < 3:
		return SeverityMedium
	case index < 4:
		return SeverityHigh
	default:
		return SeverityVeryHigh
	}
}

// IsISO3 reports whether s is three uppercase ASCII letters.
func IsISO3(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
