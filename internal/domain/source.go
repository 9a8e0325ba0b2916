package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedRow marks a source row that cannot be parsed. Rows carrying it
// are skipped; the run continues.
var ErrMalformedRow = errors.New("malformed row")

// Dataset names one of the external inputs to an aggregation run.
type Dataset string

const (
	DatasetSeverity    Dataset = "severity"
	DatasetFunding     Dataset = "funding"
	DatasetPooledFunds Dataset = "pooled_funds"
	DatasetCountries   Dataset = "countries"
)

// Datasets lists every input an aggregation run requires.
var Datasets = []Dataset{DatasetSeverity, DatasetFunding, DatasetPooledFunds, DatasetCountries}

// RawRow is an unparsed source row keyed by lowercase column name.
type RawRow struct {
	Dataset Dataset
	Line    int
	Fields  map[string]string
}

func (r RawRow) get(col string) string {
	return strings.TrimSpace(r.Fields[col])
}

func (r RawRow) errorf(format string, args ...any) error {
	return fmt.Errorf("%s line %d: %w: %s", r.Dataset, r.Line, ErrMalformedRow, fmt.Sprintf(format, args...))
}

// SeverityRow is one crisis row from the severity source. A row may name
// several countries.
type SeverityRow struct {
	CrisisID      string
	CrisisName    string
	CountryCodes  []string
	SeverityIndex float64
	Category      string
	Drivers       string
}

// FundingRow is one appeal plan's requirements and funding for a country.
type FundingRow struct {
	CountryCode  string
	PlanName     string
	Requirements float64
	Funding      float64
	OffAppeal    bool
	// Notes records negative placeholders that were clamped to zero.
	Notes []string
}

// PooledFundRow is one CBPF cluster allocation for a country identified by name.
type PooledFundRow struct {
	Country          string
	Cluster          string
	TotalAllocations float64
	TargetedPeople   int64
	ReachedPeople    int64
	// Notes records negative placeholders that were clamped to zero.
	Notes []string
}

// Country is one entry of the geographic reference.
type Country struct {
	ISO3 string
	ISO2 string
	Name string
}

// FundingTotals is the per-country aggregate of all funding rows.
type FundingTotals struct {
	Requirements     float64
	OnAppealFunding  float64
	OffAppealFunding float64
	Plans            int
}

// PooledFundTotals is the per-country aggregate of all CBPF cluster rows.
type PooledFundTotals struct {
	Allocations    float64
	TargetedPeople int64
	ReachedPeople  int64
	Clusters       int
}

// ParseSeverityRow parses and expands a severity row. Packed ISO3 lists are
// split and de-duplicated; invalid codes within the list are dropped.
func ParseSeverityRow(raw RawRow) (SeverityRow, error) {
	codes := SplitCountryCodes(raw.get("iso3"))
	if len(codes) == 0 {
		return SeverityRow{}, raw.errorf("no valid iso3 in %q", raw.get("iso3"))
	}
	crisisID := raw.get("crisis_id")
	name := raw.get("crisis_name")
	if crisisID == "" && name == "" {
		return SeverityRow{}, raw.errorf("missing crisis_id and crisis_name")
	}
	if crisisID == "" {
		crisisID = name
	}
	if name == "" {
		name = crisisID
	}

	severity, err := parseNumber(raw.get("severity_index"))
	if err != nil {
		return SeverityRow{}, raw.errorf("severity_index: %v", err)
	}

	return SeverityRow{
		CrisisID:      crisisID,
		CrisisName:    name,
		CountryCodes:  codes,
		SeverityIndex: severity,
		Category:      raw.get("severity_category"),
		Drivers:       raw.get("drivers"),
	}, nil
}

// ParseFundingRow parses one appeal plan row. Empty amounts are zero.
func ParseFundingRow(raw RawRow) (FundingRow, error) {
	code := strings.ToUpper(raw.get("iso3"))
	if !IsISO3(code) {
		return FundingRow{}, raw.errorf("invalid iso3 %q", raw.get("iso3"))
	}
	req, err := parseAmount(raw.get("requirements"))
	if err != nil {
		return FundingRow{}, raw.errorf("requirements: %v", err)
	}
	funding, err := parseAmount(raw.get("funding"))
	if err != nil {
		return FundingRow{}, raw.errorf("funding: %v", err)
	}
	row := FundingRow{
		CountryCode: code,
		PlanName:    raw.get("plan_name"),
		OffAppeal:   parseBool(raw.get("off_appeal")),
	}
	row.Requirements = clampNegative(&row.Notes, "requirements", req)
	row.Funding = clampNegative(&row.Notes, "funding", funding)
	return row, nil
}

// ParsePooledFundRow parses one CBPF cluster row.
func ParsePooledFundRow(raw RawRow) (PooledFundRow, error) {
	country := raw.get("country")
	if country == "" {
		return PooledFundRow{}, raw.errorf("missing country")
	}
	alloc, err := parseAmount(raw.get("total_allocations"))
	if err != nil {
		return PooledFundRow{}, raw.errorf("total_allocations: %v", err)
	}
	targeted, err := parseCount(raw.get("targeted_people"))
	if err != nil {
		return PooledFundRow{}, raw.errorf("targeted_people: %v", err)
	}
	reached, err := parseCount(raw.get("reached_people"))
	if err != nil {
		return PooledFundRow{}, raw.errorf("reached_people: %v", err)
	}
	row := PooledFundRow{
		Country: country,
		Cluster: raw.get("cluster"),
	}
	row.TotalAllocations = clampNegative(&row.Notes, "total_allocations", alloc)
	row.TargetedPeople = clampNegative(&row.Notes, "targeted_people", targeted)
	row.ReachedPeople = clampNegative(&row.Notes, "reached_people", reached)
	return row, nil
}

// ParseCountryRow parses one geographic reference row.
func ParseCountryRow(raw RawRow) (Country, error) {
	code := strings.ToUpper(raw.get("iso3"))
	if !IsISO3(code) {
		return Country{}, raw.errorf("invalid iso3 %q", raw.get("iso3"))
	}
	name := raw.get("name")
	if name == "" {
		return Country{}, raw.errorf("missing name for %s", code)
	}
	return Country{ISO3: code, ISO2: strings.ToUpper(raw.get("iso2")), Name: name}, nil
}

// SplitCountryCodes expands a packed ISO3 list such as "SDN, SSD; TCD" into
// distinct upper-case codes in their original order.
func SplitCountryCodes(packed string) []string {
	parts := strings.FieldsFunc(packed, func(r rune) bool {
		switch r {
		case ',', ';', '/', '|', ' ', '\t', '\n':
			return true
		}
		return false
	})
	seen := make(map[string]bool, len(parts))
	codes := make([]string, 0, len(parts))
	for _, p := range parts {
		code := strings.ToUpper(strings.TrimSpace(p))
		if !IsISO3(code) || seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// AggregateFunding folds plan rows into one tuple per country. Off-appeal rows
// contribute funding only; they have no comparable requirement. Negative row
// amounts count as zero so one placeholder cannot cancel another plan.
func AggregateFunding(rows []FundingRow) map[string]FundingTotals {
	out := make(map[string]FundingTotals)
	for _, row := range rows {
		t := out[row.CountryCode]
		req, funding := math.Max(0, row.Requirements), math.Max(0, row.Funding)
		if row.OffAppeal {
			t.OffAppealFunding += funding
		} else {
			t.Requirements += req
			t.OnAppealFunding += funding
		}
		t.Plans++
		out[row.CountryCode] = t
	}
	return out
}

// AddPooledFund folds one resolved CBPF row into the running totals. Negative
// values count as zero and head counts saturate instead of overflowing.
func AddPooledFund(totals map[string]PooledFundTotals, iso3 string, row PooledFundRow) {
	t := totals[iso3]
	t.Allocations += math.Max(0, row.TotalAllocations)
	t.TargetedPeople = addCount(t.TargetedPeople, row.TargetedPeople)
	t.ReachedPeople = addCount(t.ReachedPeople, row.ReachedPeople)
	t.Clusters++
	totals[iso3] = t
}

// parseNumber parses a required finite number, tolerating thousands separators.
func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, errors.New("empty value")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// parseAmount parses an optional currency amount; empty means no data.
func parseAmount(s string) (float64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	if s == "" || s == "-" {
		return 0, nil
	}
	return parseNumber(s)
}

// maxCount is 2^63, the first float64 that does not fit in an int64.
const maxCount = float64(1 << 63)

// parseCount parses an optional head count; fractional counts are truncated.
// Counts outside the int64 range are rejected.
func parseCount(s string) (int64, error) {
	v, err := parseAmount(s)
	if err != nil {
		return 0, err
	}
	if v >= maxCount || v <= -maxCount {
		return 0, fmt.Errorf("count %q out of range", s)
	}
	return int64(v), nil
}

func clampNegative[T int64 | float64](notes *[]string, field string, v T) T {
	if v < 0 {
		*notes = append(*notes, fmt.Sprintf("%s was negative (%v), treated as 0", field, v))
		return 0
	}
	return v
}

// addCount adds two non-negative counts, saturating at math.MaxInt64.
func addCount(a, b int64) int64 {
	if b <= 0 {
		return a
	}
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "off-appeal", "off_appeal":
		return true
	}
	return false
}
