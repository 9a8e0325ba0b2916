package domain

import "math"

// ComputeIndices derives the funding and delivery metrics for one record.
// It is pure: the input record is returned with Indices populated.
func ComputeIndices(rec CountryCrisisRecord) CountryCrisisRecord {
	pf := percentFunded(rec.FundingRequirements, rec.FundingReceived)
	gap := fundingGap(rec.FundingRequirements, rec.FundingReceived)

	rec.Indices = Indices{
		PercentFunded:       pf,
		FundingGap:          gap,
		FundingGapPerCapita: fundingGapPerCapita(gap, rec.TargetedPopulation),
		NeglectIndex:        neglectIndex(rec.SeverityIndex, pf, rec.FundingRequirements),
		ReachRatio:          reachRatio(rec.ReachedPopulation, rec.TargetedPopulation),
		CBPFDependency:      cbpfDependency(rec.PooledFundAllocations, rec.FundingReceived),
	}
	return rec
}

// percentFunded returns nil when there is no appeal to measure against.
func percentFunded(requirements, received float64) *float64 {
	if !(requirements > 0) {
		return nil
	}
	return finite(received / requirements * 100)
}

func fundingGap(requirements, received float64) float64 {
	gap := requirements - received
	if !isFinite(gap) || gap < 0 {
		return 0
	}
	return gap
}

// fundingGapPerCapita is zero, not absent, without a targeted population; the
// detector filters those records out of its cohort instead.
func fundingGapPerCapita(gap float64, targeted int64) float64 {
	if targeted <= 0 {
		return 0
	}
	v := gap / float64(targeted)
	if !isFinite(v) {
		return 0
	}
	return v
}

// neglectIndex scores severity weight x unmet fraction x log-scaled appeal size.
// Missing funding data is treated as fully unfunded. Over-funded appeals have a
// negative unmet fraction and score below zero, further the more they exceed
// their requirements.
func neglectIndex(severity float64, pf *float64, requirements float64) *float64 {
	funded := 0.0
	if pf != nil {
		funded = *pf
	}
	unmet := 1 - funded/100
	magnitude := math.Log10(1 + requirements/1_000_000)
	return finite((severity / MaxSeverity) * unmet * magnitude)
}

// reachRatio is nil only when nobody was targeted; a zero reach against a
// non-zero target is a real 0%.
func reachRatio(reached, targeted int64) *float64 {
	if targeted <= 0 {
		return nil
	}
	return finite(float64(reached) / float64(targeted) * 100)
}

func cbpfDependency(allocations, received float64) *float64 {
	if !(received > 0) {
		return nil
	}
	return finite(allocations / received * 100)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finite(v float64) *float64 {
	if !isFinite(v) {
		return nil
	}
	return &v
}

// CompareOptional orders two optional values, always placing absent values
// after present ones regardless of direction. It returns -1, 0 or 1.
func CompareOptional(a, b *float64, descending bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	x, y := *a, *b
	if descending {
		x, y = y, x
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
