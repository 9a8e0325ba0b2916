// Package domain models humanitarian crisis severity, funding, and pooled-fund
// delivery data, and scores it for neglect and statistical outliers.
//
// # Data Sources
//
// Four datasets are joined per run:
//
//	severity     INFORM Severity crisis rows, one row per crisis. The iso3 column
//	             may pack several countries ("SDN, SSD; TCD"); rows are expanded
//	             to one logical row per country.
//	funding      FTS appeal plans per country. On-appeal rows carry requirements
//	             and funding; off-appeal rows carry funding only and have no
//	             comparable "% funded" denominator.
//	pooled_funds CBPF cluster allocations with targeted and reached people,
//	             keyed by free-text country name.
//	countries    The ISO3 <-> name reference that reconciles the other three.
//
// # Absent vs. Zero
//
// Upstream data conflates "no data" with zero. Metrics that can be undefined
// (percent funded, reach ratio, CBPF dependency, neglect index) are *float64
// and nil when undefined. Cohort builders filter nil out; sorts place nil last.
// A reach of zero against a non-zero target is a real 0% (access denial or
// non-delivery) and stays in the reach-ratio cohort.
//
// # Indices
//
//	percent funded        received / requirements x 100, requirements > 0
//	funding gap           max(0, requirements - received)
//	gap per capita        gap / targeted, 0 when nothing is targeted
//	neglect index         (severity/5) x unmet fraction x log10(1 + requirements/1e6)
//	reach ratio           reached / targeted x 100, targeted > 0
//	CBPF dependency       allocations / received x 100, received > 0
//
// # Outlier Detection
//
// Funding data is heavily right-skewed: a handful of multi-billion-dollar
// appeals dwarf the median, so mean/stddev thresholds are meaningless here.
// [Detector] instead ranks each metric's cohort by percentile:
//
//	rank = i / (n-1) x 100   for the i-th of n ascending values (n = 1 ranks 50)
//	low-direction            rank <= 5 critical, rank <= 10 warning
//	high-direction           rank >= 95 critical, rank >= 90 warning
//
// Cohorts are de-duplicated by ISO3 and must hold at least
// [DefaultMinCohortSize] countries. A country that appears in several crises is
// evaluated once and every appearance receives the same anomaly list.
//
// The severity/funding mismatch ratio is undefined at 0% funded, so the most
// extreme unfunded countries fall outside that one cohort. They still surface
// through the percent-funded metric.
package domain
