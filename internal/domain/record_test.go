package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecord(t *testing.T) {
	t.Run("valid input", func(t *testing.T) {
		rec, err := NewRecord(RecordInput{
			CountryCode:         " sdn ",
			CountryName:         "Sudan",
			CrisisID:            "SDN001",
			CrisisName:          "Sudan complex crisis",
			SeverityIndex:       4.6,
			SeverityCategory:    "very high",
			FundingRequirements: 2_700_000_000,
			FundingReceived:     1_100_000_000,
			TargetedPopulation:  14_700_000,
			ReachedPopulation:   7_600_000,
		})
		require.NoError(t, err)

		assert.Equal(t, "SDN", rec.CountryCode)
		assert.Equal(t, "Sudan", rec.CountryName)
		assert.Equal(t, SeverityVeryHigh, rec.SeverityCategory)
		assert.Equal(t, int64(14_700_000), rec.TargetedPopulation)
		assert.Empty(t, rec.Notes)
		assert.NotNil(t, rec.Anomalies)
		assert.Empty(t, rec.Anomalies)
		assert.Equal(t, "SDN001|SDN", rec.Key())
	})

	t.Run("severity bounds are inclusive", func(t *testing.T) {
		for _, sev := range []float64{0, 5} {
			_, err := NewRecord(RecordInput{CountryCode: "AFG", SeverityIndex: sev})
			assert.NoError(t, err, "severity %v", sev)
		}
	})

	t.Run("severity out of range is rejected", func(t *testing.T) {
		for _, sev := range []float64{-0.1, 5.01, math.NaN(), math.Inf(1), math.Inf(-1)} {
			_, err := NewRecord(RecordInput{CountryCode: "AFG", SeverityIndex: sev})
			require.Error(t, err, "severity %v", sev)
			assert.ErrorIs(t, err, ErrSeverityOutOfRange)
		}
	})

	t.Run("invalid country code is rejected", func(t *testing.T) {
		for _, code := range []string{"", "SD", "SUDAN", "S1N"} {
			_, err := NewRecord(RecordInput{CountryCode: code, SeverityIndex: 3})
			assert.ErrorIs(t, err, ErrInvalidCountryCode, "code %q", code)
		}
	})

	t.Run("negative placeholders are clamped with notes", func(t *testing.T) {
		rec, err := NewRecord(RecordInput{
			CountryCode:           "HTI",
			SeverityIndex:         4,
			FundingRequirements:   -1,
			FundingReceived:       -999,
			OffAppealFunding:      math.NaN(),
			PooledFundAllocations: 10,
			TargetedPopulation:    -5,
			ReachedPopulation:     3,
		})
		require.NoError(t, err)

		assert.Zero(t, rec.FundingRequirements)
		assert.Zero(t, rec.FundingReceived)
		assert.Zero(t, rec.OffAppealFunding)
		assert.Equal(t, 10.0, rec.PooledFundAllocations)
		assert.Zero(t, rec.TargetedPopulation)
		assert.Equal(t, int64(3), rec.ReachedPopulation)
		assert.Len(t, rec.Notes, 4)
	})

	t.Run("missing name falls back to code", func(t *testing.T) {
		rec, err := NewRecord(RecordInput{CountryCode: "YEM", SeverityIndex: 4.5})
		require.NoError(t, err)
		assert.Equal(t, "YEM", rec.CountryName)
	})
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		name     string
		label    string
		index    float64
		expected SeverityCategory
	}{
		{"exact label", "High", 1, SeverityHigh},
		{"mixed case and spacing", "  VERY   low ", 4, SeverityVeryLow},
		{"empty derives from index", "", 3.5, SeverityHigh},
		{"unknown derives from index", "Extreme", 4.9, SeverityVeryHigh},
		{"lowest band", "", 0.2, SeverityVeryLow},
		{"band boundary", "", 2, SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeCategory(tt.label, tt.index))
		})
	}
}

func TestIsISO3(t *testing.T) {
	assert.True(t, IsISO3("COD"))
	assert.False(t, IsISO3("cod"))
	assert.False(t, IsISO3("CO"))
	assert.False(t, IsISO3("CÔD"))
}
