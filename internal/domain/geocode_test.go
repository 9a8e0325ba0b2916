package domain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- mock geocoder ---

type mockGeocoder struct {
	match CountryMatch
	err   error
	calls int
}

func (m *mockGeocoder) GeocodeCountry(_ context.Context, _ string) (CountryMatch, error) {
	m.calls++
	return m.match, m.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- tests ---

func TestResolveCountry_IndexHitSkipsGeocoder(t *testing.T) {
	geo := &mockGeocoder{match: CountryMatch{ISO2: "SS"}}

	code, source := ResolveCountry(context.Background(), "Sudan", testCountryIndex(), geo, discardLogger())

	assert.Equal(t, "SDN", code)
	assert.Equal(t, ResolvedIndex, source)
	assert.Equal(t, 0, geo.calls)
}

func TestResolveCountry_NilGeocoder(t *testing.T) {
	code, source := ResolveCountry(context.Background(), "Atlantis", testCountryIndex(), nil, discardLogger())

	assert.Empty(t, code)
	assert.Equal(t, ResolvedNone, source)
}

func TestResolveCountry_GeocoderISO2(t *testing.T) {
	geo := &mockGeocoder{match: CountryMatch{Name: "Republic of South Sudan", ISO2: "SS", Confidence: 0.9}}

	code, source := ResolveCountry(context.Background(), "S. Sudan", testCountryIndex(), geo, discardLogger())

	assert.Equal(t, "SSD", code)
	assert.Equal(t, ResolvedGeocoder, source)
	assert.Equal(t, 1, geo.calls)
}

func TestResolveCountry_GeocoderNameFallback(t *testing.T) {
	geo := &mockGeocoder{match: CountryMatch{Name: "Côte d’Ivoire"}}

	code, source := ResolveCountry(context.Background(), "Elfenbeinküste", testCountryIndex(), geo, discardLogger())

	assert.Equal(t, "CIV", code)
	assert.Equal(t, ResolvedGeocoder, source)
}

func TestResolveCountry_GeocoderOutsideReference(t *testing.T) {
	geo := &mockGeocoder{match: CountryMatch{Name: "France", ISO2: "FR"}}

	code, source := ResolveCountry(context.Background(), "Francia", testCountryIndex(), geo, discardLogger())

	assert.Empty(t, code)
	assert.Equal(t, ResolvedNone, source)
}

func TestResolveCountry_GeocoderError(t *testing.T) {
	geo := &mockGeocoder{err: errors.New("upstream timeout")}

	code, source := ResolveCountry(context.Background(), "Atlantis", testCountryIndex(), geo, discardLogger())

	assert.Empty(t, code)
	assert.Equal(t, ResolvedFailed, source)
	assert.Equal(t, 1, geo.calls)
}
