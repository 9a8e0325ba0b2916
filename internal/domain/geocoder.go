package domain

import "context"

// CountryMatch is a geocoding provider's best guess for a country name.
type CountryMatch struct {
	Name       string
	ISO2       string  // ISO 3166-1 alpha-2, upper case; empty if unknown
	Confidence float64 // 0.0–1.0 provider confidence score
}

// CountryGeocoder resolves free-text country names that the reference index
// could not match.
type CountryGeocoder interface {
	GeocodeCountry(ctx context.Context, name string) (CountryMatch, error)
}
