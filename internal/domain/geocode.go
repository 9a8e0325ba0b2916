package domain

import (
	"context"
	"log/slog"
)

// Resolution sources reported by ResolveCountry.
const (
	ResolvedIndex    = "index"
	ResolvedGeocoder = "geocoder"
	ResolvedNone     = "unresolved"
	ResolvedFailed   = "failed"
)

// ResolveCountry maps a pooled-fund country identifier to ISO3. The reference
// index is tried first; the geocoder, if any, is a fallback whose answer must
// still land on a reference country. Geocoder errors degrade to unresolved.
func ResolveCountry(ctx context.Context, name string, index *CountryIndex, geocoder CountryGeocoder, logger *slog.Logger) (string, string) {
	if code, ok := index.Resolve(name); ok {
		return code, ResolvedIndex
	}
	if geocoder == nil {
		return "", ResolvedNone
	}

	match, err := geocoder.GeocodeCountry(ctx, name)
	if err != nil {
		logger.Warn("country geocoding failed",
			"country", name,
			"error", err,
		)
		return "", ResolvedFailed
	}
	if match.ISO2 != "" {
		if code, ok := index.ISO3ForISO2(match.ISO2); ok {
			return code, ResolvedGeocoder
		}
	}
	if match.Name != "" {
		if code, ok := index.Resolve(match.Name); ok {
			return code, ResolvedGeocoder
		}
	}
	return "", ResolvedNone
}
