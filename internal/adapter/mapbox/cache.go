package mapbox

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/couchcryptid/crisis-funding-etl/internal/domain"
	"github.com/couchcryptid/crisis-funding-etl/internal/observability"
)

// CachedGeocoder wraps a CountryGeocoder with an in-memory LRU cache keyed by
// normalized country name.
type CachedGeocoder struct {
	inner   domain.CountryGeocoder
	cache   *lru.Cache
	metrics *observability.Metrics
}

// NewCachedGeocoder creates a cache decorator around a geocoder.
func NewCachedGeocoder(inner domain.CountryGeocoder, maxEntries int, metrics *observability.Metrics) (*CachedGeocoder, error) {
	cache, err := lru.New(maxEntries)
	if err != nil {
		return nil, fmt.Errorf("geocode cache: %w", err)
	}
	return &CachedGeocoder{
		inner:   inner,
		cache:   cache,
		metrics: metrics,
	}, nil
}

func (c *CachedGeocoder) GeocodeCountry(ctx context.Context, name string) (domain.CountryMatch, error) {
	key := domain.NormalizeCountryName(name)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return v.(domain.CountryMatch), nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.GeocodeCountry(ctx, name)
	if err != nil {
		return result, err
	}
	// Only cache non-empty results so transient "not found" responses can be retried.
	if result.ISO2 != "" || result.Name != "" {
		c.cache.Add(key, result)
	}
	return result, nil
}

// Len returns the number of cached names.
func (c *CachedGeocoder) Len() int {
	return c.cache.Len()
}
