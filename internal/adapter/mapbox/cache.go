package mapbox

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/observability"
)

// DefaultCacheSize is used when a non-positive size is requested.
const DefaultCacheSize = 1000

// CachedGeocoder puts an LRU cache keyed by coordinates in front of a
// Geocoder. Only lookups that found a place are cached, so an empty answer
// or an error is retried on the next load.
type CachedGeocoder struct {
	inner   domain.Geocoder
	cache   *lru.Cache
	metrics *observability.Metrics
}

// NewCachedGeocoder wraps inner with a cache of at most size entries.
func NewCachedGeocoder(inner domain.Geocoder, size int, metrics *observability.Metrics) *CachedGeocoder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New(size) // only fails for a non-positive size
	return &CachedGeocoder{inner: inner, cache: cache, metrics: metrics}
}

// ReverseGeocode serves lat, lon from the cache or the wrapped geocoder.
func (c *CachedGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	key := cacheKey(lat, lon)
	if v, ok := c.cache.Get(key); ok {
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
		return v.(domain.GeocodingResult), nil
	}
	c.metrics.GeocodeCache.WithLabelValues("miss").Inc()

	result, err := c.inner.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return result, err
	}
	if result.PlaceName != "" {
		c.cache.Add(key, result)
	}
	return result, nil
}

// Len returns the number of cached places.
func (c *CachedGeocoder) Len() int {
	return c.cache.Len()
}

func cacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lon)
}
