package mapbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/observability"
)

type countingGeocoder struct {
	calls  int
	result domain.GeocodingResult
	err    error
}

func (m *countingGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	m.calls++
	return m.result, m.err
}

func TestCachedGeocoder_Hit(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{PlaceName: "Bello"}}
	metrics := observability.NewMetricsForTesting()
	cached := NewCachedGeocoder(inner, 10, metrics)

	for range 3 {
		r, err := cached.ReverseGeocode(context.Background(), 6.3373, -75.5579)
		require.NoError(t, err)
		assert.Equal(t, "Bello", r.PlaceName)
	}

	assert.Equal(t, 1, inner.calls, "inner geocoder should be called once")
	assert.InDelta(t, 2, counterValue(t, metrics.GeocodeCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 1, counterValue(t, metrics.GeocodeCache.WithLabelValues("miss")), 0)
}

func TestCachedGeocoder_EmptyResultNotCached(t *testing.T) {
	inner := &countingGeocoder{}
	cached := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())

	_, _ = cached.ReverseGeocode(context.Background(), 1, 2)
	_, _ = cached.ReverseGeocode(context.Background(), 1, 2)

	assert.Equal(t, 2, inner.calls)
	assert.Zero(t, cached.Len())
}

func TestCachedGeocoder_ErrorNotCached(t *testing.T) {
	inner := &countingGeocoder{err: errors.New("unavailable")}
	cached := NewCachedGeocoder(inner, 10, observability.NewMetricsForTesting())

	_, err := cached.ReverseGeocode(context.Background(), 1, 2)
	require.Error(t, err)

	inner.err = nil
	inner.result = domain.GeocodingResult{PlaceName: "Guarne"}
	r, err := cached.ReverseGeocode(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "Guarne", r.PlaceName)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedGeocoder_Evicts(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{PlaceName: "Rionegro"}}
	cached := NewCachedGeocoder(inner, 2, observability.NewMetricsForTesting())
	ctx := context.Background()

	_, _ = cached.ReverseGeocode(ctx, 1, 1)
	_, _ = cached.ReverseGeocode(ctx, 2, 2)
	_, _ = cached.ReverseGeocode(ctx, 1, 1) // refresh 1,1
	_, _ = cached.ReverseGeocode(ctx, 3, 3) // evicts 2,2
	assert.Equal(t, 2, cached.Len())
	assert.Equal(t, 3, inner.calls)

	_, _ = cached.ReverseGeocode(ctx, 1, 1)
	assert.Equal(t, 3, inner.calls, "recently used entry should survive")
	_, _ = cached.ReverseGeocode(ctx, 2, 2)
	assert.Equal(t, 4, inner.calls, "least recently used entry should be evicted")
}

func TestNewCachedGeocoder_DefaultSize(t *testing.T) {
	inner := &countingGeocoder{result: domain.GeocodingResult{PlaceName: "Marinilla"}}
	cached := NewCachedGeocoder(inner, 0, observability.NewMetricsForTesting())
	_, err := cached.ReverseGeocode(context.Background(), 6.17, -75.33)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())
}
