package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/precip-station-service/internal/domain"
)

// RegionEnricher fills missing station regions through an optional geocoder.
type RegionEnricher struct {
	geocoder domain.Geocoder
	logger   *slog.Logger
}

// NewRegionEnricher creates a RegionEnricher. Pass a nil geocoder to disable
// geocoding; stations that carry a region are still marked as sourced.
func NewRegionEnricher(geocoder domain.Geocoder, logger *slog.Logger) *RegionEnricher {
	return &RegionEnricher{
		geocoder: geocoder,
		logger:   logger,
	}
}

// Enrich updates stations in place and returns the number of regions geocoded.
func (e *RegionEnricher) Enrich(ctx context.Context, stations []domain.StationRecord) int {
	return domain.EnrichRegions(ctx, stations, e.geocoder, e.logger)
}
