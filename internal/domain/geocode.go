package domain

import (
	"context"
	"log/slog"
)

// EnrichRegions fills the region of stations whose source row had none, using
// the geocoder's place name for the station coordinates. Stations that already
// carry a region are marked as sourced from the file. A nil geocoder or a
// failed lookup leaves the region empty. Returns the number of regions filled.
func EnrichRegions(ctx context.Context, stations []StationRecord, geocoder Geocoder, logger *slog.Logger) int {
	filled := 0
	for i := range stations {
		st := &stations[i]
		if st.Region != "" {
			st.RegionSource = RegionFromSource
			continue
		}
		if geocoder == nil {
			continue
		}
		if ctx.Err() != nil {
			return filled
		}

		result, err := geocoder.ReverseGeocode(ctx, st.Latitude, st.Longitude)
		if err != nil {
			logger.Warn("reverse geocoding failed",
				"station_id", st.StationID,
				"lat", st.Latitude,
				"lon", st.Longitude,
				"error", err,
			)
			continue
		}
		if result.PlaceName == "" {
			continue
		}
		st.Region = result.PlaceName
		st.RegionSource = RegionFromGeocoder
		filled++
	}
	return filled
}
