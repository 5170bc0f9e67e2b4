// Package mapview prepares station locations and boundaries for map rendering.
package mapview

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"

	"github.com/couchcryptid/precip-station-service/internal/domain"
)

// Centering modes for Frame.
const (
	CenterCountry  = "country"
	CenterStations = "stations"
)

// Country view defaults.
var (
	CountryCenter = [2]float64{4.5709, -74.2973}
	CountryZoom   = 6
	StationsZoom  = 8
)

// View is the initial map frame. Center is latitude, longitude. Bounds is
// minLon, minLat, maxLon, maxLat and is only set in stations mode.
type View struct {
	Mode   string     `json:"mode"`
	Center [2]float64 `json:"center"`
	Zoom   int        `json:"zoom"`
	Bounds []float64  `json:"bounds,omitempty"`
}

// ValidMode reports whether mode is a known centering mode.
func ValidMode(mode string) bool {
	return mode == CenterCountry || mode == CenterStations
}

// FeatureCollection builds one feature per station. The geometry is the
// joined boundary, or the station point when there is none.
func FeatureCollection(stations []domain.StationRecord) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(stations))}
	bounds := geom.NewBounds(geom.XY)
	for i := range stations {
		s := &stations[i]
		g := shape(s)
		bounds.Extend(g)
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         s.StationID,
			Geometry:   g,
			Properties: properties(s),
		})
	}
	if len(stations) > 0 {
		fc.BBox = bounds
	}
	return fc
}

// Frame picks the map frame. Stations mode centres on the mean of the
// station centroids; it falls back to the country frame when there are no
// stations or an unknown mode is given.
func Frame(stations []domain.StationRecord, mode string) (View, error) {
	if mode != CenterStations || len(stations) == 0 {
		return View{Mode: CenterCountry, Center: CountryCenter, Zoom: CountryZoom}, nil
	}

	bounds := geom.NewBounds(geom.XY)
	var sumLat, sumLon float64
	for i := range stations {
		g := shape(&stations[i])
		c, err := centroid(g)
		if err != nil {
			return View{}, fmt.Errorf("centroid of %q: %w", stations[i].StationID, err)
		}
		sumLon += c[0]
		sumLat += c[1]
		bounds.Extend(g)
	}
	n := float64(len(stations))
	return View{
		Mode:   CenterStations,
		Center: [2]float64{sumLat / n, sumLon / n},
		Zoom:   StationsZoom,
		Bounds: []float64{bounds.Min(0), bounds.Min(1), bounds.Max(0), bounds.Max(1)},
	}, nil
}

func shape(s *domain.StationRecord) geom.T {
	if s.HasBoundary() {
		return s.Boundary.Geometry
	}
	return geom.NewPointFlat(geom.XY, []float64{s.Longitude, s.Latitude})
}

func centroid(g geom.T) (geom.Coord, error) {
	if p, ok := g.(*geom.Point); ok {
		return geom.Coord{p.X(), p.Y()}, nil
	}
	c, err := xy.Centroid(g)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func properties(s *domain.StationRecord) map[string]interface{} {
	props := map[string]interface{}{
		"station_id": s.StationID,
		"latitude":   s.Latitude,
		"longitude":  s.Longitude,
	}
	optional := map[string]string{
		"station_code": s.StationCode,
		"region":       s.Region,
		"sub_region":   s.SubRegion,
		"grid_cell":    s.GridCell,
	}
	for k, v := range optional {
		if v != "" {
			props[k] = v
		}
	}
	if s.Coverage != nil {
		props["coverage"] = *s.Coverage
	}
	return props
}
