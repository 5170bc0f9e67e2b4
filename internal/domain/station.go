package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/twpayne/go-geom"
)

// Region sources recorded on StationRecord.RegionSource.
const (
	RegionFromSource   = "source"
	RegionFromGeocoder = "geocoded"
)

// Series maps a year to an annual precipitation total in millimetres.
// Missing years have no key.
type Series map[int]float64

// Years returns the years present in the series in ascending order.
func (s Series) Years() []int {
	years := make([]int, 0, len(s))
	for y := range s {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Boundary is the station geometry joined from the shapefile, in WGS84.
type Boundary struct {
	Geometry   geom.T
	Attributes map[string]string
}

// StationRecord is one monitoring station after loading and reconciliation.
// Optional text attributes are empty when absent.
type StationRecord struct {
	StationID    string    `json:"station_id"`
	StationCode  string    `json:"station_code,omitempty"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Region       string    `json:"region,omitempty"`
	RegionSource string    `json:"region_source,omitempty"`
	SubRegion    string    `json:"sub_region,omitempty"`
	GridCell     string    `json:"grid_cell,omitempty"`
	Coverage     *float64  `json:"coverage,omitempty"`
	Boundary     *Boundary `json:"-"`
	Series       Series    `json:"series"`
}

// HasBoundary reports whether a boundary geometry was joined to the station.
func (r StationRecord) HasBoundary() bool {
	return r.Boundary != nil && r.Boundary.Geometry != nil
}

// Dataset is the reconciled station set produced by one load. It is replaced
// wholesale on every load and never updated in place.
type Dataset struct {
	ID          string          `json:"id"`
	LoadedAt    time.Time       `json:"loaded_at"`
	Stations    []StationRecord `json:"-"`
	Years       []int           `json:"years"`
	HasGeometry bool            `json:"has_geometry"`
	Report      LoadReport      `json:"report"`
}

// NewDataset stamps a new id and load time on the reconciled stations and
// collects the union of their years.
func NewDataset(stations []StationRecord, report LoadReport) *Dataset {
	hasGeometry := false
	for i := range stations {
		if stations[i].HasBoundary() {
			hasGeometry = true
			break
		}
	}
	return &Dataset{
		ID:          uuid.NewString(),
		LoadedAt:    Now(),
		Stations:    stations,
		Years:       UnionYears(stations),
		HasGeometry: hasGeometry,
		Report:      report,
	}
}

// UnionYears returns every year present in any station, ascending.
func UnionYears(stations []StationRecord) []int {
	seen := make(map[int]struct{})
	for i := range stations {
		for y := range stations[i].Series {
			seen[y] = struct{}{}
		}
	}
	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}
