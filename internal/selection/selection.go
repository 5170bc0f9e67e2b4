// Package selection narrows a dataset to the active rows and years.
//
// Filters run in a fixed order: region, grid cell, explicit station choice,
// then year range. An empty region or grid-cell filter passes every row, but
// an empty station choice passes none; a caller that wants every station
// must name them all. The year range never removes rows, it only limits the
// years downstream views consider.
package selection

import (
	"slices"

	"github.com/couchcryptid/precip-station-service/internal/domain"
)

// Year bounds offered when the dataset has no year columns.
const (
	FallbackMinYear = 1970
	FallbackMaxYear = 2021
)

// YearRange is an inclusive range of years. The zero value is unrestricted.
type YearRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// IsZero reports whether the range is unrestricted.
func (r YearRange) IsZero() bool { return r.Start == 0 && r.End == 0 }

// Contains reports whether year falls in the range.
func (r YearRange) Contains(year int) bool {
	if r.IsZero() {
		return true
	}
	return year >= r.Start && year <= r.End
}

// State is the user's current selection.
type State struct {
	Regions   []string  `json:"regions"`
	GridCells []string  `json:"grid_cells"`
	Stations  []string  `json:"stations"`
	Years     YearRange `json:"years"`
}

// Active is the outcome of applying a State.
type Active struct {
	Stations []domain.StationRecord
	// Years is the ascending set of in-range years present in Stations.
	Years []int
}

// Empty reports whether no station is active.
func (a Active) Empty() bool { return len(a.Stations) == 0 }

// Apply runs the filter cascade. It does not modify stations and the
// result depends only on its inputs.
func Apply(stations []domain.StationRecord, st State) Active {
	rows := byRegionAndCell(stations, st)

	chosen := toSet(st.Stations)
	active := make([]domain.StationRecord, 0, len(chosen))
	for i := range rows {
		if _, ok := chosen[rows[i].StationID]; ok {
			active = append(active, rows[i])
		}
	}

	var years []int
	for _, y := range domain.UnionYears(active) {
		if st.Years.Contains(y) {
			years = append(years, y)
		}
	}
	return Active{Stations: active, Years: years}
}

// Choices are the values a user can pick from given the current selection.
type Choices struct {
	Regions   []string `json:"regions"`
	GridCells []string `json:"grid_cells"`
	Stations  []string `json:"stations"`
	MinYear   int      `json:"min_year"`
	MaxYear   int      `json:"max_year"`
}

// Options lists the selectable values. Grid cells are limited to the
// selected regions and stations to the selected regions and grid cells.
// Year bounds span the whole dataset.
func Options(stations []domain.StationRecord, st State) Choices {
	var c Choices
	c.Regions = distinct(stations, func(s domain.StationRecord) string { return s.Region })

	inRegion := byRegionAndCell(stations, State{Regions: st.Regions})
	c.GridCells = distinct(inRegion, func(s domain.StationRecord) string { return s.GridCell })

	inCell := byRegionAndCell(stations, State{Regions: st.Regions, GridCells: st.GridCells})
	c.Stations = distinct(inCell, func(s domain.StationRecord) string { return s.StationID })

	c.MinYear, c.MaxYear = YearBounds(domain.UnionYears(stations))
	return c
}

// YearBounds returns the first and last of the ascending years, or the
// fallback bounds when there are none.
func YearBounds(years []int) (int, int) {
	if len(years) == 0 {
		return FallbackMinYear, FallbackMaxYear
	}
	return years[0], years[len(years)-1]
}

// OpenRange builds a range from optional bounds. A missing bound is taken
// from YearBounds(years); with neither bound the range is unrestricted.
func OpenRange(from, to *int, years []int) YearRange {
	if from == nil && to == nil {
		return YearRange{}
	}
	first, last := YearBounds(years)
	if from != nil {
		first = *from
	}
	if to != nil {
		last = *to
	}
	return YearRange{Start: first, End: last}
}

// All returns a State selecting every station with no other restriction.
func All(stations []domain.StationRecord) State {
	ids := make([]string, 0, len(stations))
	for i := range stations {
		ids = append(ids, stations[i].StationID)
	}
	return State{Stations: ids}
}

func byRegionAndCell(stations []domain.StationRecord, st State) []domain.StationRecord {
	regions := toSet(st.Regions)
	cells := toSet(st.GridCells)
	out := make([]domain.StationRecord, 0, len(stations))
	for i := range stations {
		if len(regions) > 0 {
			if _, ok := regions[stations[i].Region]; !ok {
				continue
			}
		}
		if len(cells) > 0 {
			if _, ok := cells[stations[i].GridCell]; !ok {
				continue
			}
		}
		out = append(out, stations[i])
	}
	return out
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func distinct(stations []domain.StationRecord, value func(domain.StationRecord) string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for i := range stations {
		v := value(stations[i])
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}
