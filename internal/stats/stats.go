// Package stats derives precipitation statistics from an active selection.
//
// All reported values are rounded to two decimals; stored series are never
// modified. A station with no value in the active years has an undefined
// summary, represented as nil.
package stats

import (
	"math"
	"sort"

	"github.com/couchcryptid/precip-station-service/internal/selection"
)

// Sort orders for Compare.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// AggregateLabel names the all-stations row.
const AggregateLabel = "all stations"

// Extreme is a maximum or minimum and the first year, ascending, it occurred.
type Extreme struct {
	Value float64 `json:"value"`
	Year  int     `json:"year"`
}

// Summary holds the five metrics over a set of values. StdDev is the sample
// standard deviation and is nil with fewer than two values.
type Summary struct {
	Count  int      `json:"count"`
	Max    Extreme  `json:"max"`
	Min    Extreme  `json:"min"`
	Mean   float64  `json:"mean"`
	StdDev *float64 `json:"std_dev"`
}

// StationSummary is the per-station row.
type StationSummary struct {
	StationID   string   `json:"station_id"`
	StationCode string   `json:"station_code,omitempty"`
	Region      string   `json:"region,omitempty"`
	SubRegion   string   `json:"sub_region,omitempty"`
	Summary     *Summary `json:"summary"`
}

// Report is the statistics view of a selection.
type Report struct {
	Stations  []StationSummary `json:"stations"`
	Aggregate *Summary         `json:"aggregate"`
	Years     []int            `json:"years"`
}

// Observation is one (station, year, value) triple.
type Observation struct {
	StationID string  `json:"station_id"`
	Year      int     `json:"year"`
	Value     float64 `json:"value"`
}

// Compute summarises each active station and the selection as a whole. The
// aggregate is taken over every (station, year) value, not over the
// per-station results.
func Compute(active selection.Active) Report {
	r := Report{
		Stations: make([]StationSummary, 0, len(active.Stations)),
		Years:    active.Years,
	}
	var all []Observation
	for _, s := range active.Stations {
		obs := stationObservations(s.StationID, s.Series, active.Years)
		all = append(all, obs...)
		r.Stations = append(r.Stations, StationSummary{
			StationID:   s.StationID,
			StationCode: s.StationCode,
			Region:      s.Region,
			SubRegion:   s.SubRegion,
			Summary:     summarize(obs),
		})
	}
	r.Aggregate = summarize(all)
	return r
}

// LongForm flattens the selection into observations ordered by year, then
// by station order.
func LongForm(active selection.Active) []Observation {
	out := []Observation{}
	for _, y := range active.Years {
		for _, s := range active.Stations {
			if v, ok := s.Series[y]; ok {
				out = append(out, Observation{StationID: s.StationID, Year: y, Value: v})
			}
		}
	}
	return out
}

// Compare ranks the active stations by their value in one year. Stations
// without a value that year are left out. Equal values keep station order.
// Any order other than OrderAsc sorts descending.
func Compare(active selection.Active, year int, order string) []Observation {
	out := []Observation{}
	for _, s := range active.Stations {
		if v, ok := s.Series[year]; ok {
			out = append(out, Observation{StationID: s.StationID, Year: year, Value: round2(v)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == OrderAsc {
			return out[i].Value < out[j].Value
		}
		return out[i].Value > out[j].Value
	})
	return out
}

// stationObservations returns the station's values in the given years, in
// ascending year order.
func stationObservations(id string, series map[int]float64, years []int) []Observation {
	var out []Observation
	for _, y := range years {
		if v, ok := series[y]; ok {
			out = append(out, Observation{StationID: id, Year: y, Value: v})
		}
	}
	return out
}

// summarize expects obs in ascending year order within each station. Ties on
// the extreme value go to the earliest year, then to the earlier observation.
func summarize(obs []Observation) *Summary {
	if len(obs) == 0 {
		return nil
	}
	maxObs, minObs := obs[0], obs[0]
	var sum float64
	for _, o := range obs {
		sum += o.Value
		if o.Value > maxObs.Value || (o.Value == maxObs.Value && o.Year < maxObs.Year) {
			maxObs = o
		}
		if o.Value < minObs.Value || (o.Value == minObs.Value && o.Year < minObs.Year) {
			minObs = o
		}
	}
	n := float64(len(obs))
	mean := sum / n

	s := &Summary{
		Count: len(obs),
		Max:   Extreme{Value: round2(maxObs.Value), Year: maxObs.Year},
		Min:   Extreme{Value: round2(minObs.Value), Year: minObs.Year},
		Mean:  round2(mean),
	}
	if len(obs) > 1 {
		var sq float64
		for _, o := range obs {
			d := o.Value - mean
			sq += d * d
		}
		sd := round2(math.Sqrt(sq / (n - 1)))
		s.StdDev = &sd
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
