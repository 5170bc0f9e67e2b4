// Package reconcile joins tabular station seeds with shapefile boundaries
// into the station set of a dataset.
//
// The join is left-outer from the table: every unique station id in the
// seeds yields exactly one record, with or without a boundary. Duplicate ids
// follow a last-write-wins policy: the record keeps the position of the
// first occurrence and the contents of the last.
package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/geometry"
)

// Result is the reconciled station set and how it was joined.
type Result struct {
	Stations []domain.StationRecord
	Join     domain.JoinReport
	// Duplicates lists station ids seen more than once, in order of first repeat.
	Duplicates []string
	// Warning is a *domain.JoinKeyUnresolvedError when geometry was supplied
	// but matched no station. The stations are still returned.
	Warning error
}

// Reconcile merges seeds with features. hasGeometry reports whether a
// geometry archive was part of the load, even if it yielded no features.
// Without seeds it fails with *domain.InsufficientDataError.
func Reconcile(seeds []domain.StationRecord, features []geometry.Feature, hasGeometry bool) (Result, error) {
	if len(seeds) == 0 {
		reason := "no station table supplied"
		if hasGeometry {
			reason = "a geometry archive cannot be analysed without a station table"
		}
		return Result{}, &domain.InsufficientDataError{Reason: reason}
	}

	stations, duplicates := dedupe(seeds)
	res := Result{Stations: stations, Duplicates: duplicates}
	if !hasGeometry {
		res.Join = domain.JoinReport{Strategy: domain.JoinNone, Unmatched: len(stations)}
		return res, nil
	}

	strategy := domain.JoinExact
	matched := join(stations, features, strings.TrimSpace)
	if matched == 0 {
		strategy = domain.JoinNormalized
		matched = join(stations, features, NormalizeKey)
	}
	res.Join = domain.JoinReport{Strategy: strategy, Matched: matched, Unmatched: len(stations) - matched}
	if matched == 0 {
		err := &domain.JoinKeyUnresolvedError{Stations: len(stations), Features: len(features)}
		res.Warning = err
		res.Join.Strategy = domain.JoinNone
		res.Join.Warning = err.Error()
	}
	return res, nil
}

// dedupe collapses repeated station ids. The surviving record sits where the
// id first appeared and holds the last row's values.
func dedupe(seeds []domain.StationRecord) ([]domain.StationRecord, []string) {
	pos := make(map[string]int, len(seeds))
	out := make([]domain.StationRecord, 0, len(seeds))
	var duplicates []string
	reported := make(map[string]bool)
	for _, s := range seeds {
		if i, ok := pos[s.StationID]; ok {
			out[i] = s
			if !reported[s.StationID] {
				reported[s.StationID] = true
				duplicates = append(duplicates, s.StationID)
			}
			continue
		}
		pos[s.StationID] = len(out)
		out = append(out, s)
	}
	return out, duplicates
}

// join attaches boundaries by key(id) and returns how many stations matched.
// Features without geometry never match. When several features share a key,
// the last one wins.
func join(stations []domain.StationRecord, features []geometry.Feature, key func(string) string) int {
	byKey := make(map[string]geometry.Feature, len(features))
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		byKey[key(f.StationID)] = f
	}
	matched := 0
	for i := range stations {
		f, ok := byKey[key(stations[i].StationID)]
		if !ok {
			continue
		}
		stations[i].Boundary = &domain.Boundary{Geometry: f.Geometry, Attributes: f.Attributes}
		matched++
	}
	return matched
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// NormalizeKey folds an identifier for the fallback join: diacritics are
// stripped, case is folded and runs of whitespace collapse to one space.
func NormalizeKey(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
