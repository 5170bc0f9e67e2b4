// Package tabular parses the station CSV into station seeds: one record per
// valid row, with coordinates checked and year columns collected into a series.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/couchcryptid/precip-station-service/internal/domain"
)

// DefaultDelimiter is the separator used by the station exports.
const DefaultDelimiter = ';'

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// candidateDelimiters are tried after the configured one.
var candidateDelimiters = []rune{';', ',', '\t'}

// Options configures a load. The zero value uses DefaultDelimiter and DefaultAliases.
type Options struct {
	Delimiter rune
	Aliases   []FieldAliases
}

// Result is a successful tabular load. Seeds keep source order and may
// repeat a station id; reconciliation resolves duplicates.
type Result struct {
	Seeds  []domain.StationRecord
	Report domain.TabularReport
}

// Load parses a station table. Rows with a missing id or with missing,
// non-numeric or out-of-range coordinates are excluded and tallied in the
// report. It fails with *domain.MissingColumnsError when a required column
// cannot be resolved and *domain.EmptyDatasetError when no row survives.
func Load(data []byte, opts Options) (Result, error) {
	if opts.Delimiter == 0 {
		opts.Delimiter = DefaultDelimiter
	}
	if len(opts.Aliases) == 0 {
		opts.Aliases = DefaultAliases
	}

	text, encoding, err := decode(data)
	if err != nil {
		return Result{}, err
	}

	rows, delim, err := readDelimited(text, opts.Delimiter)
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, &domain.EmptyDatasetError{}
	}

	header := rows[0].fields
	report := domain.TabularReport{
		Delimiter: string(delim),
		Encoding:  encoding,
		Columns:   trimAll(header),
		TotalRows: len(rows) - 1,
	}

	cols, missing := resolveColumns(header, opts.Aliases)
	if len(missing) > 0 {
		return Result{Report: report}, &domain.MissingColumnsError{Columns: missing}
	}
	years := yearColumns(header, cols)
	report.YearColumns = len(years)

	seeds := make([]domain.StationRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		seed, reason, rejected := parseRow(row.fields, cols, years)
		report.RejectedValues += rejected
		if reason != "" {
			report.Dropped = append(report.Dropped, domain.DroppedRow{
				Line:      row.line,
				StationID: seed.StationID,
				Reason:    reason,
			})
			continue
		}
		seeds = append(seeds, seed)
	}
	report.KeptRows = len(seeds)

	if len(seeds) == 0 {
		return Result{Report: report}, &domain.EmptyDatasetError{Dropped: len(report.Dropped)}
	}
	return Result{Seeds: seeds, Report: report}, nil
}

// decode returns the input as UTF-8, falling back to ISO-8859-1 when the
// bytes are not valid UTF-8.
func decode(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", fmt.Errorf("decode latin-1: %w", err)
	}
	return string(out), "latin-1", nil
}

type csvRow struct {
	line   int
	fields []string
}

// readDelimited parses text with the preferred delimiter, then each other
// candidate, and keeps the first parse whose header has more than one column.
// When no candidate splits the header, the preferred single-column parse is
// returned so column resolution can report what is missing.
func readDelimited(text string, preferred rune) ([]csvRow, rune, error) {
	delims := []rune{preferred}
	for _, d := range candidateDelimiters {
		if d != preferred {
			delims = append(delims, d)
		}
	}

	var (
		fallback    []csvRow
		hasFallback bool
		firstErr    error
	)
	for _, d := range delims {
		rows, err := readAll(text, d)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(rows) > 0 && len(rows[0].fields) > 1 {
			return rows, d, nil
		}
		if !hasFallback && d == preferred {
			fallback, hasFallback = rows, true
		}
	}
	if hasFallback {
		return fallback, preferred, nil
	}
	return nil, preferred, fmt.Errorf("parse delimited text: %w", firstErr)
}

func readAll(text string, delim rune) ([]csvRow, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows []csvRow
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := r.FieldPos(0)
		if isBlank(rec) {
			continue
		}
		rows = append(rows, csvRow{line: line, fields: rec})
	}
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

type yearColumn struct {
	index int
	year  int
}

// yearColumns returns the unclaimed headers made only of ASCII digits.
func yearColumns(header []string, cols map[Field]int) []yearColumn {
	claimed := make(map[int]bool, len(cols))
	for _, idx := range cols {
		claimed[idx] = true
	}
	var years []yearColumn
	for i, h := range header {
		if claimed[i] {
			continue
		}
		h = strings.TrimSpace(h)
		if !isDigits(h) {
			continue
		}
		y, err := strconv.Atoi(h)
		if err != nil {
			continue
		}
		years = append(years, yearColumn{index: i, year: y})
	}
	return years
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseRow builds a seed from one row. A non-empty reason means the row is
// excluded. rejected counts year cells that held an unusable value.
func parseRow(fields []string, cols map[Field]int, years []yearColumn) (domain.StationRecord, string, int) {
	cell := func(f Field) string {
		idx, ok := cols[f]
		if !ok || idx >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[idx])
	}

	seed := domain.StationRecord{StationID: cell(FieldStationID)}
	if seed.StationID == "" {
		return seed, domain.DropMissingStationID, 0
	}

	lat, okLat := parseNumber(cell(FieldLatitude))
	lon, okLon := parseNumber(cell(FieldLongitude))
	if !okLat || !okLon {
		return seed, domain.DropMissingCoordinate, 0
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return seed, domain.DropOutOfRange, 0
	}
	seed.Latitude = lat
	seed.Longitude = lon
	seed.Region = cell(FieldRegion)
	seed.SubRegion = cell(FieldSubRegion)
	seed.GridCell = cell(FieldGridCell)
	seed.StationCode = cell(FieldStationCode)
	if v, ok := parseNumber(cell(FieldCoverage)); ok {
		seed.Coverage = &v
	}

	rejected := 0
	seed.Series = make(domain.Series, len(years))
	for _, yc := range years {
		if yc.index >= len(fields) {
			continue
		}
		raw := strings.TrimSpace(fields[yc.index])
		if raw == "" {
			continue
		}
		v, ok := parseNumber(raw)
		if !ok || v < 0 {
			rejected++
			continue
		}
		seed.Series[yc.year] = v
	}
	return seed, "", rejected
}

// parseNumber parses a decimal number, accepting a decimal comma when the
// value has no point. Non-finite values are treated as missing.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
