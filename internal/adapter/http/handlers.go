package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/mapview"
	"github.com/couchcryptid/precip-station-service/internal/pipeline"
	"github.com/couchcryptid/precip-station-service/internal/selection"
	"github.com/couchcryptid/precip-station-service/internal/stats"
)

// multipartMemory is the part of an upload kept in memory before spilling to disk.
const multipartMemory = 8 << 20

type datasetSummary struct {
	*domain.Dataset
	StationCount int `json:"station_count"`
}

func summarize(ds *domain.Dataset) datasetSummary {
	return datasetSummary{Dataset: ds, StationCount: len(ds.Stations)}
}

type loadError struct {
	Stage   string   `json:"stage"`
	Kind    string   `json:"kind"`
	Error   string   `json:"error"`
	Columns []string `json:"columns,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck // temp file cleanup

	var (
		up  pipeline.Upload
		err error
	)
	if up.CSV, err = formFile(r, "csv"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if up.Archive, err = formFile(r, "archive"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if d := r.FormValue("delimiter"); d != "" {
		if up.Delimiter, err = parseDelimiter(d); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ds, err := s.datasets.Load(r.Context(), up)
	if err != nil {
		var stageErr *pipeline.StageError
		if !errors.As(err, &stageErr) {
			s.logger.Error("dataset upload failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		body := loadError{Stage: stageErr.Stage, Kind: domain.Kind(err), Error: stageErr.Err.Error()}
		var columns *domain.MissingColumnsError
		if errors.As(err, &columns) {
			body.Columns = columns.Columns
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
		return
	}
	writeJSON(w, http.StatusCreated, summarize(ds))
}

// formFile returns the contents of an uploaded file, or nil when the field is absent.
func formFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s upload: %w", field, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s upload: %w", field, err)
	}
	return data, nil
}

func parseDelimiter(v string) (rune, error) {
	if v == `\t` || v == "tab" {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(v)
	if size != len(v) || r == utf8.RuneError || r == '"' || r == '\n' || r == '\r' {
		return 0, fmt.Errorf("invalid delimiter %q: must be a single character", v)
	}
	return r, nil
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	ds, err := s.datasets.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summarize(ds))
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	ds, err := s.datasets.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	st, err := parseState(r.URL.Query(), ds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, selection.Options(ds.Stations, st))
}

type stationRow struct {
	domain.StationRecord
	HasBoundary bool `json:"has_boundary"`
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	_, active, ok := s.selectFromQuery(w, r)
	if !ok {
		return
	}
	rows := make([]stationRow, 0, len(active.Stations))
	for _, st := range active.Stations {
		series := make(domain.Series, len(active.Years))
		for _, y := range active.Years {
			if v, ok := st.Series[y]; ok {
				series[y] = v
			}
		}
		st.Series = series
		rows = append(rows, stationRow{StationRecord: st, HasBoundary: st.HasBoundary()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"years":    nonNil(active.Years),
		"stations": rows,
	})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	_, active, ok := s.selectFromQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"years":        nonNil(active.Years),
		"observations": nonNil(stats.LongForm(active)),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	_, active, ok := s.selectFromQuery(w, r)
	if !ok {
		return
	}
	report := stats.Compute(active)
	report.Years = nonNil(report.Years)
	writeJSON(w, http.StatusOK, map[string]any{
		"stations":        report.Stations,
		"aggregate":       report.Aggregate,
		"aggregate_label": stats.AggregateLabel,
		"years":           report.Years,
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "year is required and must be an integer")
		return
	}
	order := q.Get("order")
	if order == "" {
		order = stats.OrderDesc
	}
	if order != stats.OrderAsc && order != stats.OrderDesc {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("order must be %q or %q", stats.OrderAsc, stats.OrderDesc))
		return
	}

	_, active, ok := s.selectFromQuery(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"year":    year,
		"order":   order,
		"ranking": nonNil(stats.Compare(active, year, order)),
	})
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("center")
	if mode == "" {
		mode = mapview.CenterCountry
	}
	if !mapview.ValidMode(mode) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("center must be %q or %q", mapview.CenterCountry, mapview.CenterStations))
		return
	}

	ds, active, ok := s.selectFromQuery(w, r)
	if !ok {
		return
	}
	if !ds.HasGeometry {
		writeError(w, http.StatusConflict, "the active dataset has no geometry")
		return
	}
	view, err := mapview.Frame(active.Stations, mode)
	if err != nil {
		s.logger.Error("map frame failed", "dataset_id", ds.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		View     mapview.View               `json:"view"`
		Features *geojson.FeatureCollection `json:"features"`
	}{view, mapview.FeatureCollection(active.Stations)})
}

// selectFromQuery applies the selection named by the query string to one
// snapshot of the active dataset, writing the error response itself when it
// returns false.
func (s *Server) selectFromQuery(w http.ResponseWriter, r *http.Request) (*domain.Dataset, selection.Active, bool) {
	ds, err := s.datasets.Current()
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, selection.Active{}, false
	}
	st, err := parseState(r.URL.Query(), ds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, selection.Active{}, false
	}
	return ds, s.datasets.Select(ds, st), true
}

// parseState reads region, grid_cell and station (each repeatable),
// all_stations, from and to. A missing year bound is taken from the
// dataset's years.
func parseState(q url.Values, ds *domain.Dataset) (selection.State, error) {
	st := selection.State{
		Regions:   q["region"],
		GridCells: q["grid_cell"],
		Stations:  q["station"],
	}
	if v := q.Get("all_stations"); v != "" {
		all, err := strconv.ParseBool(v)
		if err != nil {
			return st, fmt.Errorf("all_stations: %w", err)
		}
		if all {
			st.Stations = selection.All(ds.Stations).Stations
		}
	}

	from, err := yearParam(q, "from")
	if err != nil {
		return st, err
	}
	to, err := yearParam(q, "to")
	if err != nil {
		return st, err
	}
	st.Years = selection.OpenRange(from, to, ds.Years)
	return st, nil
}

func yearParam(q url.Values, name string) (*int, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	year, err := strconv.Atoi(v)
	if err != nil || year < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer year", name)
	}
	return &year, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
