package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/precip-station-service/internal/crs"
	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/geometry"
	"github.com/couchcryptid/precip-station-service/internal/observability"
	"github.com/couchcryptid/precip-station-service/internal/pipeline"
	"github.com/couchcryptid/precip-station-service/internal/selection"
)

// --- mocks ---

type mockGeocoder struct {
	place string
	err   error
	calls int
}

func (m *mockGeocoder) ReverseGeocode(_ context.Context, lat, lon float64) (domain.GeocodingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.GeocodingResult{}, m.err
	}
	return domain.GeocodingResult{Lat: lat, Lon: lon, PlaceName: m.place}, nil
}

type mockPublisher struct {
	published []*domain.Dataset
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, ds *domain.Dataset) (int, error) {
	if m.err != nil {
		return 1, m.err
	}
	m.published = append(m.published, ds)
	return len(ds.Stations), nil
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

// newTestLoader passes nil interfaces through untouched; callers must not
// hand it a typed nil pointer.
func newTestLoader(geocoder domain.Geocoder, publisher pipeline.Publisher) *pipeline.Loader {
	return pipeline.NewLoader(pipeline.Options{
		Delimiter:  ';',
		DefaultCRS: crs.WGS84,
	}, geocoder, publisher, slog.Default(), newTestMetrics())
}

func csvOf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

var stationTable = csvOf(
	"Nom_Est;Latitud;Longitud;Mpio;Celda_XY;2000;2001",
	"S1;6.5;-75.5;Medellín;C1;120;130",
	"S2;6.2;-75.1;;C2;80;",
	"S3;bad;-75.1;Bello;C1;10;20",
)

func boundaryArchive(t *testing.T, ids ...string) []byte {
	t.Helper()
	features := make([]geometry.Feature, 0, len(ids))
	for i, id := range ids {
		lon, lat := -75.5+float64(i)*0.1, 6.0
		features = append(features, geometry.Feature{
			StationID: id,
			Geometry: geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
				{lon, lat}, {lon + 0.05, lat}, {lon + 0.05, lat + 0.05}, {lon, lat + 0.05}, {lon, lat},
			}}),
		})
	}
	var buf bytes.Buffer
	require.NoError(t, geometry.WriteArchive(&buf, "estaciones", features, ""))
	return buf.Bytes()
}

// --- loader ---

func TestLoader_TabularOnly(t *testing.T) {
	fixed := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { domain.SetClock(nil) })

	ds, err := newTestLoader(nil, nil).Load(context.Background(), pipeline.Upload{CSV: stationTable})
	require.NoError(t, err)

	assert.NotEmpty(t, ds.ID)
	assert.Equal(t, fixed, ds.LoadedAt)
	require.Len(t, ds.Stations, 2)
	assert.Equal(t, "S1", ds.Stations[0].StationID)
	assert.Equal(t, domain.Series{2000: 80}, ds.Stations[1].Series)
	assert.Equal(t, []int{2000, 2001}, ds.Years)
	assert.False(t, ds.HasGeometry)

	assert.Equal(t, 3, ds.Report.Tabular.TotalRows)
	assert.Equal(t, 1, ds.Report.Tabular.DroppedCount())
	assert.False(t, ds.Report.Geometry.Supplied)
	assert.Equal(t, domain.JoinNone, ds.Report.Join.Strategy)
	assert.Equal(t, domain.RegionFromSource, ds.Stations[0].RegionSource)
	assert.Empty(t, ds.Stations[1].Region)
}

func TestLoader_GeometryWithoutTable(t *testing.T) {
	_, err := newTestLoader(nil, nil).Load(context.Background(), pipeline.Upload{Archive: boundaryArchive(t, "S1")})
	require.Error(t, err)

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, pipeline.StageReconcile, stageErr.Stage)

	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "insufficient_data", domain.Kind(err))
}

func TestLoader_NoInput(t *testing.T) {
	_, err := newTestLoader(nil, nil).Load(context.Background(), pipeline.Upload{})
	var insufficient *domain.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
}

func TestLoader_TabularFailures(t *testing.T) {
	tests := []struct {
		name string
		csv  []byte
		kind string
	}{
		{
			name: "missing columns",
			csv:  csvOf("Nom_Est;Mpio;2000", "S1;Bello;10"),
			kind: "missing_columns",
		},
		{
			name: "every row dropped",
			csv:  csvOf("Nom_Est;Latitud;Longitud;2000", ";6.5;-75.5;10", "S2;;-75.5;10"),
			kind: "empty_dataset",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(nil, nil).Load(context.Background(), pipeline.Upload{CSV: tt.csv})
			require.Error(t, err)

			var stageErr *pipeline.StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, pipeline.StageTabular, stageErr.Stage)
			assert.Equal(t, tt.kind, domain.Kind(err))
		})
	}
}

func TestLoader_WithGeometry(t *testing.T) {
	up := pipeline.Upload{CSV: stationTable, Archive: boundaryArchive(t, "S1", "S9")}

	ds, err := newTestLoader(nil, nil).Load(context.Background(), up)
	require.NoError(t, err)

	assert.True(t, ds.HasGeometry)
	assert.True(t, ds.Stations[0].HasBoundary())
	assert.False(t, ds.Stations[1].HasBoundary())

	geo := ds.Report.Geometry
	assert.True(t, geo.Supplied)
	assert.Equal(t, "estaciones.shp", geo.File)
	assert.Equal(t, 2, geo.Features)
	assert.True(t, geo.AssumedCRS)
	assert.Empty(t, geo.Error)

	assert.Equal(t, domain.JoinExact, ds.Report.Join.Strategy)
	assert.Equal(t, 1, ds.Report.Join.Matched)
	assert.Equal(t, 1, ds.Report.Join.Unmatched)
}

func TestLoader_GeometryFailureDegrades(t *testing.T) {
	up := pipeline.Upload{CSV: stationTable, Archive: []byte("not a zip archive")}

	ds, err := newTestLoader(nil, nil).Load(context.Background(), up)
	require.NoError(t, err)

	assert.False(t, ds.HasGeometry)
	require.Len(t, ds.Stations, 2)
	assert.True(t, ds.Report.Geometry.Supplied)
	assert.NotEmpty(t, ds.Report.Geometry.Error)
	assert.Equal(t, "internal", ds.Report.Geometry.ErrorKind)
	assert.Equal(t, domain.JoinNone, ds.Report.Join.Strategy)
}

func TestLoader_GeometryArchiveTooLarge(t *testing.T) {
	loader := pipeline.NewLoader(pipeline.Options{MaxExtractedBytes: 32}, nil, nil, slog.Default(), newTestMetrics())
	up := pipeline.Upload{CSV: stationTable, Archive: boundaryArchive(t, "S1")}

	ds, err := loader.Load(context.Background(), up)
	require.NoError(t, err)
	assert.Equal(t, "archive_too_large", ds.Report.Geometry.ErrorKind)
}

func TestLoader_UnresolvedJoinWarns(t *testing.T) {
	up := pipeline.Upload{CSV: stationTable, Archive: boundaryArchive(t, "X1", "X2")}

	ds, err := newTestLoader(nil, nil).Load(context.Background(), up)
	require.NoError(t, err)

	assert.False(t, ds.HasGeometry)
	assert.Equal(t, domain.JoinNone, ds.Report.Join.Strategy)
	assert.NotEmpty(t, ds.Report.Join.Warning)
}

func TestLoader_DelimiterOverride(t *testing.T) {
	data := csvOf("station_id,lat,lon,2000", "S1,6.5,-75.5,12.5")

	ds, err := newTestLoader(nil, nil).Load(context.Background(), pipeline.Upload{CSV: data, Delimiter: ','})
	require.NoError(t, err)
	assert.Equal(t, ",", ds.Report.Tabular.Delimiter)
	assert.Equal(t, domain.Series{2000: 12.5}, ds.Stations[0].Series)
}

func TestLoader_GeocodesMissingRegions(t *testing.T) {
	gc := &mockGeocoder{place: "Rionegro"}

	ds, err := newTestLoader(gc, nil).Load(context.Background(), pipeline.Upload{CSV: stationTable})
	require.NoError(t, err)

	assert.Equal(t, 1, gc.calls)
	assert.Equal(t, "Rionegro", ds.Stations[1].Region)
	assert.Equal(t, domain.RegionFromGeocoder, ds.Stations[1].RegionSource)
	assert.Equal(t, "Medellín", ds.Stations[0].Region)
	assert.Equal(t, 1, ds.Report.GeocodedRegions)
}

func TestLoader_GeocoderErrorLeavesRegionEmpty(t *testing.T) {
	gc := &mockGeocoder{err: errors.New("rate limited")}

	ds, err := newTestLoader(gc, nil).Load(context.Background(), pipeline.Upload{CSV: stationTable})
	require.NoError(t, err)
	assert.Empty(t, ds.Stations[1].Region)
	assert.Zero(t, ds.Report.GeocodedRegions)
}

func TestLoader_Publishes(t *testing.T) {
	pub := &mockPublisher{}

	ds, err := newTestLoader(nil, pub).Load(context.Background(), pipeline.Upload{CSV: stationTable})
	require.NoError(t, err)
	require.Len(t, pub.published, 1)
	assert.Same(t, ds, pub.published[0])
	assert.Equal(t, 2, ds.Report.PublishedRecords)
}

func TestLoader_PublishFailureKeepsDataset(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker unavailable")}

	ds, err := newTestLoader(nil, pub).Load(context.Background(), pipeline.Upload{CSV: stationTable})
	require.NoError(t, err)
	assert.Len(t, ds.Stations, 2)
	assert.Equal(t, 1, ds.Report.PublishedRecords)
}

// --- session ---

func TestSession_CurrentBeforeLoad(t *testing.T) {
	s := pipeline.NewSession(newTestLoader(nil, nil), slog.Default(), newTestMetrics())

	_, err := s.Current()
	require.ErrorIs(t, err, pipeline.ErrNoDataset)
}

func TestSession_FailedLoadKeepsPrevious(t *testing.T) {
	s := pipeline.NewSession(newTestLoader(nil, nil), slog.Default(), newTestMetrics())
	ctx := context.Background()

	first, err := s.Load(ctx, pipeline.Upload{CSV: stationTable})
	require.NoError(t, err)

	_, err = s.Load(ctx, pipeline.Upload{CSV: csvOf("Nom_Est;2000", "S1;10")})
	require.Error(t, err)

	current, err := s.Current()
	require.NoError(t, err)
	assert.Same(t, first, current)

	second, err := s.Load(ctx, pipeline.Upload{CSV: csvOf("Nom_Est;Latitud;Longitud;2010", "Z1;6;-75;5")})
	require.NoError(t, err)
	current, err = s.Current()
	require.NoError(t, err)
	assert.Same(t, second, current)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestSession_Readiness(t *testing.T) {
	s := pipeline.NewSession(newTestLoader(nil, nil), slog.Default(), newTestMetrics())
	ctx := context.Background()
	require.NoError(t, s.CheckReadiness(ctx), "no startup load expected")

	s.ExpectInitialLoad()
	require.Error(t, s.CheckReadiness(ctx))

	_, err := s.Load(ctx, pipeline.Upload{CSV: stationTable})
	require.NoError(t, err)
	require.NoError(t, s.CheckReadiness(ctx))
}

func TestSession_Select(t *testing.T) {
	metrics := newTestMetrics()
	s := pipeline.NewSession(newTestLoader(nil, nil), slog.Default(), metrics)
	ds, err := s.Load(context.Background(), pipeline.Upload{CSV: stationTable})
	require.NoError(t, err)

	active := s.Select(ds, selection.State{
		GridCells: []string{"C1"},
		Stations:  []string{"S1", "S2"},
	})
	assert.Len(t, ds.Stations, 2)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.Selections), 0)
	require.Len(t, active.Stations, 1)
	assert.Equal(t, "S1", active.Stations[0].StationID)
	assert.Equal(t, []int{2000, 2001}, active.Years)
}

func TestReadUpload(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "estaciones.csv")
	require.NoError(t, os.WriteFile(csvPath, stationTable, 0o600))

	up, err := pipeline.ReadUpload(csvPath, "")
	require.NoError(t, err)
	assert.Equal(t, stationTable, up.CSV)
	assert.Nil(t, up.Archive)

	_, err = pipeline.ReadUpload(csvPath, filepath.Join(dir, "missing.zip"))
	require.ErrorContains(t, err, "read geometry archive")
}
