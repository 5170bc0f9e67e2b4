package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/precip-station-service/internal/crs"
	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/geometry"
	"github.com/couchcryptid/precip-station-service/internal/observability"
	"github.com/couchcryptid/precip-station-service/internal/reconcile"
	"github.com/couchcryptid/precip-station-service/internal/tabular"
)

// Load stages reported on StageError.
const (
	StageTabular   = "tabular"
	StageGeometry  = "geometry"
	StageReconcile = "reconcile"
)

// Load outcomes recorded in metrics.
const (
	outcomeSuccess = "success"
	outcomePartial = "partial"
	outcomeFailure = "failure"
)

// StageError is a load failure and the stage that raised it. The previously
// loaded dataset, if any, is unaffected.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Publisher writes the stations of a loaded dataset downstream and returns
// how many records it wrote.
type Publisher interface {
	Publish(ctx context.Context, ds *domain.Dataset) (int, error)
}

// Upload is the input of one load. Either part may be empty.
type Upload struct {
	CSV     []byte
	Archive []byte
	// Delimiter overrides the configured delimiter hint when non-zero.
	Delimiter rune
}

// Options configures how uploads are parsed.
type Options struct {
	Delimiter         rune
	Aliases           []tabular.FieldAliases
	DefaultCRS        crs.CRS
	MaxExtractedBytes int64
}

// Loader turns uploads into reconciled datasets.
type Loader struct {
	opts      Options
	enricher  *RegionEnricher
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewLoader creates a Loader. A nil geocoder disables region enrichment and
// a nil publisher disables publishing.
func NewLoader(opts Options, geocoder domain.Geocoder, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	if len(opts.Aliases) == 0 {
		opts.Aliases = tabular.DefaultAliases
	}
	return &Loader{
		opts:      opts,
		enricher:  NewRegionEnricher(geocoder, logger),
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Load parses both inputs concurrently, reconciles them and returns the new
// dataset. A tabular failure fails the load; a geometry failure degrades it
// to a dataset without boundaries and is kept in the report. Every returned
// error is a *StageError.
func (l *Loader) Load(ctx context.Context, up Upload) (*domain.Dataset, error) {
	start := time.Now()
	ds, err := l.load(ctx, up)
	l.metrics.LoadDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		l.metrics.Loads.WithLabelValues(outcomeFailure).Inc()
		l.logger.Warn("dataset load failed", "error", err, "kind", domain.Kind(err))
		return nil, err
	}

	outcome := outcomeSuccess
	if ds.Report.Geometry.Error != "" || ds.Report.Join.Warning != "" {
		outcome = outcomePartial
	}
	l.metrics.Loads.WithLabelValues(outcome).Inc()
	l.logger.Info("dataset loaded",
		"dataset_id", ds.ID,
		"stations", len(ds.Stations),
		"years", len(ds.Years),
		"dropped_rows", ds.Report.Tabular.DroppedCount(),
		"has_geometry", ds.HasGeometry,
		"join_strategy", ds.Report.Join.Strategy,
		"outcome", outcome,
		"duration", time.Since(start),
	)
	return ds, nil
}

func (l *Loader) load(ctx context.Context, up Upload) (*domain.Dataset, error) {
	hasArchive := len(up.Archive) > 0
	if len(up.CSV) == 0 {
		_, err := reconcile.Reconcile(nil, nil, hasArchive)
		return nil, &StageError{Stage: StageReconcile, Err: err}
	}

	delim := l.opts.Delimiter
	if up.Delimiter != 0 {
		delim = up.Delimiter
	}

	var (
		tab     tabular.Result
		geo     geometry.Result
		geoErr  error
		g, gctx = errgroup.WithContext(ctx)
	)
	g.Go(func() error {
		res, err := tabular.Load(up.CSV, tabular.Options{Delimiter: delim, Aliases: l.opts.Aliases})
		if err != nil {
			return &StageError{Stage: StageTabular, Err: err}
		}
		tab = res
		return nil
	})
	if hasArchive {
		g.Go(func() error {
			geo, geoErr = geometry.Load(gctx, up.Archive, geometry.Options{
				DefaultCRS:        l.opts.DefaultCRS,
				MaxExtractedBytes: l.opts.MaxExtractedBytes,
				IDAliases:         tabular.StationIDAliases(l.opts.Aliases),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &StageError{Stage: StageGeometry, Err: err}
	}

	report := domain.LoadReport{Tabular: tab.Report}
	for _, d := range tab.Report.Dropped {
		l.metrics.RowsDropped.WithLabelValues(d.Reason).Inc()
	}

	report.Geometry = l.geometryReport(hasArchive, geo, geoErr)

	res, err := reconcile.Reconcile(tab.Seeds, geo.Features, hasArchive && geoErr == nil)
	if err != nil {
		return nil, &StageError{Stage: StageReconcile, Err: err}
	}
	report.Tabular.Duplicates = res.Duplicates
	report.Join = res.Join
	l.metrics.JoinMatches.WithLabelValues(res.Join.Strategy).Add(float64(res.Join.Matched))
	if res.Warning != nil {
		l.logger.Warn("geometry did not join to any station", "error", res.Warning)
	}
	if len(res.Duplicates) > 0 {
		l.logger.Info("duplicate station ids resolved by last row", "station_ids", res.Duplicates)
	}

	report.GeocodedRegions = l.enricher.Enrich(ctx, res.Stations)

	ds := domain.NewDataset(res.Stations, report)
	l.publish(ctx, ds)
	return ds, nil
}

func (l *Loader) geometryReport(supplied bool, geo geometry.Result, err error) domain.GeometryReport {
	rep := domain.GeometryReport{Supplied: supplied}
	if !supplied {
		return rep
	}
	if err != nil {
		rep.Error = err.Error()
		rep.ErrorKind = geometryErrorKind(err)
		l.logger.Warn("geometry load failed, continuing without boundaries", "error", err, "kind", rep.ErrorKind)
		return rep
	}
	rep.File = geo.File
	rep.Features = len(geo.Features)
	rep.SourceCRS = geo.CRS
	rep.AssumedCRS = geo.AssumedCRS
	if geo.AssumedCRS {
		l.metrics.CRSAssumed.Inc()
		l.logger.Info("no .prj in archive, assumed default CRS", "crs", geo.CRS)
	}
	for _, w := range geo.Warnings {
		l.logger.Warn(w, "file", geo.File)
	}
	if geo.Skipped > 0 {
		l.logger.Warn("geometry records without station id skipped", "count", geo.Skipped)
	}
	return rep
}

func geometryErrorKind(err error) string {
	if errors.Is(err, geometry.ErrArchiveTooLarge) {
		return "archive_too_large"
	}
	return domain.Kind(err)
}

func (l *Loader) publish(ctx context.Context, ds *domain.Dataset) {
	if l.publisher == nil {
		return
	}
	n, err := l.publisher.Publish(ctx, ds)
	if err != nil {
		l.logger.Error("publish stations failed", "dataset_id", ds.ID, "error", fmt.Errorf("after %d records: %w", n, err))
	}
	ds.Report.PublishedRecords = n
	l.metrics.RecordsPublished.Add(float64(n))
}
