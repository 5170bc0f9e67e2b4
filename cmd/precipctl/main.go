// Command precipctl works with station tables and boundary archives offline:
// it validates inputs, prints statistics, exports GeoJSON and generates
// sample data.
//
// Usage:
//
//	precipctl validate --csv estaciones.csv --archive estaciones.zip
//	precipctl stats --csv estaciones.csv --all-stations --from 2000 --to 2010
//	precipctl geojson --csv estaciones.csv --archive estaciones.zip --out estaciones.geojson
//	precipctl sample --out-dir data/
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/couchcryptid/precip-station-service/internal/crs"
	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/observability"
	"github.com/couchcryptid/precip-station-service/internal/pipeline"
	"github.com/couchcryptid/precip-station-service/internal/tabular"
)

// cli is the command tree.
type cli struct {
	LogLevel string `name:"log-level" default:"warn" enum:"debug,info,warn,error" help:"Log level for diagnostics on stderr."`

	Validate validateCmd `cmd:"" help:"Check a station table and boundary archive, phase by phase."`
	Stats    statsCmd    `cmd:"" help:"Print per-station and aggregate statistics for a selection."`
	GeoJSON  geojsonCmd  `cmd:"" name:"geojson" help:"Export stations and their boundaries as a GeoJSON FeatureCollection."`
	Sample   sampleCmd   `cmd:"" help:"Generate a synthetic station table and boundary archive."`
}

// runContext is bound into every command's Run method. Metrics are built
// once per process; every load shares them.
type runContext struct {
	ctx     context.Context
	out     io.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// inputFlags are shared by the commands that read a dataset.
type inputFlags struct {
	CSV       string `name:"csv" required:"" type:"existingfile" help:"Station table (delimited text)."`
	Archive   string `name:"archive" type:"existingfile" help:"Zipped shapefile with station boundaries."`
	Delimiter string `name:"delimiter" default:";" help:"Preferred column delimiter; \\t for tab."`
	SourceCRS string `name:"source-crs" default:"EPSG:9377" help:"CRS assumed when the archive has no .prj."`
}

func (f inputFlags) delimiter() (rune, error) {
	if f.Delimiter == `\t` {
		return '\t', nil
	}
	r := []rune(f.Delimiter)
	if len(r) != 1 {
		return 0, fmt.Errorf("--delimiter must be a single character, got %q", f.Delimiter)
	}
	return r[0], nil
}

// load runs the full load pipeline without geocoding or publishing.
func (f inputFlags) load(rc *runContext) (*domain.Dataset, error) {
	delim, err := f.delimiter()
	if err != nil {
		return nil, err
	}
	source, err := crs.Lookup(f.SourceCRS)
	if err != nil {
		return nil, fmt.Errorf("--source-crs: %w", err)
	}
	up, err := pipeline.ReadUpload(f.CSV, f.Archive)
	if err != nil {
		return nil, err
	}
	loader := pipeline.NewLoader(pipeline.Options{
		Delimiter:  delim,
		Aliases:    tabular.DefaultAliases,
		DefaultCRS: source,
	}, nil, nil, rc.logger, rc.metrics)
	return loader.Load(rc.ctx, up)
}

func main() {
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("precipctl"),
		kong.Description("Offline tools for precipitation station datasets."),
		kong.UsageOnError(),
	)
	rc := &runContext{
		ctx:     context.Background(),
		out:     os.Stdout,
		logger:  observability.NewCLILogger(os.Stderr, c.LogLevel),
		metrics: observability.NewMetrics(),
	}
	kctx.FatalIfErrorf(kctx.Run(rc))
}
