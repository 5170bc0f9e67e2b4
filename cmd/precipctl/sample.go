package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/couchcryptid/precip-station-service/internal/crs"
	"github.com/couchcryptid/precip-station-service/internal/sample"
)

type sampleCmd struct {
	OutDir      string  `name:"out-dir" default:"data" help:"Directory for estaciones.csv and estaciones.zip."`
	Stations    int     `name:"stations" default:"12" help:"Number of stations."`
	FromYear    int     `name:"from-year" default:"1990" help:"First year column."`
	ToYear      int     `name:"to-year" default:"2020" help:"Last year column."`
	Seed        uint64  `name:"seed" default:"1" help:"Random seed; the same seed gives the same files."`
	MissingRate float64 `name:"missing-rate" default:"0.1" help:"Probability that a station-year is empty."`
	CRS         string  `name:"crs" default:"EPSG:9377" help:"CRS of the boundary archive."`
	Delimiter   string  `name:"delimiter" default:";" help:"Column delimiter of the station table."`
}

func (c *sampleCmd) Run(rc *runContext) error {
	target, err := crs.Lookup(c.CRS)
	if err != nil {
		return fmt.Errorf("--crs: %w", err)
	}
	delim, err := inputFlags{Delimiter: c.Delimiter}.delimiter()
	if err != nil {
		return err
	}

	network := sample.Generate(sample.Options{
		Stations:    c.Stations,
		FirstYear:   c.FromYear,
		LastYear:    c.ToYear,
		Seed:        c.Seed,
		MissingRate: c.MissingRate,
	})

	table, err := network.CSV(delim)
	if err != nil {
		return fmt.Errorf("build station table: %w", err)
	}
	// Only the default CRS ships a .prj; others exercise the assumed-CRS path.
	prj := ""
	if target.Code == crs.DefaultSource {
		prj = sample.OrigenNacionalPRJ
	}
	archive, err := network.Archive(target, prj)
	if err != nil {
		return fmt.Errorf("build boundary archive: %w", err)
	}

	if err := os.MkdirAll(c.OutDir, 0o755); err != nil { //nolint:gosec // output directory
		return fmt.Errorf("create %s: %w", c.OutDir, err)
	}
	csvPath := filepath.Join(c.OutDir, "estaciones.csv")
	zipPath := filepath.Join(c.OutDir, "estaciones.zip")
	if err := os.WriteFile(csvPath, table, 0o644); err != nil { //nolint:gosec // sample data
		return fmt.Errorf("write %s: %w", csvPath, err)
	}
	if err := os.WriteFile(zipPath, archive, 0o644); err != nil { //nolint:gosec // sample data
		return fmt.Errorf("write %s: %w", zipPath, err)
	}

	fmt.Fprintf(rc.out, "Generated %d stations over %d years\n", len(network.Stations), len(network.Years))
	fmt.Fprintf(rc.out, "  %s\n  %s\n", csvPath, zipPath)
	return nil
}
