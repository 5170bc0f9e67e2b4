package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/couchcryptid/precip-station-service/internal/domain"
	"github.com/couchcryptid/precip-station-service/internal/selection"
	"github.com/couchcryptid/precip-station-service/internal/stats"
)

var errEmptySelection = errors.New("no station matches the selection")

type statsCmd struct {
	inputFlags     `embed:""`
	selectionFlags `embed:""`
	JSON           bool `name:"json" help:"Write the report as JSON instead of a table."`
}

// selectionFlags mirror the filter cascade. From and To are zero when unset.
type selectionFlags struct {
	Region      []string `name:"region" help:"Keep stations in these regions."`
	GridCell    []string `name:"grid-cell" help:"Keep stations in these grid cells."`
	Station     []string `name:"station" help:"Select these stations."`
	AllStations bool     `name:"all-stations" help:"Select every station left by --region and --grid-cell."`
	From        int      `name:"from" help:"First year, inclusive."`
	To          int      `name:"to" help:"Last year, inclusive."`
}

func (f selectionFlags) state(ds *domain.Dataset) selection.State {
	st := selection.State{
		Regions:   f.Region,
		GridCells: f.GridCell,
		Stations:  f.Station,
	}
	if f.AllStations {
		st.Stations = selection.Options(ds.Stations, st).Stations
	}
	var from, to *int
	if f.From != 0 {
		from = &f.From
	}
	if f.To != 0 {
		to = &f.To
	}
	st.Years = selection.OpenRange(from, to, ds.Years)
	return st
}

func (c *statsCmd) Run(rc *runContext) error {
	ds, err := c.load(rc)
	if err != nil {
		return err
	}
	active := selection.Apply(ds.Stations, c.state(ds))
	if active.Empty() {
		return errEmptySelection
	}
	report := stats.Compute(active)
	if c.JSON {
		enc := json.NewEncoder(rc.out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeStatsTable(rc.out, report)
}

func writeStatsTable(w io.Writer, r stats.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATION\tREGION\tYEARS\tMAX (YEAR)\tMIN (YEAR)\tMEAN\tSTD DEV")
	for _, s := range r.Stations {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.StationID, s.Region, summaryColumns(s.Summary))
	}
	fmt.Fprintf(tw, "%s\t\t%s\n", stats.AggregateLabel, summaryColumns(r.Aggregate))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(r.Years) > 0 {
		fmt.Fprintf(w, "\nYears %d-%d\n", r.Years[0], r.Years[len(r.Years)-1])
	}
	return nil
}

func summaryColumns(s *stats.Summary) string {
	if s == nil {
		return "0\t-\t-\t-\t-"
	}
	std := "-"
	if s.StdDev != nil {
		std = strconv.FormatFloat(*s.StdDev, 'f', 2, 64)
	}
	return fmt.Sprintf("%d\t%.2f (%d)\t%.2f (%d)\t%.2f\t%s",
		s.Count, s.Max.Value, s.Max.Year, s.Min.Value, s.Min.Year, s.Mean, std)
}
