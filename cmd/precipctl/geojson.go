package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/couchcryptid/precip-station-service/internal/mapview"
)

var errNoGeometry = errors.New("dataset has no station boundaries; pass --archive")

type geojsonCmd struct {
	inputFlags `embed:""`
	Out        string `name:"out" short:"o" help:"Output file. Defaults to stdout."`
}

func (c *geojsonCmd) Run(rc *runContext) error {
	ds, err := c.load(rc)
	if err != nil {
		return err
	}
	if !ds.HasGeometry {
		return errNoGeometry
	}
	data, err := json.Marshal(mapview.FeatureCollection(ds.Stations))
	if err != nil {
		return fmt.Errorf("encode feature collection: %w", err)
	}

	if c.Out == "" {
		_, err = fmt.Fprintln(rc.out, string(data))
		return err
	}
	if err := os.WriteFile(c.Out, data, 0o644); err != nil { //nolint:gosec // exported data, not secrets
		return fmt.Errorf("write %s: %w", c.Out, err)
	}
	rc.logger.Info("wrote feature collection", "path", c.Out, "features", len(ds.Stations))
	return nil
}
