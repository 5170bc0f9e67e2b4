// Package geometry reads station boundaries from a zipped ESRI shapefile and
// writes them back out. Geometry is returned in WGS84 longitude/latitude
// whatever the source projection.
package geometry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/couchcryptid/precip-station-service/internal/crs"
	"github.com/couchcryptid/precip-station-service/internal/domain"
)

// DefaultMaxExtractedBytes bounds the extracted archive when Options leaves it unset.
const DefaultMaxExtractedBytes int64 = 256 << 20

// DefaultIDAliases are the attribute names tried for the station id.
var DefaultIDAliases = []string{"Nom_Est", "station_id", "station", "estacion", "nombre_estacion"}

// Options configures a geometry load.
type Options struct {
	// DefaultCRS applies when the archive has no .prj. The zero value is WGS84.
	DefaultCRS        crs.CRS
	MaxExtractedBytes int64
	IDAliases         []string
}

// Feature is one shapefile record keyed by station id.
type Feature struct {
	StationID  string
	Geometry   geom.T
	Attributes map[string]string
}

// Result is a successful geometry load.
type Result struct {
	Features   []Feature
	File       string
	CRS        string
	AssumedCRS bool
	// Skipped counts records with an empty station id.
	Skipped  int
	Warnings []string
}

// Load extracts a zipped shapefile set, reads the first .shp in archive
// order and reprojects every record to WGS84. The extraction directory is
// removed before Load returns.
func Load(ctx context.Context, data []byte, opts Options) (Result, error) {
	if opts.MaxExtractedBytes <= 0 {
		opts.MaxExtractedBytes = DefaultMaxExtractedBytes
	}
	if len(opts.IDAliases) == 0 {
		opts.IDAliases = DefaultIDAliases
	}

	dir, err := os.MkdirTemp("", "precip-shp-*")
	if err != nil {
		return Result{}, fmt.Errorf("create extraction directory: %w", err)
	}
	defer os.RemoveAll(dir)

	paths, err := extractArchive(data, dir, opts.MaxExtractedBytes)
	if err != nil {
		return Result{}, err
	}

	shpPath := ""
	for _, p := range paths {
		if filepath.Ext(p) == ".shp" {
			shpPath = p
			break
		}
	}
	if shpPath == "" {
		return Result{}, &domain.NoGeometryFileError{Entries: len(paths)}
	}
	if err := alignCompanions(paths, shpPath); err != nil {
		return Result{}, err
	}

	res := Result{File: filepath.Base(shpPath)}
	source, assumed, err := sourceCRS(shpPath, opts.DefaultCRS)
	if err != nil {
		return Result{}, err
	}
	res.CRS = source.String()
	res.AssumedCRS = assumed

	features, skipped, err := readShapefile(ctx, shpPath, opts.IDAliases, attributeDecoder(shpPath))
	if err != nil {
		return Result{}, err
	}
	res.Skipped = skipped

	if assumed && !source.IsGeographic() && looksGeographic(features) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"no .prj found and %s was assumed, but coordinates look like degrees", source))
	}

	for i := range features {
		g, err := source.ToWGS84(features[i].Geometry)
		if err != nil {
			return Result{}, fmt.Errorf("reproject %q: %w", features[i].StationID, err)
		}
		features[i].Geometry = g
	}
	res.Features = features
	return res, nil
}

// alignCompanions renames sibling files whose base name differs from the
// .shp only by case, so go-shp can open them.
func alignCompanions(paths []string, shpPath string) error {
	base := strings.TrimSuffix(shpPath, ".shp")
	for _, p := range paths {
		ext := filepath.Ext(p)
		if ext == ".shp" || !shapefileExts[ext] {
			continue
		}
		want := base + ext
		if p == want || !strings.EqualFold(strings.TrimSuffix(p, ext), base) {
			continue
		}
		if _, err := os.Stat(want); err == nil {
			continue
		}
		if err := os.Rename(p, want); err != nil {
			return fmt.Errorf("align %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

func sourceCRS(shpPath string, fallback crs.CRS) (crs.CRS, bool, error) {
	raw, err := os.ReadFile(strings.TrimSuffix(shpPath, ".shp") + ".prj")
	if errors.Is(err, os.ErrNotExist) {
		return fallback, true, nil
	}
	if err != nil {
		return crs.CRS{}, false, fmt.Errorf("read .prj: %w", err)
	}
	c, err := crs.ParseWKT(string(raw))
	if err != nil {
		return crs.CRS{}, false, err
	}
	return c, false, nil
}

// attributeDecoder picks the DBF text encoding from the .cpg file. Without
// one, values that are not valid UTF-8 are read as Latin-1.
func attributeDecoder(shpPath string) func(string) string {
	var enc encoding.Encoding
	raw, err := os.ReadFile(strings.TrimSuffix(shpPath, ".shp") + ".cpg")
	if err == nil {
		cp := strings.ToUpper(strings.TrimSpace(string(raw)))
		switch {
		case strings.Contains(cp, "UTF"):
			return func(s string) string { return s }
		case strings.Contains(cp, "1252"):
			enc = charmap.Windows1252
		case strings.Contains(cp, "8859"), strings.Contains(cp, "LATIN"):
			enc = charmap.ISO8859_1
		}
	}
	return func(s string) string {
		if enc == nil && utf8.ValidString(s) {
			return s
		}
		e := enc
		if e == nil {
			e = charmap.ISO8859_1
		}
		out, err := e.NewDecoder().String(s)
		if err != nil {
			return s
		}
		return out
	}
}

func readShapefile(ctx context.Context, path string, aliases []string, decode func(string) string) ([]Feature, int, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open shapefile: %w", err)
	}
	defer r.Close()

	fields := r.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	idIdx := idField(names, aliases)
	if idIdx < 0 {
		return nil, 0, &domain.MissingAttributeError{Aliases: aliases}
	}

	var (
		features []Feature
		skipped  int
	)
	for r.Next() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		row, shape := r.Shape()
		g, err := toGeom(shape)
		if err != nil {
			return nil, 0, fmt.Errorf("record %d: %w", row, err)
		}
		attrs := make(map[string]string, len(names))
		for i, name := range names {
			attrs[name] = decode(strings.TrimRight(r.ReadAttribute(row, i), "\x00 "))
		}
		id := strings.TrimSpace(attrs[names[idIdx]])
		if id == "" {
			skipped++
			continue
		}
		features = append(features, Feature{StationID: id, Geometry: g, Attributes: attrs})
	}
	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("read shapefile: %w", err)
	}
	if len(features) == 0 && skipped > 0 {
		return nil, 0, &domain.MissingAttributeError{Field: names[idIdx]}
	}
	return features, skipped, nil
}

// idField returns the index of the first alias, in alias order, present in names.
func idField(names, aliases []string) int {
	for _, a := range aliases {
		for i, n := range names {
			if strings.EqualFold(strings.TrimSpace(n), a) {
				return i
			}
		}
	}
	return -1
}

// looksGeographic reports whether every coordinate of the first geometry
// fits in the longitude/latitude range.
func looksGeographic(features []Feature) bool {
	for _, f := range features {
		if f.Geometry == nil {
			continue
		}
		flat := f.Geometry.FlatCoords()
		stride := f.Geometry.Stride()
		if len(flat) == 0 {
			continue
		}
		for i := 0; i+1 < len(flat); i += stride {
			if flat[i] < -180 || flat[i] > 180 || flat[i+1] < -90 || flat[i+1] > 90 {
				return false
			}
		}
		return true
	}
	return false
}
