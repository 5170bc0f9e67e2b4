package geometry

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
)

// IDField is the attribute name WriteArchive stores the station id under.
const IDField = "Nom_Est"

const attributeSize = 80

// WriteArchive writes features as a zipped shapefile set named name.shp,
// name.shx, name.dbf and, when prj is not empty, name.prj. Geometry is
// written as given; prj should describe its coordinate system. All features
// must be points or all (multi)polygons.
func WriteArchive(w io.Writer, name string, features []Feature, prj string) error {
	if len(features) == 0 {
		return errors.New("write archive: no features")
	}
	shapeType, err := archiveShapeType(features)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "precip-shp-out-*")
	if err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	defer os.RemoveAll(dir)

	base := filepath.Join(dir, name)
	if err := writeShapefile(base, shapeType, features); err != nil {
		return err
	}
	files := []string{base + ".shp", base + ".shx", base + ".dbf"}
	if prj != "" {
		if err := os.WriteFile(base+".prj", []byte(prj), 0o600); err != nil {
			return fmt.Errorf("write .prj: %w", err)
		}
		files = append(files, base+".prj")
	}

	zw := zip.NewWriter(w)
	for _, f := range files {
		if err := addToZip(zw, f); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func archiveShapeType(features []Feature) (shp.ShapeType, error) {
	var t shp.ShapeType
	for _, f := range features {
		var ft shp.ShapeType
		switch f.Geometry.(type) {
		case *geom.Point:
			ft = shp.POINT
		case *geom.Polygon, *geom.MultiPolygon:
			ft = shp.POLYGON
		default:
			return 0, fmt.Errorf("write archive: station %q: unsupported geometry %T", f.StationID, f.Geometry)
		}
		if t != shp.NULL && ft != t {
			return 0, errors.New("write archive: features mix points and polygons")
		}
		t = ft
	}
	return t, nil
}

func writeShapefile(base string, shapeType shp.ShapeType, features []Feature) error {
	sw, err := shp.Create(base+".shp", shapeType)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}

	names := attributeNames(features)
	fields := make([]shp.Field, len(names))
	for i, n := range names {
		fields[i] = shp.StringField(n, attributeSize)
	}
	if err := sw.SetFields(fields); err != nil {
		sw.Close()
		return fmt.Errorf("set dbf fields: %w", err)
	}

	for _, f := range features {
		shape, err := toShape(f.Geometry)
		if err != nil {
			sw.Close()
			return err
		}
		row := int(sw.Write(shape))
		for i, n := range names {
			v := f.Attributes[n]
			if n == IDField {
				v = f.StationID
			}
			if err := sw.WriteAttribute(row, i, v); err != nil {
				sw.Close()
				return fmt.Errorf("station %q attribute %s: %w", f.StationID, n, err)
			}
		}
	}
	sw.Close()

	// go-shp names the table "<base>dbf".
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return fmt.Errorf("place dbf: %w", err)
	}
	return nil
}

// attributeNames is IDField followed by every other attribute key, sorted.
func attributeNames(features []Feature) []string {
	seen := map[string]bool{IDField: true}
	var rest []string
	for _, f := range features {
		for k := range f.Attributes {
			if !seen[k] {
				seen[k] = true
				rest = append(rest, k)
			}
		}
	}
	slices.Sort(rest)
	return append([]string{IDField}, rest...)
}

func addToZip(zw *zip.Writer, path string) error {
	in, err := os.Open(path) //nolint:gosec // path is built inside the output directory
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer in.Close()

	out, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("add %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("add %s: %w", filepath.Base(path), err)
	}
	return nil
}
