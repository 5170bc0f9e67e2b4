// Package crs converts station geometry from the coordinate reference systems
// found in Colombian shapefile exports to WGS84 longitude/latitude.
//
// Supported systems are a small registry of EPSG codes plus any Transverse
// Mercator definition read from a .prj file. Geographic systems on the
// MAGNA-SIRGAS, SIRGAS and WGS84 datums are treated as equal, which holds to
// within a few centimetres.
package crs

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"

	"github.com/couchcryptid/precip-station-service/internal/domain"
)

// DefaultSource is the system assumed for shapefiles without a .prj:
// MAGNA-SIRGAS / Origen-Nacional, Colombia's national projected CRS.
const DefaultSource = "EPSG:9377"

type projection interface {
	forward(lon, lat float64) (x, y float64)
	inverse(x, y float64) (lon, lat float64)
}

// CRS is a coordinate reference system that can be converted to and from WGS84.
// The zero value is WGS84.
type CRS struct {
	Code string
	Name string
	proj projection
}

// WGS84 is the canonical output system.
var WGS84 = CRS{Code: "EPSG:4326", Name: "WGS 84", proj: geographic{}}

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (c CRS) IsGeographic() bool {
	if c.proj == nil {
		return true
	}
	_, ok := c.proj.(geographic)
	return ok
}

// String returns the EPSG code, or the name for systems read from WKT without one.
func (c CRS) String() string {
	if c.Code != "" {
		return c.Code
	}
	if c.Name != "" {
		return c.Name
	}
	return WGS84.Code
}

func (c CRS) projection() projection {
	if c.proj == nil {
		return geographic{}
	}
	return c.proj
}

// Unproject converts a coordinate in this system to WGS84 longitude/latitude.
func (c CRS) Unproject(x, y float64) (lon, lat float64) {
	return c.projection().inverse(x, y)
}

// Project converts WGS84 longitude/latitude to this system.
func (c CRS) Project(lon, lat float64) (x, y float64) {
	return c.projection().forward(lon, lat)
}

// ToWGS84 returns a copy of g with every coordinate converted to WGS84.
// Extra dimensions (Z, M) are preserved. A nil geometry stays nil.
func (c CRS) ToWGS84(g geom.T) (geom.T, error) {
	return transform(g, c.projection().inverse)
}

// FromWGS84 returns a copy of g with every WGS84 coordinate converted to this system.
func (c CRS) FromWGS84(g geom.T) (geom.T, error) {
	return transform(g, c.projection().forward)
}

func transform(g geom.T, fn func(a, b float64) (float64, float64)) (geom.T, error) {
	if g == nil {
		return nil, nil //nolint:nilnil // absent geometry is not an error
	}
	out, err := cloneGeometry(g)
	if err != nil {
		return nil, err
	}
	flat := out.FlatCoords()
	stride := out.Stride()
	for i := 0; i+1 < len(flat); i += stride {
		x, y := fn(flat[i], flat[i+1])
		if !finite(x) || !finite(y) {
			return nil, &domain.UnsupportedCRSError{
				Detail: fmt.Sprintf("coordinate (%g, %g) has no finite position in the target system", flat[i], flat[i+1]),
			}
		}
		flat[i], flat[i+1] = x, y
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func cloneGeometry(g geom.T) (geom.T, error) {
	switch g := g.(type) {
	case *geom.Point:
		return g.Clone(), nil
	case *geom.MultiPoint:
		return g.Clone(), nil
	case *geom.LineString:
		return g.Clone(), nil
	case *geom.MultiLineString:
		return g.Clone(), nil
	case *geom.LinearRing:
		return g.Clone(), nil
	case *geom.Polygon:
		return g.Clone(), nil
	case *geom.MultiPolygon:
		return g.Clone(), nil
	default:
		return nil, fmt.Errorf("reproject: unsupported geometry type %T", g)
	}
}

// Lookup resolves an EPSG code written as "EPSG:9377", "epsg:9377" or "9377".
func Lookup(code string) (CRS, error) {
	raw := strings.TrimSpace(code)
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		if !strings.EqualFold(raw[:i], "EPSG") {
			return CRS{}, &domain.UnsupportedCRSError{Detail: code}
		}
		raw = raw[i+1:]
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return CRS{}, &domain.UnsupportedCRSError{Detail: code}
	}
	c, ok := lookupEPSG(n)
	if !ok {
		return CRS{}, &domain.UnsupportedCRSError{Detail: "EPSG:" + raw}
	}
	return c, nil
}

// MustLookup is Lookup for codes known at compile time.
func MustLookup(code string) CRS {
	c, err := Lookup(code)
	if err != nil {
		panic(err)
	}
	return c
}

// colombiaZones are the MAGNA-SIRGAS Gauss-Krüger zones, keyed by EPSG code,
// valued by central meridian.
var colombiaZones = map[int]struct {
	name string
	lon0 float64
}{
	3114: {"MAGNA-SIRGAS / Colombia Far West zone", -80.07750791666666},
	3115: {"MAGNA-SIRGAS / Colombia West zone", -77.07750791666666},
	3116: {"MAGNA-SIRGAS / Colombia Bogota zone", -74.07750791666666},
	3117: {"MAGNA-SIRGAS / Colombia East Central zone", -71.07750791666666},
	3118: {"MAGNA-SIRGAS / Colombia East zone", -68.07750791666666},
}

func lookupEPSG(n int) (CRS, bool) {
	code := "EPSG:" + strconv.Itoa(n)
	switch {
	case n == 4326:
		return WGS84, true
	case n == 4686:
		return CRS{Code: code, Name: "MAGNA-SIRGAS", proj: geographic{}}, true
	case n == 4170:
		return CRS{Code: code, Name: "SIRGAS", proj: geographic{}}, true
	case n == 9377:
		return CRS{
			Code: code,
			Name: "MAGNA-SIRGAS / Origen-Nacional",
			proj: newTransverseMercator(grs80, 4, -73, 0.9992, 5000000, 2000000),
		}, true
	case n == 3857:
		return CRS{Code: code, Name: "WGS 84 / Pseudo-Mercator", proj: webMercator()}, true
	case n >= 32601 && n <= 32660:
		zone := n - 32600
		return CRS{
			Code: code,
			Name: fmt.Sprintf("WGS 84 / UTM zone %dN", zone),
			proj: newTransverseMercator(wgs84Ellipsoid, 0, float64(6*zone-183), 0.9996, 500000, 0),
		}, true
	case n >= 32701 && n <= 32760:
		zone := n - 32700
		return CRS{
			Code: code,
			Name: fmt.Sprintf("WGS 84 / UTM zone %dS", zone),
			proj: newTransverseMercator(wgs84Ellipsoid, 0, float64(6*zone-183), 0.9996, 500000, 10000000),
		}, true
	}
	if z, ok := colombiaZones[n]; ok {
		return CRS{
			Code: code,
			Name: z.name,
			proj: newTransverseMercator(grs80, 4.596200416666666, z.lon0, 1, 1000000, 1000000),
		}, true
	}
	return CRS{}, false
}
