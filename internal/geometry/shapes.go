package geometry

import (
	"fmt"

	"github.com/jonas-p/go-shp"
	"github.com/twpayne/go-geom"
)

// toGeom converts a shapefile record to a two-dimensional go-geom geometry.
// Null records return nil. Z and M values are dropped.
func toGeom(shape shp.Shape) (geom.T, error) {
	switch s := shape.(type) {
	case nil, *shp.Null:
		return nil, nil //nolint:nilnil // null shape carries no geometry
	case *shp.Point:
		return pointGeom(s.X, s.Y), nil
	case *shp.PointZ:
		return pointGeom(s.X, s.Y), nil
	case *shp.PointM:
		return pointGeom(s.X, s.Y), nil
	case *shp.MultiPoint:
		return multiPointGeom(s.Points), nil
	case *shp.MultiPointZ:
		return multiPointGeom(s.Points), nil
	case *shp.MultiPointM:
		return multiPointGeom(s.Points), nil
	case *shp.PolyLine:
		return lineGeom(splitParts(s.Parts, s.Points)), nil
	case *shp.PolyLineZ:
		return lineGeom(splitParts(s.Parts, s.Points)), nil
	case *shp.PolyLineM:
		return lineGeom(splitParts(s.Parts, s.Points)), nil
	case *shp.Polygon:
		return polygonGeom(splitParts(s.Parts, s.Points)), nil
	case *shp.PolygonZ:
		return polygonGeom(splitParts(s.Parts, s.Points)), nil
	case *shp.PolygonM:
		return polygonGeom(splitParts(s.Parts, s.Points)), nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", shape)
	}
}

func pointGeom(x, y float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{x, y})
}

func multiPointGeom(points []shp.Point) *geom.MultiPoint {
	flat := make([]float64, 0, 2*len(points))
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return geom.NewMultiPointFlat(geom.XY, flat)
}

func lineGeom(parts [][]shp.Point) *geom.MultiLineString {
	var (
		flat []float64
		ends []int
	)
	for _, part := range parts {
		for _, p := range part {
			flat = append(flat, p.X, p.Y)
		}
		ends = append(ends, len(flat))
	}
	return geom.NewMultiLineStringFlat(geom.XY, flat, ends)
}

// splitParts cuts the point array at the part offsets. Offsets outside the
// array are clamped.
func splitParts(parts []int32, points []shp.Point) [][]shp.Point {
	if len(parts) == 0 {
		if len(points) == 0 {
			return nil
		}
		return [][]shp.Point{points}
	}
	out := make([][]shp.Point, 0, len(parts))
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		s := min(max(int(start), 0), len(points))
		end = min(max(end, s), len(points))
		if end > s {
			out = append(out, points[s:end])
		}
	}
	return out
}

// polygonGeom assembles rings into polygons. Clockwise rings start a polygon
// and counter-clockwise rings are holes of the clockwise ring that contains
// them. A hole with no container, or a ring set without any clockwise ring,
// is kept as a polygon of its own. One polygon yields *geom.Polygon, more
// yield *geom.MultiPolygon.
func polygonGeom(rings [][]shp.Point) geom.T {
	type poly struct {
		rings [][]shp.Point
	}
	var (
		polys []*poly
		holes [][]shp.Point
	)
	for _, r := range rings {
		if len(r) < 3 {
			continue
		}
		if signedArea(r) < 0 {
			polys = append(polys, &poly{rings: [][]shp.Point{r}})
		} else {
			holes = append(holes, r)
		}
	}
	for _, h := range holes {
		var owner *poly
		for _, p := range polys {
			if ringContains(p.rings[0], h[0]) {
				owner = p
				break
			}
		}
		if owner == nil {
			polys = append(polys, &poly{rings: [][]shp.Point{h}})
			continue
		}
		owner.rings = append(owner.rings, h)
	}
	if len(polys) == 0 {
		return nil
	}

	var (
		flat  []float64
		endss [][]int
	)
	for _, p := range polys {
		ends := make([]int, 0, len(p.rings))
		for _, r := range p.rings {
			for _, pt := range r {
				flat = append(flat, pt.X, pt.Y)
			}
			ends = append(ends, len(flat))
		}
		endss = append(endss, ends)
	}
	if len(polys) == 1 {
		return geom.NewPolygonFlat(geom.XY, flat, endss[0])
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}

// signedArea is the shoelace area: negative for clockwise rings.
func signedArea(ring []shp.Point) float64 {
	var sum float64
	for i := range ring {
		j := (i + 1) % len(ring)
		sum += ring[i].X*ring[j].Y - ring[j].X*ring[i].Y
	}
	return sum / 2
}

// ringContains is an even-odd ray cast.
func ringContains(ring []shp.Point, p shp.Point) bool {
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// toShape converts a go-geom geometry to a shapefile record. Polygon rings
// are written outer clockwise and holes counter-clockwise.
func toShape(g geom.T) (shp.Shape, error) {
	switch g := g.(type) {
	case *geom.Point:
		return &shp.Point{X: g.X(), Y: g.Y()}, nil
	case *geom.Polygon:
		return polygonShape([]*geom.Polygon{g}), nil
	case *geom.MultiPolygon:
		polys := make([]*geom.Polygon, 0, g.NumPolygons())
		for i := 0; i < g.NumPolygons(); i++ {
			polys = append(polys, g.Polygon(i))
		}
		return polygonShape(polys), nil
	default:
		return nil, fmt.Errorf("cannot write geometry type %T", g)
	}
}

func polygonShape(polys []*geom.Polygon) shp.Shape {
	var parts [][]shp.Point
	for _, p := range polys {
		for i := 0; i < p.NumLinearRings(); i++ {
			lr := p.LinearRing(i)
			ring := make([]shp.Point, 0, lr.NumCoords())
			for j := 0; j < lr.NumCoords(); j++ {
				c := lr.Coord(j)
				ring = append(ring, shp.Point{X: c.X(), Y: c.Y()})
			}
			clockwise := signedArea(ring) < 0
			if (i == 0) != clockwise {
				reverse(ring)
			}
			parts = append(parts, ring)
		}
	}
	polygon := shp.Polygon(*shp.NewPolyLine(parts))
	return &polygon
}

func reverse(ring []shp.Point) {
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
}
