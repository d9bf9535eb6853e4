package geomutil

import (
	"math"

	"github.com/twpayne/go-geom"
)

// SimplificationFactor relates the simplification tolerance to the geometry
// extent during post-processing.
const SimplificationFactor = 1.0 / 256.0

// Simplify reduces line and ring vertex counts with a Douglas-Peucker pass
// at tolerance = factor x largest extent of the geometry. Points pass
// through unchanged; collection members are simplified individually.
func Simplify(g geom.T, factor float64) geom.T {
	switch t := g.(type) {
	case nil:
		return nil
	case *geom.Point, *geom.MultiPoint:
		return g
	case *geom.GeometryCollection:
		gc := geom.NewGeometryCollection()
		for _, sub := range t.Geoms() {
			if simplified := Simplify(sub, factor); simplified != nil {
				_ = gc.Push(simplified)
			}
		}
		if gc.NumGeoms() == 0 {
			return nil
		}
		return gc
	}

	b, ok := GeometryBounds(g)
	if !ok {
		return nil
	}
	return SimplifyTolerance(g, math.Max(b.MaxX-b.MinX, b.MaxY-b.MinY)*factor)
}

// SimplifyTolerance runs the Douglas-Peucker pass at a fixed tolerance in
// degrees.
func SimplifyTolerance(g geom.T, tolerance float64) geom.T {
	switch t := g.(type) {
	case nil:
		return nil
	case *geom.Point, *geom.MultiPoint:
		return g
	case *geom.GeometryCollection:
		gc := geom.NewGeometryCollection()
		for _, sub := range t.Geoms() {
			if simplified := SimplifyTolerance(sub, tolerance); simplified != nil {
				_ = gc.Push(simplified)
			}
		}
		if gc.NumGeoms() == 0 {
			return nil
		}
		return gc
	}

	switch t := g.(type) {
	case *geom.LineString:
		coords := simplifyLine(t.Coords(), tolerance)
		return geom.NewLineStringFlat(geom.XY, flatten(coords))
	case *geom.MultiLineString:
		var flat []float64
		var ends []int
		for _, line := range t.Coords() {
			coords := simplifyLine(line, tolerance)
			flat = append(flat, flatten(coords)...)
			ends = append(ends, len(flat))
		}
		return geom.NewMultiLineStringFlat(geom.XY, flat, ends)
	case *geom.Polygon:
		flat, ends := simplifyRings(t.Coords(), tolerance, nil, nil)
		return geom.NewPolygonFlat(geom.XY, flat, ends)
	case *geom.MultiPolygon:
		var flat []float64
		endss := make([][]int, 0, t.NumPolygons())
		for _, rings := range t.Coords() {
			var ends []int
			flat, ends = simplifyRings(rings, tolerance, flat, nil)
			endss = append(endss, ends)
		}
		return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
	default:
		return g
	}
}

func simplifyRings(rings [][]geom.Coord, tolerance float64, flat []float64, ends []int) ([]float64, []int) {
	for _, ring := range rings {
		coords := simplifyRing(ring, tolerance)
		flat = append(flat, flatten(coords)...)
		ends = append(ends, len(flat))
	}
	return flat, ends
}

// simplifyRing keeps rings closed and refuses to collapse below a triangle.
func simplifyRing(ring []geom.Coord, tolerance float64) []geom.Coord {
	if len(ring) <= 4 {
		return ring
	}
	out := simplifyLine(ring, tolerance)
	if len(out) < 4 {
		return ring
	}
	return out
}

func simplifyLine(coords []geom.Coord, tolerance float64) []geom.Coord {
	if len(coords) <= 2 || tolerance <= 0 {
		return coords
	}
	keep := make([]bool, len(coords))
	keep[0], keep[len(coords)-1] = true, true
	douglasPeucker(coords, 0, len(coords)-1, tolerance, keep)

	out := make([]geom.Coord, 0, len(coords))
	for i, k := range keep {
		if k {
			out = append(out, coords[i])
		}
	}
	return out
}

func douglasPeucker(coords []geom.Coord, first, last int, tolerance float64, keep []bool) {
	if last <= first+1 {
		return
	}
	maxDist, maxIdx := 0.0, first
	for i := first + 1; i < last; i++ {
		d := segmentDistance(coords[i], coords[first], coords[last])
		if d > maxDist {
			maxDist, maxIdx = d, i
		}
	}
	if maxDist > tolerance {
		keep[maxIdx] = true
		douglasPeucker(coords, first, maxIdx, tolerance, keep)
		douglasPeucker(coords, maxIdx, last, tolerance, keep)
	}
}

func segmentDistance(p, a, b geom.Coord) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	if dx == 0 && dy == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1])
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p[0]-(a[0]+t*dx), p[1]-(a[1]+t*dy))
}

func flatten(coords []geom.Coord) []float64 {
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c[0], c[1])
	}
	return flat
}
