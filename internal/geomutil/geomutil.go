// Package geomutil provides the geometry helpers shared by the importer:
// bounding boxes, clip tests, point containment, collection merging and
// line/ring simplification over go-geom types.
package geomutil

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Bounds is a WGS84 bounding box (minLon, minLat, maxLon, maxLat).
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

func (b Bounds) extend(x, y float64) Bounds {
	return Bounds{
		MinX: math.Min(b.MinX, x),
		MinY: math.Min(b.MinY, y),
		MaxX: math.Max(b.MaxX, x),
		MaxY: math.Max(b.MaxY, y),
	}
}

// Center returns the box center.
func (b Bounds) Center() (float64, float64) {
	return (b.MinX + b.MaxX) * 0.5, (b.MinY + b.MaxY) * 0.5
}

// GeometryBounds computes the bounding box of any geometry. ok is false for
// nil or empty geometries (including empty collections).
func GeometryBounds(g geom.T) (Bounds, bool) {
	b := Bounds{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	b, any := extendGeometry(b, g)
	return b, any
}

func extendGeometry(b Bounds, g geom.T) (Bounds, bool) {
	if g == nil {
		return b, false
	}
	if gc, ok := g.(*geom.GeometryCollection); ok {
		any := false
		for _, sub := range gc.Geoms() {
			var hit bool
			b, hit = extendGeometry(b, sub)
			any = any || hit
		}
		return b, any
	}
	flat := g.FlatCoords()
	stride := g.Stride()
	if len(flat) == 0 || stride < 2 {
		return b, false
	}
	for i := 0; i+1 < len(flat); i += stride {
		b = b.extend(flat[i], flat[i+1])
	}
	return b, true
}

// MergeBounds unions two boxes; either side may be absent.
func MergeBounds(a Bounds, aOK bool, b Bounds, bOK bool) (Bounds, bool) {
	switch {
	case !aOK:
		return b, bOK
	case !bOK:
		return a, true
	default:
		return Bounds{
			MinX: math.Min(a.MinX, b.MinX),
			MinY: math.Min(a.MinY, b.MinY),
			MaxX: math.Max(a.MaxX, b.MaxX),
			MaxY: math.Max(a.MaxY, b.MaxY),
		}, true
	}
}

// TestClipBounds reports whether bounds intersects the clip rectangle.
func TestClipBounds(b Bounds, clip Bounds) bool {
	if b.MinX > clip.MaxX || b.MaxX < clip.MinX {
		return false
	}
	if b.MinY > clip.MaxY || b.MaxY < clip.MinY {
		return false
	}
	return true
}

// Flatten expands geometry collections into a flat list of simple geometries.
func Flatten(g geom.T) []geom.T {
	if g == nil {
		return nil
	}
	gc, ok := g.(*geom.GeometryCollection)
	if !ok {
		return []geom.T{g}
	}
	var out []geom.T
	for _, sub := range gc.Geoms() {
		out = append(out, Flatten(sub)...)
	}
	return out
}

// Collect wraps geometries into a single value: one geometry passes through,
// several become a GeometryCollection. nil for an empty list.
func Collect(geoms []geom.T) geom.T {
	switch len(geoms) {
	case 0:
		return nil
	case 1:
		return geoms[0]
	default:
		gc := geom.NewGeometryCollection()
		for _, g := range geoms {
			_ = gc.Push(g)
		}
		return gc
	}
}

func dimension(g geom.T) int {
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon:
		return 2
	case *geom.LineString, *geom.MultiLineString:
		return 1
	case *geom.Point, *geom.MultiPoint:
		return 0
	default:
		return -1
	}
}

// Merge combines geometries into one, keeping only the highest-dimension
// kind present (polygonal over linear over puntal), mirroring how merged
// entities prefer area geometry over the points that seeded them.
func Merge(geoms []geom.T) geom.T {
	var flat []geom.T
	for _, g := range geoms {
		flat = append(flat, Flatten(g)...)
	}
	best := -1
	for _, g := range flat {
		if d := dimension(g); d > best {
			best = d
		}
	}
	if best >= 0 {
		kept := flat[:0]
		for _, g := range flat {
			if dimension(g) == best {
				kept = append(kept, g)
			}
		}
		flat = kept
	}
	return Collect(flat)
}

// ContainsPoint reports whether the polygonal parts of g contain the point.
// Even-odd ray casting; holes subtract.
func ContainsPoint(g geom.T, lon, lat float64) bool {
	for _, sub := range Flatten(g) {
		switch t := sub.(type) {
		case *geom.Polygon:
			if polygonContains(t.Coords(), lon, lat) {
				return true
			}
		case *geom.MultiPolygon:
			for _, rings := range t.Coords() {
				if polygonContains(rings, lon, lat) {
					return true
				}
			}
		}
	}
	return false
}

func polygonContains(rings [][]geom.Coord, lon, lat float64) bool {
	if len(rings) == 0 || !ringContains(rings[0], lon, lat) {
		return false
	}
	for _, hole := range rings[1:] {
		if ringContains(hole, lon, lat) {
			return false
		}
	}
	return true
}

func ringContains(ring []geom.Coord, x, y float64) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// Validate checks structural validity: finite coordinates, at least two
// vertices per line and four per closed ring. Collections validate when all
// members do.
func Validate(g geom.T) bool {
	switch t := g.(type) {
	case nil:
		return false
	case *geom.GeometryCollection:
		for _, sub := range t.Geoms() {
			if !Validate(sub) {
				return false
			}
		}
		return true
	case *geom.Point, *geom.MultiPoint:
		return finiteCoords(g)
	case *geom.LineString:
		return len(t.Coords()) >= 2 && finiteCoords(g)
	case *geom.MultiLineString:
		for _, line := range t.Coords() {
			if len(line) < 2 {
				return false
			}
		}
		return finiteCoords(g)
	case *geom.Polygon:
		return validRings(t.Coords()) && finiteCoords(g)
	case *geom.MultiPolygon:
		for _, rings := range t.Coords() {
			if !validRings(rings) {
				return false
			}
		}
		return finiteCoords(g)
	default:
		return false
	}
}

func validRings(rings [][]geom.Coord) bool {
	for _, ring := range rings {
		if len(ring) < 4 {
			return false
		}
	}
	return true
}

func finiteCoords(g geom.T) bool {
	for _, v := range g.FlatCoords() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
