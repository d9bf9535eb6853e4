package geomutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func square(minX, minY, size float64) *geom.Polygon {
	return geom.NewPolygonFlat(geom.XY, []float64{
		minX, minY,
		minX + size, minY,
		minX + size, minY + size,
		minX, minY + size,
		minX, minY,
	}, []int{10})
}

func TestGeometryBounds(t *testing.T) {
	b, ok := GeometryBounds(square(1, 2, 3))
	require.True(t, ok)
	assert.Equal(t, Bounds{1, 2, 4, 5}, b)

	_, ok = GeometryBounds(nil)
	assert.False(t, ok)

	_, ok = GeometryBounds(geom.NewGeometryCollection())
	assert.False(t, ok)
}

func TestGeometryBoundsCollection(t *testing.T) {
	gc := geom.NewGeometryCollection()
	require.NoError(t, gc.Push(
		geom.NewPointFlat(geom.XY, []float64{10, 10}),
		square(0, 0, 1),
	))
	b, ok := GeometryBounds(gc)
	require.True(t, ok)
	assert.Equal(t, Bounds{0, 0, 10, 10}, b)
}

func TestMergeBounds(t *testing.T) {
	a := Bounds{0, 0, 1, 1}
	b := Bounds{2, -1, 3, 0.5}

	got, ok := MergeBounds(a, true, b, true)
	require.True(t, ok)
	assert.Equal(t, Bounds{0, -1, 3, 1}, got)

	got, ok = MergeBounds(a, false, b, true)
	require.True(t, ok)
	assert.Equal(t, b, got)

	_, ok = MergeBounds(a, false, b, false)
	assert.False(t, ok)
}

func TestTestClipBounds(t *testing.T) {
	clip := Bounds{0, 0, 10, 10}
	assert.True(t, TestClipBounds(Bounds{5, 5, 15, 15}, clip))
	assert.True(t, TestClipBounds(Bounds{-5, -5, 0, 0}, clip))
	assert.False(t, TestClipBounds(Bounds{11, 11, 12, 12}, clip))
	assert.False(t, TestClipBounds(Bounds{-2, 5, -1, 6}, clip))
}

func TestFlattenAndCollect(t *testing.T) {
	p := geom.NewPointFlat(geom.XY, []float64{1, 1})
	inner := geom.NewGeometryCollection()
	require.NoError(t, inner.Push(p, square(0, 0, 1)))
	outer := geom.NewGeometryCollection()
	require.NoError(t, outer.Push(inner, geom.NewPointFlat(geom.XY, []float64{2, 2})))

	flat := Flatten(outer)
	assert.Len(t, flat, 3)

	assert.Nil(t, Collect(nil))
	assert.Same(t, geom.T(p), Collect([]geom.T{p}))
	gc, ok := Collect(flat).(*geom.GeometryCollection)
	require.True(t, ok)
	assert.Equal(t, 3, gc.NumGeoms())
}

func TestMergePrefersPolygons(t *testing.T) {
	merged := Merge([]geom.T{
		geom.NewPointFlat(geom.XY, []float64{1, 1}),
		square(0, 0, 2),
		geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1}),
	})
	_, ok := merged.(*geom.Polygon)
	assert.True(t, ok)
}

func TestMergeHomogeneousPoints(t *testing.T) {
	merged := Merge([]geom.T{
		geom.NewPointFlat(geom.XY, []float64{1, 1}),
		geom.NewPointFlat(geom.XY, []float64{2, 2}),
	})
	gc, ok := merged.(*geom.GeometryCollection)
	require.True(t, ok)
	assert.Equal(t, 2, gc.NumGeoms())
}

func TestContainsPoint(t *testing.T) {
	poly := square(0, 0, 10)
	assert.True(t, ContainsPoint(poly, 5, 5))
	assert.False(t, ContainsPoint(poly, 15, 5))

	// Hole subtracts.
	withHole := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		4, 4, 6, 4, 6, 6, 4, 6, 4, 4,
	}, []int{10, 20})
	assert.True(t, ContainsPoint(withHole, 2, 2))
	assert.False(t, ContainsPoint(withHole, 5, 5))

	// Collections search all members.
	gc := geom.NewGeometryCollection()
	require.NoError(t, gc.Push(geom.NewPointFlat(geom.XY, []float64{50, 50}), square(20, 20, 5)))
	assert.True(t, ContainsPoint(gc, 22, 22))
	assert.False(t, ContainsPoint(gc, 50, 50))
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(square(0, 0, 1)))
	assert.True(t, Validate(geom.NewPointFlat(geom.XY, []float64{1, 2})))
	assert.False(t, Validate(nil))
	assert.False(t, Validate(geom.NewLineStringFlat(geom.XY, []float64{1, 1})))
	// Degenerate two-vertex ring.
	assert.False(t, Validate(geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 1}, []int{4})))
}

func TestSimplifyDropsCollinearVertices(t *testing.T) {
	line := geom.NewLineStringFlat(geom.XY, []float64{
		0, 0, 1, 0.0001, 2, 0, 3, 0.0001, 4, 0, 5, 3,
	})
	simplified := Simplify(line, SimplificationFactor).(*geom.LineString)
	assert.Less(t, simplified.NumCoords(), line.NumCoords())
	// Endpoints survive.
	coords := simplified.Coords()
	assert.Equal(t, geom.Coord{0, 0}, coords[0])
	assert.Equal(t, geom.Coord{5, 3}, coords[len(coords)-1])
}

func TestSimplifyKeepsPoints(t *testing.T) {
	p := geom.NewPointFlat(geom.XY, []float64{1, 2})
	assert.Same(t, geom.T(p), Simplify(p, SimplificationFactor))
}

func TestSimplifyRingStaysClosed(t *testing.T) {
	poly := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 5, 0.001, 10, 0, 10, 10, 0, 10, 0, 0,
	}, []int{12})
	simplified := Simplify(poly, SimplificationFactor).(*geom.Polygon)
	ring := simplified.Coords()[0]
	require.GreaterOrEqual(t, len(ring), 4)
	assert.Equal(t, ring[0], ring[len(ring)-1])
}
