package geomenc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestNumberRoundTrip(t *testing.T) {
	nums := []int64{0, 1, -1, 63, 64, -64, -65, 127, 128, 300, -300, 16383, 16384}
	for p := uint(0); p <= 40; p++ {
		v := int64(1) << p
		nums = append(nums, v, -v, v-1, -(v - 1), v+1, -(v + 1))
	}
	s := New()
	for _, n := range nums {
		s.EncodeNumber(n)
	}
	d := From(s.Data())
	for _, n := range nums {
		got, err := d.DecodeNumber()
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
	assert.True(t, d.EOF())
}

func TestStringRoundTrip(t *testing.T) {
	s := New()
	s.EncodeString("Pirita tee")
	s.EncodeString("")
	s.EncodeString("õäöü")

	d := From(s.Data())
	for _, want := range []string{"Pirita tee", "", "õäöü"} {
		got, err := d.DecodeString()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestValueRoundTrip(t *testing.T) {
	values := []any{nil, true, false, int64(42), int64(-7), 2.5, "tallinn"}
	s := New()
	for _, v := range values {
		require.NoError(t, s.EncodeValue(v))
	}
	d := From(s.Data())
	for _, want := range values {
		got, err := d.DecodeValue()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestValueUnsupported(t *testing.T) {
	s := New()
	err := s.EncodeValue([]string{"no"})
	require.Error(t, err)
}

func roundTripGeometry(t *testing.T, g geom.T) geom.T {
	t.Helper()
	s := New()
	require.NoError(t, s.EncodeGeometry(g))
	d := From(s.Data())
	got, err := d.DecodeGeometry()
	require.NoError(t, err)
	require.True(t, d.EOF())
	return got
}

func TestGeometryRoundTrip(t *testing.T) {
	tests := map[string]geom.T{
		"point":      geom.NewPointFlat(geom.XY, []float64{24.831791, 59.455351}),
		"multipoint": geom.NewMultiPointFlat(geom.XY, []float64{0, 0, 1.5, -2.25, -3, 60}),
		"linestring": geom.NewLineStringFlat(geom.XY, []float64{24.1, 59.1, 24.2, 59.2, 24.3, 59.15}),
		"multilinestring": geom.NewMultiLineStringFlat(geom.XY,
			[]float64{0, 0, 1, 1, 10, 10, 11, 12}, []int{4, 8}),
		"polygon": geom.NewPolygonFlat(geom.XY,
			[]float64{0, 0, 4, 0, 4, 4, 0, 4, 0, 0}, []int{10}),
		"multipolygon": geom.NewMultiPolygonFlat(geom.XY,
			[]float64{0, 0, 2, 0, 2, 2, 0, 0, 5, 5, 7, 5, 7, 7, 5, 5}, [][]int{{8}, {16}}),
	}
	for name, g := range tests {
		t.Run(name, func(t *testing.T) {
			got := roundTripGeometry(t, g)
			require.IsType(t, g, got)
			assert.InDeltaSlice(t, g.FlatCoords(), got.FlatCoords(), 1e-6)
		})
	}
}

func TestGeometryRoundTripNil(t *testing.T) {
	got := roundTripGeometry(t, nil)
	assert.Nil(t, got)
}

func TestGeometryRoundTripNestedCollection(t *testing.T) {
	inner := geom.NewGeometryCollection()
	require.NoError(t, inner.Push(
		geom.NewPointFlat(geom.XY, []float64{1, 2}),
		geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1}),
	))
	outer := geom.NewGeometryCollection()
	require.NoError(t, outer.Push(
		inner,
		geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 0}, []int{8}),
	))

	got := roundTripGeometry(t, outer)
	gc, ok := got.(*geom.GeometryCollection)
	require.True(t, ok)
	require.Equal(t, 2, gc.NumGeoms())

	innerGot, ok := gc.Geom(0).(*geom.GeometryCollection)
	require.True(t, ok)
	require.Equal(t, 2, innerGot.NumGeoms())
	assert.InDeltaSlice(t, []float64{1, 2}, innerGot.Geom(0).FlatCoords(), 1e-6)
}

func TestPolygonRingReclosed(t *testing.T) {
	// Encoded rings drop the closing vertex; decode must restore it.
	poly := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 0}, []int{8})
	got := roundTripGeometry(t, poly).(*geom.Polygon)

	ring := got.Coords()[0]
	require.Len(t, ring, 4)
	assert.Equal(t, ring[0], ring[len(ring)-1])
}

func TestCoordPrecision(t *testing.T) {
	// Coordinates survive to 1e-6 degrees but not beyond.
	g := geom.NewPointFlat(geom.XY, []float64{24.0000004, 59.0000006})
	got := roundTripGeometry(t, g).(*geom.Point)
	assert.InDelta(t, 24.0000004, got.X(), 1e-6)
	assert.InDelta(t, 59.0000006, got.Y(), 1e-6)
}

func TestFeatureCollectionSharedDeltaContext(t *testing.T) {
	features := []Feature{
		{ID: 100, Geometry: geom.NewPointFlat(geom.XY, []float64{24.1, 59.4}), Properties: map[string]any{"name": "a"}},
		{ID: 103, Geometry: geom.NewPointFlat(geom.XY, []float64{24.1001, 59.4001}), Properties: map[string]any{}},
		{ID: 90, Geometry: nil, Properties: map[string]any{"pop": int64(400000), "capital": true}},
	}
	s := New()
	require.NoError(t, s.EncodeFeatureCollection(features))

	d := From(s.Data())
	got, err := d.DecodeFeatureCollection()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(100), got[0].ID)
	assert.Equal(t, int64(103), got[1].ID)
	assert.Equal(t, int64(90), got[2].ID)
	assert.Equal(t, "a", got[0].Properties["name"])
	assert.Equal(t, int64(400000), got[2].Properties["pop"])
	assert.Nil(t, got[2].Geometry)
}

func TestResetContract(t *testing.T) {
	// Two sections encoded independently and concatenated: decoding the
	// second without Reset yields corrupt coordinates.
	first := New()
	require.NoError(t, first.EncodeFeature(Feature{ID: 1,
		Geometry: geom.NewPointFlat(geom.XY, []float64{24.5, 59.5})}))
	second := New()
	require.NoError(t, second.EncodeFeature(Feature{ID: 2,
		Geometry: geom.NewPointFlat(geom.XY, []float64{-10.25, 40.75})}))

	blob := append(append([]byte{}, first.Data()...), second.Data()...)

	d := From(blob)
	d.Reset(0, 0)
	f1, err := d.DecodeFeature()
	require.NoError(t, err)
	assert.InDelta(t, 24.5, f1.Geometry.(*geom.Point).X(), 1e-6)

	d.Reset(0, 0)
	f2, err := d.DecodeFeature()
	require.NoError(t, err)
	assert.InDelta(t, -10.25, f2.Geometry.(*geom.Point).X(), 1e-6)
	assert.True(t, d.EOF())
}

func TestResetOrigin(t *testing.T) {
	origin := [2]float64{24.0, 59.0}

	enc := New()
	enc.Reset(origin[0], origin[1])
	enc.EncodeCoord(geom.Coord{24.5, 59.5})

	dec := From(enc.Data())
	dec.Reset(origin[0], origin[1])
	c, err := dec.DecodeCoord()
	require.NoError(t, err)
	assert.InDelta(t, 24.5, c[0], 1e-6)
	assert.InDelta(t, 59.5, c[1], 1e-6)

	// A mismatched origin shifts everything.
	dec = From(enc.Data())
	dec.Reset(0, 0)
	c, err = dec.DecodeCoord()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, c[0], 1e-6)
}

func TestDecodeTruncated(t *testing.T) {
	s := New()
	s.EncodeNumber(int64(math.MaxInt32))
	d := From(s.Data()[:1])
	_, err := d.DecodeNumber()
	require.Error(t, err)
}
