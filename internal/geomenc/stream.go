// Package geomenc implements the compact binary encoding of geometries,
// features and feature collections stored in entity blobs. Numbers are
// zigzag varints, coordinates are delta-coded fixed-point values and ids
// are delta-coded against the previous feature in the same stream.
package geomenc

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Precision is the fixed-point scale applied to coordinates before delta
// coding (micro-degrees).
const Precision = 1.0e6

// Geometry type tags as stored on the wire.
const (
	tagNone               = 0
	tagPoint              = 1
	tagMultiPoint         = 2
	tagLineString         = 3
	tagMultiLineString    = 4
	tagPolygon            = 5
	tagMultiPolygon       = 6
	tagGeometryCollection = 7
)

// Property value type tags.
const (
	valueNone   = 0
	valueBool   = 1
	valueInt    = 2
	valueFloat  = 3
	valueString = 4
)

// Feature is one decoded entry of an entity blob.
type Feature struct {
	ID         int64
	Geometry   geom.T
	Properties map[string]any
}

// Stream encodes and decodes against a mutable delta context (previous
// coordinate and previous scalar). Decoding a blob that interleaves
// independently encoded sections requires Reset before each section;
// decoding without resetting corrupts every following value.
type Stream struct {
	data       []byte
	offset     int
	prevX      int64
	prevY      int64
	prevNumber int64
}

// New returns an empty encoding stream with the delta context at the origin.
func New() *Stream {
	return &Stream{}
}

// From returns a decoding stream over data with the delta context at the origin.
func From(data []byte) *Stream {
	return &Stream{data: data}
}

// Reset rewinds the delta context to the given origin without touching the
// read offset or buffered data.
func (s *Stream) Reset(originLon, originLat float64) {
	s.prevX = int64(math.Round(originLon * Precision))
	s.prevY = int64(math.Round(originLat * Precision))
	s.prevNumber = 0
}

// Data returns the encoded bytes.
func (s *Stream) Data() []byte {
	return s.data
}

// EOF reports whether the read offset has consumed the whole buffer.
func (s *Stream) EOF() bool {
	return s.offset >= len(s.data)
}

// EncodeNumber appends a zigzag varint. More significant 7-bit groups are
// emitted first, the high bit flags continuation.
func (s *Stream) EncodeNumber(num int64) {
	var u uint64
	if num < 0 {
		u = uint64(-num)<<1 - 1
	} else {
		u = uint64(num) << 1
	}
	shift := uint(7)
	for u>>shift > 0 {
		shift += 7
	}
	for shift > 0 {
		shift -= 7
		b := byte(u>>shift) & 0x7f
		if shift > 0 {
			b |= 0x80
		}
		s.data = append(s.data, b)
	}
}

// DecodeNumber reads one zigzag varint.
func (s *Stream) DecodeNumber() (int64, error) {
	var u uint64
	for {
		if s.offset >= len(s.data) {
			return 0, eris.New("geomenc: truncated varint")
		}
		b := s.data[s.offset]
		s.offset++
		u += uint64(b & 0x7f)
		if b < 0x80 {
			break
		}
		u <<= 7
	}
	if u&1 == 1 {
		return -int64((u + 1) >> 1), nil
	}
	return int64(u >> 1), nil
}

// EncodeString appends a length-prefixed UTF-8 string.
func (s *Stream) EncodeString(str string) {
	s.EncodeNumber(int64(len(str)))
	s.data = append(s.data, str...)
}

// DecodeString reads a length-prefixed UTF-8 string.
func (s *Stream) DecodeString() (string, error) {
	n, err := s.DecodeNumber()
	if err != nil {
		return "", err
	}
	if n < 0 || s.offset+int(n) > len(s.data) {
		return "", eris.New("geomenc: truncated string")
	}
	str := string(s.data[s.offset : s.offset+int(n)])
	s.offset += int(n)
	return str, nil
}

// EncodeValue appends a type-tagged property value.
func (s *Stream) EncodeValue(value any) error {
	switch v := value.(type) {
	case nil:
		s.EncodeNumber(valueNone)
	case bool:
		s.EncodeNumber(valueBool)
		if v {
			s.EncodeNumber(1)
		} else {
			s.EncodeNumber(0)
		}
	case int:
		s.EncodeNumber(valueInt)
		s.EncodeNumber(int64(v))
	case int64:
		s.EncodeNumber(valueInt)
		s.EncodeNumber(v)
	case float32:
		s.EncodeNumber(valueFloat)
		s.data = binary.BigEndian.AppendUint32(s.data, math.Float32bits(v))
	case float64:
		s.EncodeNumber(valueFloat)
		s.data = binary.BigEndian.AppendUint32(s.data, math.Float32bits(float32(v)))
	case string:
		s.EncodeNumber(valueString)
		s.EncodeString(v)
	default:
		return eris.Errorf("geomenc: unsupported value type %T", value)
	}
	return nil
}

// DecodeValue reads a type-tagged property value. Floats are widened back to
// float64 for map comparability.
func (s *Stream) DecodeValue() (any, error) {
	tag, err := s.DecodeNumber()
	if err != nil {
		return nil, err
	}
	switch tag {
	case valueNone:
		return nil, nil
	case valueBool:
		n, err := s.DecodeNumber()
		if err != nil {
			return nil, err
		}
		return n != 0, nil
	case valueInt:
		return s.DecodeNumber()
	case valueFloat:
		if s.offset+4 > len(s.data) {
			return nil, eris.New("geomenc: truncated float")
		}
		bits := binary.BigEndian.Uint32(s.data[s.offset:])
		s.offset += 4
		return float64(math.Float32frombits(bits)), nil
	case valueString:
		return s.DecodeString()
	default:
		return nil, eris.Errorf("geomenc: unexpected value tag %d", tag)
	}
}

// DeltaEncodeNumber appends a number relative to the previous one.
func (s *Stream) DeltaEncodeNumber(num int64) {
	s.EncodeNumber(num - s.prevNumber)
	s.prevNumber = num
}

// DeltaDecodeNumber reads a number relative to the previous one.
func (s *Stream) DeltaDecodeNumber() (int64, error) {
	delta, err := s.DecodeNumber()
	if err != nil {
		return 0, err
	}
	s.prevNumber += delta
	return s.prevNumber, nil
}

// EncodeCoord appends one delta-coded fixed-point coordinate.
func (s *Stream) EncodeCoord(c geom.Coord) {
	x := int64(math.Round(c[0] * Precision))
	y := int64(math.Round(c[1] * Precision))
	s.EncodeNumber(x - s.prevX)
	s.EncodeNumber(y - s.prevY)
	s.prevX = x
	s.prevY = y
}

// DecodeCoord reads one delta-coded fixed-point coordinate.
func (s *Stream) DecodeCoord() (geom.Coord, error) {
	dx, err := s.DecodeNumber()
	if err != nil {
		return nil, err
	}
	dy, err := s.DecodeNumber()
	if err != nil {
		return nil, err
	}
	s.prevX += dx
	s.prevY += dy
	return geom.Coord{float64(s.prevX) / Precision, float64(s.prevY) / Precision}, nil
}

func (s *Stream) encodeCoords(coords []geom.Coord) {
	s.EncodeNumber(int64(len(coords)))
	for _, c := range coords {
		s.EncodeCoord(c)
	}
}

func (s *Stream) decodeCoords() ([]geom.Coord, error) {
	n, err := s.DecodeNumber()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, eris.New("geomenc: negative coordinate count")
	}
	coords := make([]geom.Coord, 0, n)
	for i := int64(0); i < n; i++ {
		c, err := s.DecodeCoord()
		if err != nil {
			return nil, err
		}
		coords = append(coords, c)
	}
	return coords, nil
}

// openRing drops the closing duplicate vertex; rings are stored open.
func openRing(ring []geom.Coord) []geom.Coord {
	if len(ring) > 1 && ring[0].Equal(geom.XY, ring[len(ring)-1]) {
		return ring[:len(ring)-1]
	}
	return ring
}

// closeRing re-appends the first vertex to close a decoded ring.
func closeRing(ring []geom.Coord) []geom.Coord {
	if len(ring) == 0 {
		return ring
	}
	return append(ring, geom.Coord{ring[0][0], ring[0][1]})
}

// EncodeGeometry appends a type-tagged geometry. A nil geometry encodes as
// the null tag.
func (s *Stream) EncodeGeometry(g geom.T) error {
	switch t := g.(type) {
	case nil:
		s.EncodeNumber(tagNone)
	case *geom.Point:
		s.EncodeNumber(tagPoint)
		s.EncodeCoord(t.Coords())
	case *geom.MultiPoint:
		s.EncodeNumber(tagMultiPoint)
		s.encodeCoords(t.Coords())
	case *geom.LineString:
		s.EncodeNumber(tagLineString)
		s.encodeCoords(t.Coords())
	case *geom.MultiLineString:
		s.EncodeNumber(tagMultiLineString)
		lines := t.Coords()
		s.EncodeNumber(int64(len(lines)))
		for _, line := range lines {
			s.encodeCoords(line)
		}
	case *geom.Polygon:
		s.EncodeNumber(tagPolygon)
		rings := t.Coords()
		s.EncodeNumber(int64(len(rings)))
		for _, ring := range rings {
			s.encodeCoords(openRing(ring))
		}
	case *geom.MultiPolygon:
		s.EncodeNumber(tagMultiPolygon)
		polys := t.Coords()
		s.EncodeNumber(int64(len(polys)))
		for _, rings := range polys {
			s.EncodeNumber(int64(len(rings)))
			for _, ring := range rings {
				s.encodeCoords(openRing(ring))
			}
		}
	case *geom.GeometryCollection:
		s.EncodeNumber(tagGeometryCollection)
		s.EncodeNumber(int64(t.NumGeoms()))
		for _, sub := range t.Geoms() {
			if err := s.EncodeGeometry(sub); err != nil {
				return err
			}
		}
	default:
		return eris.Errorf("geomenc: unsupported geometry type %T", g)
	}
	return nil
}

// DecodeGeometry reads a type-tagged geometry. The null tag decodes as nil.
func (s *Stream) DecodeGeometry() (geom.T, error) {
	tag, err := s.DecodeNumber()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNone:
		return nil, nil
	case tagPoint:
		c, err := s.DecodeCoord()
		if err != nil {
			return nil, err
		}
		return geom.NewPointFlat(geom.XY, []float64{c[0], c[1]}), nil
	case tagMultiPoint:
		coords, err := s.decodeCoords()
		if err != nil {
			return nil, err
		}
		return geom.NewMultiPointFlat(geom.XY, flatten(coords)), nil
	case tagLineString:
		coords, err := s.decodeCoords()
		if err != nil {
			return nil, err
		}
		return geom.NewLineStringFlat(geom.XY, flatten(coords)), nil
	case tagMultiLineString:
		n, err := s.DecodeNumber()
		if err != nil {
			return nil, err
		}
		var flat []float64
		var ends []int
		for i := int64(0); i < n; i++ {
			coords, err := s.decodeCoords()
			if err != nil {
				return nil, err
			}
			flat = append(flat, flatten(coords)...)
			ends = append(ends, len(flat))
		}
		return geom.NewMultiLineStringFlat(geom.XY, flat, ends), nil
	case tagPolygon:
		n, err := s.DecodeNumber()
		if err != nil {
			return nil, err
		}
		var flat []float64
		var ends []int
		for i := int64(0); i < n; i++ {
			coords, err := s.decodeCoords()
			if err != nil {
				return nil, err
			}
			flat = append(flat, flatten(closeRing(coords))...)
			ends = append(ends, len(flat))
		}
		return geom.NewPolygonFlat(geom.XY, flat, ends), nil
	case tagMultiPolygon:
		n, err := s.DecodeNumber()
		if err != nil {
			return nil, err
		}
		var flat []float64
		endss := make([][]int, 0, n)
		for i := int64(0); i < n; i++ {
			m, err := s.DecodeNumber()
			if err != nil {
				return nil, err
			}
			var ends []int
			for j := int64(0); j < m; j++ {
				coords, err := s.decodeCoords()
				if err != nil {
					return nil, err
				}
				flat = append(flat, flatten(closeRing(coords))...)
				ends = append(ends, len(flat))
			}
			endss = append(endss, ends)
		}
		return geom.NewMultiPolygonFlat(geom.XY, flat, endss), nil
	case tagGeometryCollection:
		n, err := s.DecodeNumber()
		if err != nil {
			return nil, err
		}
		gc := geom.NewGeometryCollection()
		for i := int64(0); i < n; i++ {
			sub, err := s.DecodeGeometry()
			if err != nil {
				return nil, err
			}
			if sub == nil {
				sub = geom.NewGeometryCollection()
			}
			if err := gc.Push(sub); err != nil {
				return nil, eris.Wrap(err, "geomenc: push collection geometry")
			}
		}
		return gc, nil
	default:
		return nil, eris.Errorf("geomenc: unexpected geometry tag %d", tag)
	}
}

// EncodeFeature appends one feature: delta-coded id, geometry and a
// count-prefixed property list in name order.
func (s *Stream) EncodeFeature(f Feature) error {
	s.DeltaEncodeNumber(f.ID)
	if err := s.EncodeGeometry(f.Geometry); err != nil {
		return err
	}
	s.EncodeNumber(int64(len(f.Properties)))
	names := make([]string, 0, len(f.Properties))
	for name := range f.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.EncodeString(name)
		if err := s.EncodeValue(f.Properties[name]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFeature reads one feature.
func (s *Stream) DecodeFeature() (Feature, error) {
	id, err := s.DeltaDecodeNumber()
	if err != nil {
		return Feature{}, err
	}
	g, err := s.DecodeGeometry()
	if err != nil {
		return Feature{}, err
	}
	n, err := s.DecodeNumber()
	if err != nil {
		return Feature{}, err
	}
	props := make(map[string]any, n)
	for i := int64(0); i < n; i++ {
		name, err := s.DecodeString()
		if err != nil {
			return Feature{}, err
		}
		value, err := s.DecodeValue()
		if err != nil {
			return Feature{}, err
		}
		props[name] = value
	}
	return Feature{ID: id, Geometry: g, Properties: props}, nil
}

// EncodeFeatureCollection appends a count-prefixed feature sequence sharing
// this stream's delta context.
func (s *Stream) EncodeFeatureCollection(features []Feature) error {
	s.EncodeNumber(int64(len(features)))
	for _, f := range features {
		if err := s.EncodeFeature(f); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFeatureCollection reads a count-prefixed feature sequence.
func (s *Stream) DecodeFeatureCollection() ([]Feature, error) {
	n, err := s.DecodeNumber()
	if err != nil {
		return nil, err
	}
	features := make([]Feature, 0, n)
	for i := int64(0); i < n; i++ {
		f, err := s.DecodeFeature()
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, nil
}

func flatten(coords []geom.Coord) []float64 {
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c[0], c[1])
	}
	return flat
}
