// Package quadindex locates geometries on the spherical-Mercator quad-tile
// pyramid and packs tile addresses into single sortable integers used as a
// coarse spatial pre-filter.
package quadindex

import "math"

const (
	// EarthRadius is the spherical Mercator earth radius in meters.
	EarthRadius = 6378137.0
	// MaxLevel caps the tile pyramid depth.
	MaxLevel = 18
	// LevelBits is the number of low bits reserved for the level.
	LevelBits = 5

	degToRad = math.Pi / 180.0
	radToDeg = 180.0 / math.Pi
)

// Tile addresses one quad-tile.
type Tile struct {
	Level int
	X     int64
	Y     int64
}

// WGSToMercator projects a WGS84 lon/lat to Web-Mercator meters.
func WGSToMercator(lon, lat float64) (float64, float64) {
	x := EarthRadius * lon * degToRad
	a := lat * degToRad
	y := 0.5 * EarthRadius * math.Log((1.0+math.Sin(a))/(1.0-math.Sin(a)))
	return x, y
}

// MercatorToWGS projects Web-Mercator meters back to WGS84 lon/lat.
func MercatorToWGS(x, y float64) (float64, float64) {
	lon := x / EarthRadius * radToDeg
	wraps := math.Floor((lon + 180.0) / 360.0)
	lon -= wraps * 360.0
	lat := (0.5*math.Pi - 2.0*math.Atan(math.Exp(-y/EarthRadius))) * radToDeg
	return lon, lat
}

// PointTile returns the tile containing a Mercator point at the given level.
func PointTile(x, y float64, level int) Tile {
	d := EarthRadius * math.Pi
	s := 2 * d / float64(int64(1)<<level)
	return Tile{
		Level: level,
		X:     int64(math.Floor((x + d) / s)),
		Y:     int64(math.Floor((y + d) / s)),
	}
}

// Bounds returns the tile's extent in Mercator meters as (minX, minY, maxX, maxY).
func (t Tile) Bounds() (float64, float64, float64, float64) {
	d := EarthRadius * math.Pi
	s := 2 * d / float64(int64(1)<<t.Level)
	x0 := float64(t.X)*s - d
	y0 := float64(t.Y)*s - d
	return x0, y0, x0 + s, y0 + s
}

// Index packs (level, x, y) into one sortable integer.
func (t Tile) Index() int64 {
	return int64(t.Level) | ((t.Y<<t.Level)+t.X)<<LevelBits
}

func boundsIntersect(a0, a1, a2, a3, b0, b1, b2, b3 float64) bool {
	if a0 >= b2 || a2 < b0 {
		return false
	}
	if a1 >= b3 || a3 < b1 {
		return false
	}
	return true
}

// GeometryIndex returns the packed index of the minimal quad-tile fully
// containing the WGS84 bounding box (minLon, minLat, maxLon, maxLat).
// Descent stops when more than one child quadrant intersects the box or
// MaxLevel is reached.
func GeometryIndex(minLon, minLat, maxLon, maxLat float64) int64 {
	gx0, gy0 := WGSToMercator(minLon, minLat)
	gx1, gy1 := WGSToMercator(maxLon, maxLat)

	tile := Tile{}
	for tile.Level < MaxLevel {
		var hits []Tile
		for i := int64(0); i < 4; i++ {
			sub := Tile{Level: tile.Level + 1, X: tile.X*2 + i/2, Y: tile.Y*2 + i%2}
			x0, y0, x1, y1 := sub.Bounds()
			if boundsIntersect(x0, y0, x1, y1, gx0, gy0, gx1, gy1) {
				hits = append(hits, sub)
			}
		}
		if len(hits) != 1 {
			break
		}
		tile = hits[0]
	}
	return tile.Index()
}
