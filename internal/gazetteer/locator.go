// Package gazetteer resolves points and place ids against a read-only
// WhosOnFirst-style place database: GeoJSON bodies in a geojson table and
// a bounding-box pre-index over current records in spr/spr_index.
package gazetteer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nutiteq/mobile-sdk-scripts/internal/geomutil"
)

// MaxGeometrySize caps the serialized size of one place geometry; larger
// geometries are progressively simplified before acceptance.
const MaxGeometrySize = 32 * 1024 * 1024

// Place is a memoized gazetteer record.
type Place struct {
	Geometry   geom.T
	Properties map[string]any
	Hierarchy  []map[string]int64
}

// Locator looks up gazetteer places. Every run holds its own Locator; the
// underlying database is never written.
type Locator struct {
	db         *sql.DB
	placetypes []string
	typeRank   map[string]int
	cache      map[int64]*Place
	log        *zap.Logger
}

// Open opens the gazetteer database read-only. placetypes lists the
// recognized place types, coarsest first.
func Open(path string, placetypes []string) (*Locator, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: open")
	}
	typeRank := make(map[string]int, len(placetypes))
	for i, pt := range placetypes {
		typeRank[pt] = i
	}
	return &Locator{
		db:         db,
		placetypes: placetypes,
		typeRank:   typeRank,
		cache:      map[int64]*Place{},
		log:        zap.L().With(zap.String("component", "gazetteer")),
	}, nil
}

func (l *Locator) Close() error {
	return l.db.Close()
}

// FindPlace fetches a place by id, memoized for the run's lifetime. A
// missing id resolves to a degenerate place with an empty geometry
// collection rather than an error.
func (l *Locator) FindPlace(ctx context.Context, id int64) (*Place, error) {
	if place, ok := l.cache[id]; ok {
		return place, nil
	}

	var body []byte
	err := l.db.QueryRowContext(ctx, `SELECT body FROM geojson WHERE id=?`, id).Scan(&body)
	if err == sql.ErrNoRows {
		l.log.Warn("place not found", zap.Int64("id", id))
		place := &Place{Geometry: geom.NewGeometryCollection(), Properties: map[string]any{}}
		l.cache[id] = place
		return place, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "gazetteer: fetch place %d", id)
	}

	place, err := l.parsePlace(id, body)
	if err != nil {
		return nil, err
	}
	l.cache[id] = place
	return place, nil
}

func (l *Locator) parsePlace(id int64, body []byte) (*Place, error) {
	var feature geojson.Feature
	if err := json.Unmarshal(body, &feature); err != nil {
		return nil, eris.Wrapf(err, "gazetteer: parse place %d", id)
	}

	geometry := feature.Geometry
	if len(body) > MaxGeometrySize {
		geometry = l.shrinkGeometry(id, geometry)
	}

	place := &Place{
		Geometry:   geometry,
		Properties: feature.Properties,
	}
	if place.Properties == nil {
		place.Properties = map[string]any{}
	}
	place.Hierarchy = l.extractHierarchy(place.Properties)
	return place, nil
}

// shrinkGeometry doubles the simplification tolerance until the serialized
// geometry fits MaxGeometrySize, giving up after six attempts.
func (l *Locator) shrinkGeometry(id int64, g geom.T) geom.T {
	for n := 10; n >= 5; n-- {
		g = geomutil.SimplifyTolerance(g, 1.0/float64(int64(1)<<n))
		data, err := geojson.Marshal(g)
		if err != nil {
			l.log.Warn("serialize during shrink failed", zap.Int64("id", id), zap.Error(err))
			return g
		}
		if len(data) <= MaxGeometrySize {
			break
		}
	}
	l.log.Info("oversized place geometry simplified", zap.Int64("id", id))
	return g
}

// extractHierarchy filters the wof:hierarchy property down to recognized
// place types, yielding one ancestor map per hierarchy variant.
func (l *Locator) extractHierarchy(props map[string]any) []map[string]int64 {
	raw, ok := props["wof:hierarchy"].([]any)
	if !ok {
		return nil
	}
	var hierarchy []map[string]int64
	for _, entry := range raw {
		places, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		level := map[string]int64{}
		for key, val := range places {
			if len(key) <= 3 || key[len(key)-3:] != "_id" {
				continue
			}
			placetype := key[:len(key)-3]
			if _, ok := l.typeRank[placetype]; !ok {
				continue
			}
			switch v := val.(type) {
			case float64:
				level[placetype] = int64(v)
			case json.Number:
				if n, err := v.Int64(); err == nil {
					level[placetype] = n
				}
			}
		}
		hierarchy = append(hierarchy, level)
	}
	return hierarchy
}

// Hierarchy returns the ancestor chains declared by a place id.
func (l *Locator) Hierarchy(ctx context.Context, id int64) ([]map[string]int64, error) {
	place, err := l.FindPlace(ctx, id)
	if err != nil {
		return nil, err
	}
	return place.Hierarchy, nil
}

type candidate struct {
	id        int64
	placetype string
}

// FindHierarchy resolves the ancestor chain of a point: bounding-box
// candidates restricted to current records of recognized place types,
// tested for true containment most specific first. Returns nil when no
// polygon contains the point.
func (l *Locator) FindHierarchy(ctx context.Context, lon, lat float64) ([]map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT s.id, s.placetype, s.is_current
		FROM spr_index si, spr s
		WHERE si.min_longitude<=? AND si.min_latitude<=?
		  AND si.max_longitude>=? AND si.max_latitude>=?
		  AND si.id=s.id
		ORDER BY (si.max_longitude-si.min_longitude)*(si.max_latitude-si.min_latitude)`,
		lon, lat, lon, lat,
	)
	if err != nil {
		return nil, eris.Wrap(err, "gazetteer: query candidates")
	}
	defer rows.Close()

	var candidates []candidate
	for rows.Next() {
		var c candidate
		var current int
		if err := rows.Scan(&c.id, &c.placetype, &current); err != nil {
			return nil, eris.Wrap(err, "gazetteer: scan candidate")
		}
		if current == 0 {
			continue
		}
		if _, ok := l.typeRank[c.placetype]; !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "gazetteer: iterate candidates")
	}

	// Most specific place type first; the area ordering above keeps smaller
	// footprints first within a type.
	sort.SliceStable(candidates, func(i, j int) bool {
		return l.typeRank[candidates[i].placetype] > l.typeRank[candidates[j].placetype]
	})

	for _, c := range candidates {
		place, err := l.FindPlace(ctx, c.id)
		if err != nil {
			return nil, err
		}
		if geomutil.ContainsPoint(place.Geometry, lon, lat) {
			return place.Hierarchy, nil
		}
	}
	return nil, nil
}
