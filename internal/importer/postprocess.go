package importer

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/nutiteq/mobile-sdk-scripts/internal/geomenc"
	"github.com/nutiteq/mobile-sdk-scripts/internal/geomutil"
	"github.com/nutiteq/mobile-sdk-scripts/internal/quadindex"
	"github.com/nutiteq/mobile-sdk-scripts/internal/token"
)

// postProcess re-encodes every staged entity against a shared origin:
// features regroup by housenumber, duplicates merge, geometry simplifies
// (unless housenumbers pin exact points), and the quad index is computed
// from the final bounds. Entities with uncomputable bounds are dropped.
func (s *Session) postProcess(ctx context.Context) error {
	if err := s.computeOrigin(ctx); err != nil {
		return err
	}

	type stagedRow struct {
		id           int64
		features     []byte
		housenumbers sql.NullString
	}
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, features, housenumbers FROM entity_staging ORDER BY id`)
	if err != nil {
		return eris.Wrap(err, "importer: query staged entities")
	}
	var staged []stagedRow
	for rows.Next() {
		var row stagedRow
		if err := rows.Scan(&row.id, &row.features, &row.housenumbers); err != nil {
			rows.Close()
			return eris.Wrap(err, "importer: scan staged entity")
		}
		staged = append(staged, row)
	}
	if err := rows.Close(); err != nil {
		return eris.Wrap(err, "importer: iterate staged entities")
	}

	for _, row := range staged {
		collections, housenumbers, err := s.regroupFeatures(row.features, row.housenumbers)
		if err != nil {
			return err
		}

		simplify := len(housenumbers) == 0
		for i := range collections {
			collections[i] = s.mergeCollectionFeatures(collections[i], simplify)
		}

		stream := geomenc.New()
		stream.Reset(s.origin[0], s.origin[1])
		var geometries []geom.T
		for _, collection := range collections {
			if err := stream.EncodeFeatureCollection(collection); err != nil {
				return err
			}
			for _, feature := range collection {
				geometries = append(geometries, feature.Geometry)
			}
		}

		bounds, ok := geomutil.GeometryBounds(geomutil.Collect(geometries))
		if !ok {
			s.log.Warn("removing entity due to illegal geometry", zap.Int64("id", row.id))
			if _, err := s.tx.ExecContext(ctx, `DELETE FROM entity_staging WHERE id=?`, row.id); err != nil {
				return eris.Wrap(err, "importer: remove invalid entity")
			}
			continue
		}
		quad := quadindex.GeometryIndex(bounds.MinX, bounds.MinY, bounds.MaxX, bounds.MaxY)
		s.geomBounds, s.geomBoundsOK = geomutil.MergeBounds(s.geomBounds, s.geomBoundsOK, bounds, true)

		var housenumberText any
		if len(housenumbers) > 0 {
			housenumberText = strings.Join(housenumbers, "|")
		}
		if _, err := s.tx.ExecContext(ctx,
			`UPDATE entity_staging SET features=?, housenumbers=?, quadindex=? WHERE id=?`,
			stream.Data(), housenumberText, quad, row.id); err != nil {
			return eris.Wrap(err, "importer: update entity geometry")
		}
	}

	if s.geomBoundsOK {
		bounds := fmt.Sprintf("%s,%s,%s,%s",
			formatCoord(s.geomBounds.MinX), formatCoord(s.geomBounds.MinY),
			formatCoord(s.geomBounds.MaxX), formatCoord(s.geomBounds.MaxY))
		if err := s.insertMetadata(ctx, "bounds", bounds); err != nil {
			return err
		}
	}
	if err := s.insertMetadata(ctx, "origin",
		formatCoord(s.origin[0])+","+formatCoord(s.origin[1])); err != nil {
		return err
	}
	if err := s.insertMetadata(ctx, "encoding_precision", formatCoord(geomenc.Precision)); err != nil {
		return err
	}
	return s.insertMetadata(ctx, "quadindex_level", strconv.Itoa(quadindex.MaxLevel))
}

// computeOrigin averages the bounding-box centers of all staged features;
// re-encoding against this origin minimizes delta magnitudes.
func (s *Session) computeOrigin(ctx context.Context) error {
	rows, err := s.tx.QueryContext(ctx, `SELECT features FROM entity_staging`)
	if err != nil {
		return eris.Wrap(err, "importer: query staged features")
	}
	defer rows.Close()

	var originX, originY float64
	count := 0
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return eris.Wrap(err, "importer: scan staged features")
		}
		stream := geomenc.From(blob)
		for !stream.EOF() {
			stream.Reset(0, 0)
			feature, err := stream.DecodeFeature()
			if err != nil {
				return eris.Wrap(err, "importer: decode staged feature")
			}
			count++
			bounds, ok := geomutil.GeometryBounds(feature.Geometry)
			if !ok {
				continue
			}
			cx, cy := bounds.Center()
			originX += (cx - originX) / float64(count)
			originY += (cy - originY) / float64(count)
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "importer: iterate staged features")
	}
	s.origin = [2]float64{originX, originY}
	return nil
}

// regroupFeatures decodes a staged blob into feature collections, one per
// distinct normalized housenumber (or one per feature when there are none).
// Staged features were encoded independently, so the delta context resets
// before each.
func (s *Session) regroupFeatures(blob []byte, housenumbers sql.NullString) ([][]geomenc.Feature, []string, error) {
	var parts []string
	if housenumbers.Valid {
		parts = strings.Split(housenumbers.String, "|")
	}

	var collections [][]geomenc.Feature
	var normalized []string
	index := 0
	stream := geomenc.From(blob)
	for !stream.EOF() {
		stream.Reset(0, 0)
		feature, err := stream.DecodeFeature()
		if err != nil {
			return nil, nil, eris.Wrap(err, "importer: decode staged feature")
		}
		if !geomutil.Validate(feature.Geometry) {
			s.log.Warn("geometry not valid", zap.Int64("id", feature.ID))
		}
		if !s.opts.ImportIDs {
			feature.ID = 0
		}

		if index < len(parts) {
			housenumber := token.Normalize(parts[index])
			slot := indexOf(normalized, housenumber)
			if slot < 0 {
				normalized = append(normalized, housenumber)
				collections = append(collections, []geomenc.Feature{feature})
			} else {
				collections[slot] = append(collections[slot], feature)
			}
		} else {
			collections = append(collections, []geomenc.Feature{feature})
		}
		index++
	}
	return collections, normalized, nil
}

// mergeCollectionFeatures unions features sharing identical id and
// properties, then optionally simplifies each survivor.
func (s *Session) mergeCollectionFeatures(features []geomenc.Feature, simplify bool) []geomenc.Feature {
	out := make([]geomenc.Feature, 0, len(features))
	used := make([]bool, len(features))
	for i := range features {
		if used[i] {
			continue
		}
		group := []geom.T{features[i].Geometry}
		for j := i + 1; j < len(features); j++ {
			if used[j] {
				continue
			}
			if features[j].ID == features[i].ID && propsEqual(features[j].Properties, features[i].Properties) {
				group = append(group, features[j].Geometry)
				used[j] = true
			}
		}
		geometry := features[i].Geometry
		if len(group) > 1 {
			geometry = geomutil.Merge(group)
		}
		if simplify {
			geometry = geomutil.Simplify(geometry, geomutil.SimplificationFactor)
		}
		out = append(out, geomenc.Feature{
			ID:         features[i].ID,
			Geometry:   geometry,
			Properties: features[i].Properties,
		})
	}
	return out
}

// propsEqual compares decoded property maps; decoded values are always
// scalars, so plain equality suffices.
func propsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		if other, ok := b[key]; !ok || other != value {
			return false
		}
	}
	return true
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'g', 16, 64)
}
