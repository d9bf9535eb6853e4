package importer

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/nutiteq/mobile-sdk-scripts/internal/geomenc"
	"github.com/nutiteq/mobile-sdk-scripts/internal/model"
)

// importGazetteerGeometries stages one entity per registered gazetteer item
// carrying geometry, so named places are findable without an address record.
// An earlier staged row with the same ancestor key is replaced; rows whose
// name matches a POI name keep the POI variant.
func (s *Session) importGazetteerGeometries(ctx context.Context) error {
	for _, class := range model.AncestorClasses {
		for _, item := range s.sortedItems(class) {
			if item.Geometry == nil {
				continue
			}
			ref := s.dbidToRef[class][item.DBIDs[class]]

			stream := geomenc.New()
			err := stream.EncodeFeature(geomenc.Feature{
				ID:         ref.placeID,
				Geometry:   item.Geometry,
				Properties: map[string]any{},
			})
			if err != nil {
				return err
			}

			var nameID int64
			if named, ok := s.items[model.ClassName][itemRef{name: item.Name}]; ok {
				nameID = named.DBIDs[model.ClassName]
			}

			if _, err := s.tx.ExecContext(ctx, `
				DELETE FROM entity_staging
				WHERE country_id IS ? AND region_id IS ? AND county_id IS ? AND locality_id IS ?
				  AND neighbourhood_id IS ? AND street_id IS ? AND (name_id IS NULL OR name_id=?)`,
				nullID(item.DBIDs, model.ClassCountry), nullID(item.DBIDs, model.ClassRegion),
				nullID(item.DBIDs, model.ClassCounty), nullID(item.DBIDs, model.ClassLocality),
				nullID(item.DBIDs, model.ClassNeighbourhood), nullID(item.DBIDs, model.ClassStreet),
				nameID,
			); err != nil {
				return eris.Wrap(err, "importer: replace place entity")
			}

			if _, err := s.tx.ExecContext(ctx, `
				INSERT INTO entity_staging(country_id, region_id, county_id, locality_id,
					neighbourhood_id, street_id, postcode_id, name_id, housenumbers, features, quadindex, rank)
				VALUES(?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, 0, ?)`,
				nullID(item.DBIDs, model.ClassCountry), nullID(item.DBIDs, model.ClassRegion),
				nullID(item.DBIDs, model.ClassCounty), nullID(item.DBIDs, model.ClassLocality),
				nullID(item.DBIDs, model.ClassNeighbourhood), nullID(item.DBIDs, model.ClassStreet),
				stream.Data(), s.rankOf(item.DBIDs),
			); err != nil {
				return eris.Wrap(err, "importer: insert place entity")
			}
		}
	}
	return nil
}
