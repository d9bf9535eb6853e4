package importer

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/nutiteq/mobile-sdk-scripts/internal/geomenc"
	"github.com/nutiteq/mobile-sdk-scripts/internal/model"
)

// finalize derives the final relational shape: per-entity type codes,
// the entitynames join table, usage counters, tokenized housenumber names,
// fixed-point ranks and the final indices. The staging table is dropped at
// the end.
func (s *Session) finalize(ctx context.Context) error {
	if err := s.buildEntityNames(ctx); err != nil {
		return err
	}
	if err := s.updateUsageCounters(ctx); err != nil {
		return err
	}
	if err := s.insertMetadata(ctx, "rank_scale", strconv.Itoa(RankScale)); err != nil {
		return err
	}
	if err := s.transferEntities(ctx); err != nil {
		return err
	}
	if _, err := s.tx.ExecContext(ctx, `DROP TABLE entity_staging`); err != nil {
		return eris.Wrap(err, "importer: drop staging table")
	}
	if err := s.qualifyNameTokens(ctx); err != nil {
		return err
	}
	return s.createFinalIndices(ctx)
}

func (s *Session) buildEntityNames(ctx context.Context) error {
	for _, class := range model.AncestorClasses {
		column := class.String() + "_id"
		stmt := fmt.Sprintf(
			`INSERT INTO entitynames(entity_id, name_id) SELECT id, %s FROM entity_staging WHERE %s IS NOT NULL`,
			column, column)
		if _, err := s.tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "importer: build entitynames")
		}
	}
	return nil
}

func (s *Session) updateUsageCounters(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE INDEX entitynames_entity_name_id ON entitynames(entity_id, name_id)`,
		`CREATE INDEX entitynames_name_id ON entitynames(name_id)`,
		`UPDATE names SET entitycount=(SELECT COUNT(*) FROM entitynames WHERE entitynames.name_id=names.id)`,
		`CREATE INDEX nametokens_token_name_id ON nametokens (token_id, name_id)`,
		`UPDATE tokens SET namecount=(SELECT COUNT(*) FROM nametokens WHERE nametokens.token_id=tokens.id)`,
	} {
		if _, err := s.tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "importer: update usage counters")
		}
	}
	return nil
}

// transferEntities moves staged rows into the final entities table: the most
// specific populated level becomes the type, housenumber text becomes
// tokenized Name rows referenced by an encoded id list, and the float rank
// scales to a fixed-point integer.
type stagedEntity struct {
	id           int64
	housenumbers sql.NullString
	features     []byte
	quad         int64
	rank         float64
	dbids        map[model.Class]sql.NullInt64
}

func (s *Session) transferEntities(ctx context.Context) error {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, housenumbers, features, quadindex, rank, country_id, region_id, county_id,
			locality_id, neighbourhood_id, street_id, name_id
		FROM entity_staging ORDER BY id`)
	if err != nil {
		return eris.Wrap(err, "importer: query staged rows")
	}
	var staged []stagedEntity
	for rows.Next() {
		row := stagedEntity{dbids: map[model.Class]sql.NullInt64{}}
		var country, region, county, locality, neighbourhood, street, name sql.NullInt64
		if err := rows.Scan(&row.id, &row.housenumbers, &row.features, &row.quad, &row.rank,
			&country, &region, &county, &locality, &neighbourhood, &street, &name); err != nil {
			rows.Close()
			return eris.Wrap(err, "importer: scan staged row")
		}
		row.dbids[model.ClassCountry] = country
		row.dbids[model.ClassRegion] = region
		row.dbids[model.ClassCounty] = county
		row.dbids[model.ClassLocality] = locality
		row.dbids[model.ClassNeighbourhood] = neighbourhood
		row.dbids[model.ClassStreet] = street
		row.dbids[model.ClassName] = name
		staged = append(staged, row)
	}
	if err := rows.Close(); err != nil {
		return eris.Wrap(err, "importer: iterate staged rows")
	}

	var nameID int64
	if err := s.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM names`).Scan(&nameID); err != nil {
		return eris.Wrap(err, "importer: max name id")
	}

	houseNames := map[string]int64{}
	for _, row := range staged {
		class := deriveEntityType(row)

		stream := geomenc.New()
		if row.housenumbers.Valid {
			for _, housenumber := range strings.Split(row.housenumbers.String, "|") {
				id, ok := houseNames[housenumber]
				if !ok {
					nameID++
					id = nameID
					houseNames[housenumber] = id
					if err := s.insertHousenumberName(ctx, id, housenumber); err != nil {
						return err
					}
				}
				stream.EncodeNumber(id)
			}
		}
		var housenumberBlob any
		if len(stream.Data()) > 0 {
			housenumberBlob = stream.Data()
		}

		if _, err := s.tx.ExecContext(ctx, `
			INSERT INTO entities(id, type, features, housenumbers, quadindex, rank)
			VALUES(?, ?, ?, ?, ?, ?)`,
			row.id, int(class), row.features, housenumberBlob, row.quad,
			int64(row.rank*RankScale)); err != nil {
			return eris.Wrap(err, "importer: insert final entity")
		}
	}
	return nil
}

// deriveEntityType picks the most specific populated level.
func deriveEntityType(row stagedEntity) model.Class {
	switch {
	case row.dbids[model.ClassName].Valid:
		return model.ClassName
	case row.housenumbers.Valid:
		return model.ClassHousenumber
	case row.dbids[model.ClassStreet].Valid:
		return model.ClassStreet
	case row.dbids[model.ClassNeighbourhood].Valid:
		return model.ClassNeighbourhood
	case row.dbids[model.ClassLocality].Valid:
		return model.ClassLocality
	case row.dbids[model.ClassCounty].Valid:
		return model.ClassCounty
	case row.dbids[model.ClassRegion].Valid:
		return model.ClassRegion
	case row.dbids[model.ClassCountry].Valid:
		return model.ClassCountry
	default:
		return model.ClassNone
	}
}

// insertHousenumberName adds one housenumber Name row and its token links,
// resolved against the already-stored tokens table.
func (s *Session) insertHousenumberName(ctx context.Context, nameID int64, housenumber string) error {
	if _, err := s.tx.ExecContext(ctx,
		`INSERT INTO names(id, lang, name, type) VALUES(?, NULL, ?, ?)`,
		nameID, housenumber, int(model.ClassHousenumber)); err != nil {
		return eris.Wrap(err, "importer: insert housenumber name")
	}
	for _, word := range s.tokenizer.Tokenize(housenumber) {
		tokenIDs, err := s.lookupTokenIDs(ctx, word)
		if err != nil {
			return err
		}
		for _, tokenID := range tokenIDs {
			if _, err := s.tx.ExecContext(ctx,
				`INSERT INTO nametokens(name_id, token_id) VALUES(?, ?)`,
				nameID, tokenID); err != nil {
				return eris.Wrap(err, "importer: insert housenumber token")
			}
		}
	}
	return nil
}

func (s *Session) lookupTokenIDs(ctx context.Context, word string) ([]int64, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT id FROM tokens WHERE token=?`, word)
	if err != nil {
		return nil, eris.Wrap(err, "importer: lookup token")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "importer: scan token id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// qualifyNameTokens rebuilds the nametokens rows of every name id that has
// language-qualified variants, carrying the language through so lookups can
// respect it.
func (s *Session) qualifyNameTokens(ctx context.Context) error {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, name, lang FROM names
		WHERE id IN (SELECT id FROM names WHERE lang IS NOT NULL)`)
	if err != nil {
		return eris.Wrap(err, "importer: query qualified names")
	}
	type nameRow struct {
		id   int64
		name string
		lang sql.NullString
	}
	var qualified []nameRow
	for rows.Next() {
		var row nameRow
		if err := rows.Scan(&row.id, &row.name, &row.lang); err != nil {
			rows.Close()
			return eris.Wrap(err, "importer: scan qualified name")
		}
		qualified = append(qualified, row)
	}
	if err := rows.Close(); err != nil {
		return eris.Wrap(err, "importer: iterate qualified names")
	}

	if _, err := s.tx.ExecContext(ctx,
		`DELETE FROM nametokens WHERE name_id IN (SELECT id FROM names WHERE lang IS NOT NULL)`); err != nil {
		return eris.Wrap(err, "importer: clear qualified name tokens")
	}
	for _, row := range qualified {
		for _, word := range s.tokenizer.Tokenize(row.name) {
			if _, err := s.tx.ExecContext(ctx,
				`INSERT INTO nametokens(name_id, token_id, lang) SELECT ?, id, ? FROM tokens WHERE token=?`,
				row.id, row.lang, word); err != nil {
				return eris.Wrap(err, "importer: insert qualified name token")
			}
		}
	}
	return nil
}

func (s *Session) createFinalIndices(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE INDEX tokens_id ON tokens (id)`,
		`CREATE INDEX tokens_token ON tokens (token)`,
		`CREATE INDEX names_id ON names (id)`,
		`CREATE INDEX nametokens_name_id ON nametokens (name_id)`,
		`CREATE INDEX entities_id ON entities (id)`,
		`CREATE INDEX entities_type ON entities (type)`,
		`CREATE INDEX entities_quadindex ON entities (quadindex)`,
		`CREATE INDEX entitycategories_entity_id ON entitycategories (entity_id)`,
	} {
		if _, err := s.tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "importer: create final indices")
		}
	}
	return nil
}
