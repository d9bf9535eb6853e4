package importer

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// The final schema is created up front; entity_staging additionally carries
// the ancestor id columns the merge phase keys on and is dropped during
// finalize.
var schemaStatements = []string{
	`CREATE TABLE metadata (name TEXT NOT NULL, value TEXT NOT NULL, UNIQUE (name))`,
	`CREATE TABLE tokens (id INTEGER NOT NULL, token TEXT NOT NULL, idf REAL NOT NULL,
		typemask INTEGER NOT NULL, namecount INTEGER NOT NULL DEFAULT 0)`,
	`CREATE TABLE names (id INTEGER NOT NULL, lang TEXT NULL, name TEXT NOT NULL,
		type INTEGER NOT NULL, entitycount INTEGER NOT NULL DEFAULT 0)`,
	`CREATE TABLE nametokens (name_id INTEGER NOT NULL, token_id INTEGER NOT NULL, lang TEXT NULL)`,
	`CREATE TABLE entities (id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT, type INTEGER NOT NULL,
		features BLOB NOT NULL, housenumbers BLOB NULL, quadindex INTEGER NOT NULL, rank INTEGER NOT NULL)`,
	`CREATE TABLE entitynames (entity_id INTEGER NOT NULL, name_id INTEGER NOT NULL)`,
	`CREATE TABLE categories (id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT, category TEXT NOT NULL)`,
	`CREATE TABLE entitycategories (entity_id INTEGER NOT NULL, category_id INTEGER NOT NULL)`,
	`CREATE TABLE entity_staging (id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		country_id INTEGER NULL, region_id INTEGER NULL, county_id INTEGER NULL,
		locality_id INTEGER NULL, neighbourhood_id INTEGER NULL, street_id INTEGER NULL,
		postcode_id INTEGER NULL, name_id INTEGER NULL, housenumbers TEXT NULL,
		features BLOB NOT NULL, quadindex INTEGER NOT NULL, rank REAL NOT NULL)`,
	`CREATE INDEX staging_all ON entity_staging (country_id, region_id, county_id, locality_id,
		neighbourhood_id, street_id, postcode_id, name_id)`,
	`CREATE INDEX staging_categories_entity_id ON entitycategories (entity_id)`,
}

func (s *Session) createSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.tx.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "importer: create schema")
		}
	}
	return nil
}

// dropStagingIndices removes the merge-phase indices between the two
// transactions; the final indices are rebuilt during finalize.
func (s *Session) dropStagingIndices(ctx context.Context) error {
	for _, stmt := range []string{
		`DROP INDEX staging_all`,
		`DROP INDEX staging_categories_entity_id`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "importer: drop staging indices")
		}
	}
	return nil
}

func (s *Session) writeMetadata(ctx context.Context) error {
	table := s.dicts.TransliterationTable()
	keys := make([]string, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+":"+table[key])
	}

	for _, row := range [][2]string{
		{"version", "1"},
		{"translation_table", strings.Join(pairs, ",")},
	} {
		if _, err := s.tx.ExecContext(ctx,
			`INSERT INTO metadata(name, value) VALUES(?, ?)`, row[0], row[1]); err != nil {
			return eris.Wrap(err, "importer: write metadata")
		}
	}
	return nil
}

func (s *Session) insertMetadata(ctx context.Context, name, value string) error {
	if _, err := s.tx.ExecContext(ctx,
		`INSERT INTO metadata(name, value) VALUES(?, ?)`, name, value); err != nil {
		return eris.Wrapf(err, "importer: insert metadata %s", name)
	}
	return nil
}
