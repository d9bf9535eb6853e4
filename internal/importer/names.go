package importer

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nutiteq/mobile-sdk-scripts/internal/model"
)

// storeTokens computes the final IDF weights and writes the token table,
// one extra row per abbreviation alias sharing the canonical token's id.
func (s *Session) storeTokens(ctx context.Context) error {
	s.registry.ComputeIDF()
	for _, tok := range s.registry.All() {
		if _, err := s.tx.ExecContext(ctx,
			`INSERT INTO tokens(id, token, idf, typemask) VALUES(?, ?, ?, ?)`,
			tok.ID, tok.Name, tok.IDF, tok.TypeMask); err != nil {
			return eris.Wrap(err, "importer: insert token")
		}
		for _, alias := range s.registry.Aliases(tok) {
			if _, err := s.tx.ExecContext(ctx,
				`INSERT INTO tokens(id, token, idf, typemask) VALUES(?, ?, ?, ?)`,
				alias.ID, alias.Alias, tok.IDF, tok.TypeMask); err != nil {
				return eris.Wrap(err, "importer: insert token alias")
			}
		}
	}
	return nil
}

// storeNames writes one names row per item name variant, all sharing the
// item's id, plus the nametokens links resolved through the registry.
func (s *Session) storeNames(ctx context.Context) error {
	for _, class := range model.AncestorClasses {
		for _, item := range s.sortedItems(class) {
			dbid := item.DBIDs[class]
			if dbid == 0 {
				s.log.Warn("item missing id", zap.String("name", item.Name))
				continue
			}
			linked := map[int64]bool{}
			variants := append([]NameVariant{{Name: item.Name}}, item.ExtraNames...)
			for _, variant := range variants {
				if _, err := s.tx.ExecContext(ctx,
					`INSERT INTO names(id, lang, name, type) VALUES(?, ?, ?, ?)`,
					dbid, nullString(variant.Lang), variant.Name, int(class)); err != nil {
					return eris.Wrap(err, "importer: insert name")
				}
				for _, word := range s.tokenizer.Tokenize(variant.Name) {
					tok, ok := s.registry.Lookup(word, variant.Lang)
					if !ok {
						s.log.Warn("token missing", zap.String("token", word))
						continue
					}
					if linked[tok.ID] {
						continue
					}
					linked[tok.ID] = true
					if _, err := s.tx.ExecContext(ctx,
						`INSERT INTO nametokens(name_id, token_id) VALUES(?, ?)`,
						dbid, tok.ID); err != nil {
						return eris.Wrap(err, "importer: insert name token")
					}
				}
			}
		}
	}
	return nil
}

func nullString(str string) sql.NullString {
	if str == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: str, Valid: true}
}
