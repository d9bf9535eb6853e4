package importer

import (
	"context"

	"github.com/rotisserie/eris"
)

// loadCategories fetches the category tags of a staged entity. Categories
// are only tracked when enabled.
func (s *Session) loadCategories(ctx context.Context, entityID int64) ([]string, error) {
	if !s.opts.ImportCategories {
		return nil, nil
	}
	rows, err := s.tx.QueryContext(ctx, `
		SELECT c.category FROM categories c, entitycategories ec
		WHERE c.id=ec.category_id AND ec.entity_id=?`, entityID)
	if err != nil {
		return nil, eris.Wrap(err, "importer: load categories")
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, eris.Wrap(err, "importer: scan category")
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

// storeCategories interns each category string and links it to the entity.
func (s *Session) storeCategories(ctx context.Context, entityID int64, categories []string) error {
	if !s.opts.ImportCategories {
		return nil
	}
	for _, category := range categories {
		id, ok := s.categoryIDs[category]
		if !ok {
			res, err := s.tx.ExecContext(ctx,
				`INSERT INTO categories(category) VALUES(?)`, category)
			if err != nil {
				return eris.Wrap(err, "importer: insert category")
			}
			if id, err = res.LastInsertId(); err != nil {
				return eris.Wrap(err, "importer: category id")
			}
			s.categoryIDs[category] = id
		}
		if _, err := s.tx.ExecContext(ctx,
			`INSERT INTO entitycategories(entity_id, category_id) VALUES(?, ?)`, entityID, id); err != nil {
			return eris.Wrap(err, "importer: link category")
		}
	}
	return nil
}

func categorySetsEqual(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, category := range a {
		set[category] = true
	}
	matched := map[string]bool{}
	for _, category := range b {
		if !set[category] {
			return false
		}
		matched[category] = true
	}
	return len(matched) == len(set)
}
