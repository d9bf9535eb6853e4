package importer

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nutiteq/mobile-sdk-scripts/internal/geomutil"
	"github.com/nutiteq/mobile-sdk-scripts/internal/model"
	"github.com/nutiteq/mobile-sdk-scripts/internal/token"
)

// Hierarchy levels strictly coarsen, so cycles cannot occur by construction;
// the depth limit is a guard against corrupt gazetteer data.
const maxHierarchyDepth = 16

var preferredNamePattern = regexp.MustCompile(`^name:(.*)_x_preferred$`)

// mapEntityParent resolves a gazetteer place into a registered item and
// returns its database id, or 0 when the place cannot be used. Results are
// memoized per (class, place id); same-type items sharing name and aliases
// merge in place, summing populations and unioning geometry.
func (s *Session) mapEntityParent(ctx context.Context, placeID int64, class model.Class, depth int) (int64, error) {
	if placeID <= 0 {
		return 0, nil
	}
	if depth > maxHierarchyDepth {
		s.log.Warn("hierarchy recursion limit reached", zap.Int64("id", placeID))
		return 0, nil
	}
	ref := itemRef{placeID: placeID}
	if dbid, ok := s.refToDBID[class][ref]; ok {
		return dbid, nil
	}

	s.nameCounter++
	dbid := s.nameCounter
	s.refToDBID[class][ref] = dbid
	s.dbidToRef[class][dbid] = ref

	place, err := s.locator.FindPlace(ctx, placeID)
	if err != nil {
		return 0, err
	}
	if s.opts.ClipBounds != nil {
		bounds, ok := geomutil.GeometryBounds(place.Geometry)
		if !ok || !geomutil.TestClipBounds(bounds, *s.opts.ClipBounds) {
			s.log.Warn("place outside clip bounds", zap.Int64("id", placeID))
			s.refToDBID[class][ref] = 0
			return 0, nil
		}
	}

	countryLang := s.dicts.CountryLanguage(stringProp(place.Properties, "wof:country"))
	var officialISO3, officialLang string
	if langs := stringListProp(place.Properties, "wof:lang_x_official"); len(langs) > 0 {
		officialISO3 = langs[0]
		officialLang, _ = s.dicts.ISO2Lang(officialISO3)
	}

	name := stringProp(place.Properties, "wof:name")
	if name == "" {
		s.log.Warn("place has no name", zap.Int64("id", placeID), zap.String("class", class.String()))
		s.refToDBID[class][ref] = 0
		return 0, nil
	}
	if officialLang != "" {
		if names := stringListProp(place.Properties, "name:"+officialISO3+"_x_preferred"); len(names) > 0 {
			name = names[0]
		}
	}
	name = token.Normalize(name)

	extraNames := s.translatedNames(place.Properties, name)
	for _, toponym := range s.dicts.Toponyms(countryLang)[strings.ToLower(name)] {
		extraNames = append(extraNames, NameVariant{Lang: countryLang, Name: toponym})
	}

	item := &Item{
		Class:      class,
		Name:       name,
		ExtraNames: extraNames,
		Geometry:   place.Geometry,
		DBIDs:      map[model.Class]int64{class: dbid},
	}
	if population, ok := numberProp(place.Properties, "gn:population"); ok {
		item.Population = population
		item.HasPopulation = true
	}

	// Same-type places sharing the full name set collapse into one item.
	for _, old := range s.sortedItems(class) {
		if old.Name != item.Name || !variantsEqual(old.ExtraNames, item.ExtraNames) {
			continue
		}
		if old.HasPopulation || item.HasPopulation {
			old.Population += item.Population
			old.HasPopulation = true
		}
		geoms := append(geomutil.Flatten(old.Geometry), geomutil.Flatten(item.Geometry)...)
		if merged := geomutil.Collect(geoms); merged != nil {
			old.Geometry = merged
		}
		s.refToDBID[class][ref] = old.DBIDs[class]
		return old.DBIDs[class], nil
	}

	if len(place.Hierarchy) > 0 {
		for _, placetype := range sortedKeys(place.Hierarchy[0]) {
			parentClass, ok := model.ClassByName(placetype)
			if !ok {
				continue
			}
			parentDBID, err := s.mapEntityParent(ctx, place.Hierarchy[0][placetype], parentClass, depth+1)
			if err != nil {
				return 0, err
			}
			if parentDBID != 0 {
				item.DBIDs[parentClass] = parentDBID
			}
		}
	}

	lang := officialLang
	if lang == "" {
		lang = countryLang
	}
	s.registry.Add(name, class, lang)
	for _, variant := range item.ExtraNames {
		s.registry.Add(variant.Name, class, variant.Lang)
	}

	s.items[class][ref] = item
	return dbid, nil
}

// translatedNames extracts the preferred per-language name variants that
// differ from the canonical name.
func (s *Session) translatedNames(props map[string]any, name string) []NameVariant {
	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var variants []NameVariant
	for _, key := range keys {
		match := preferredNamePattern.FindStringSubmatch(key)
		if match == nil {
			continue
		}
		lang, ok := s.dicts.ISO2Lang(match[1])
		if !ok {
			continue
		}
		names := stringListProp(props, key)
		if len(names) == 0 {
			continue
		}
		local := token.Normalize(names[0])
		if local != name {
			variants = append(variants, NameVariant{Lang: lang, Name: local})
		}
	}
	return variants
}

// mapEntityName registers a free-text name (street, postcode, POI name) as
// an item of the given class and returns its database id; "" maps to 0.
func (s *Session) mapEntityName(name string, class model.Class, extraNames []NameVariant) int64 {
	if name == "" {
		return 0
	}
	name = token.Normalize(name)
	normalized := make([]NameVariant, 0, len(extraNames))
	for _, variant := range extraNames {
		normalized = append(normalized, NameVariant{Lang: variant.Lang, Name: token.Normalize(variant.Name)})
		s.registry.Add(normalized[len(normalized)-1].Name, class, variant.Lang)
	}

	ref := itemRef{name: name}
	if item, ok := s.items[class][ref]; ok && len(normalized) > 0 {
		for _, variant := range normalized {
			if !containsVariant(item.ExtraNames, variant) {
				item.ExtraNames = append(item.ExtraNames, variant)
			}
		}
	}
	if dbid, ok := s.refToDBID[class][ref]; ok {
		return dbid
	}

	s.nameCounter++
	dbid := s.nameCounter
	s.refToDBID[class][ref] = dbid
	s.dbidToRef[class][dbid] = ref

	item := &Item{
		Class:      class,
		Name:       name,
		ExtraNames: normalized,
		DBIDs:      map[model.Class]int64{class: dbid},
	}
	s.registry.Add(name, class, "")
	s.items[class][ref] = item
	return dbid
}

func containsVariant(list []NameVariant, v NameVariant) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func stringProp(props map[string]any, key string) string {
	if value, ok := props[key].(string); ok {
		return value
	}
	return ""
}

func stringListProp(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, value := range raw {
		if str, ok := value.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func numberProp(props map[string]any, key string) (int64, bool) {
	switch value := props[key].(type) {
	case float64:
		return int64(value), true
	case json.Number:
		if n, err := value.Int64(); err == nil {
			return n, true
		}
	}
	return 0, false
}
