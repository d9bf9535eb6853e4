package importer

import (
	"bufio"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/nutiteq/mobile-sdk-scripts/internal/geomenc"
	"github.com/nutiteq/mobile-sdk-scripts/internal/geomutil"
	"github.com/nutiteq/mobile-sdk-scripts/internal/model"
)

var sourceIDPattern = regexp.MustCompile(`.*[:](\d+).*`)

// flexString tolerates JSON numbers in fields that are usually strings
// (housenumbers and postcodes appear both ways in the wild).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(data)
	return nil
}

type addressParts struct {
	Number flexString `json:"number"`
	Street string     `json:"street"`
	Zip    flexString `json:"zip"`
}

type centerPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type addressData struct {
	Name         map[string]string `json:"name"`
	CenterPoint  *centerPoint      `json:"center_point"`
	AddressParts *addressParts     `json:"address_parts"`
	Category     []string          `json:"category"`
}

type addressRecord struct {
	RawID string       `json:"_id"`
	Type  string       `json:"_type"`
	Data  *addressData `json:"data"`
}

// parseAddress decodes one stream line into an explicit result; the caller
// decides skip-vs-abort.
func parseAddress(line []byte) (*addressRecord, error) {
	var record addressRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return nil, eris.Wrap(err, "importer: parse address line")
	}
	if record.Data == nil {
		return nil, eris.New("importer: address record without data")
	}
	return &record, nil
}

// importAddresses streams the gzip NDJSON address file through the per-record
// state machine. Malformed lines are skipped with a warning.
func (s *Session) importAddresses(ctx context.Context) error {
	f, err := os.Open(s.opts.AddressesPath)
	if err != nil {
		return eris.Wrap(err, "importer: open addresses stream")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return eris.Wrap(err, "importer: read addresses stream")
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		record, err := parseAddress(line)
		if err != nil {
			s.log.Warn("skipping malformed address line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		if err := s.importAddress(ctx, record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return eris.Wrap(err, "importer: scan addresses stream")
	}
	return nil
}

// entity is the transient per-record state of the import state machine.
type entity struct {
	housenumber string
	geometry    geom.T
	dbids       map[model.Class]int64
}

// importAddress resolves, classifies and merges or inserts one record.
// Rejections log and return nil; only database and gazetteer failures
// propagate.
func (s *Session) importAddress(ctx context.Context, record *addressRecord) error {
	data := record.Data

	match := sourceIDPattern.FindStringSubmatch(record.RawID)
	if match == nil {
		s.log.Warn("failed to get entity id", zap.String("raw", record.RawID))
		return nil
	}
	id, _ := strconv.ParseInt(match[1], 10, 64)

	if data.CenterPoint == nil {
		s.log.Warn("no coordinates for entity", zap.Int64("id", id))
		return nil
	}

	ent := &entity{dbids: map[model.Class]int64{}}
	hierarchy, err := s.locator.FindHierarchy(ctx, data.CenterPoint.Lon, data.CenterPoint.Lat)
	if err != nil {
		return err
	}
	if len(hierarchy) > 0 {
		for _, placetype := range sortedKeys(hierarchy[0]) {
			class, ok := model.ClassByName(placetype)
			if !ok {
				continue
			}
			dbid, err := s.mapEntityParent(ctx, hierarchy[0][placetype], class, 0)
			if err != nil {
				return err
			}
			if dbid != 0 {
				ent.dbids[class] = dbid
			}
		}
	}
	ent.geometry = geom.NewPointFlat(geom.XY, []float64{data.CenterPoint.Lon, data.CenterPoint.Lat})

	if ent.dbids[model.ClassCountry] == 0 {
		s.log.Warn("no country for entity", zap.Int64("id", id))
		return nil
	}

	streetName := ""
	if parts := data.AddressParts; parts != nil {
		streetName = parts.Street
		if parts.Street != "" {
			if dbid := s.mapEntityName(parts.Street, model.ClassStreet, nil); dbid != 0 {
				ent.dbids[model.ClassStreet] = dbid
			}
		}
		if parts.Number != "" {
			if ent.dbids[model.ClassStreet] != 0 {
				s.registry.Add(string(parts.Number), model.ClassHousenumber, "")
				ent.housenumber = string(parts.Number)
			} else {
				s.log.Warn("ignoring housenumber, street info is missing", zap.Int64("id", id))
			}
		}
		if parts.Zip != "" && ent.housenumber != "" && s.opts.ImportPostcodes {
			if dbid := s.mapEntityName(string(parts.Zip), model.ClassPostcode, nil); dbid != 0 {
				ent.dbids[model.ClassPostcode] = dbid
			}
		}
	}

	name := data.Name["default"]
	if name != "" && isNumeric(name) {
		s.log.Warn("numeric name for entity", zap.Int64("id", id), zap.String("name", name))
		return nil
	}
	var extraNames []NameVariant
	for _, lang := range sortedNameKeys(data.Name) {
		value := data.Name[lang]
		if lang != "default" && value != "" && !isNumeric(value) {
			extraNames = append(extraNames, NameVariant{Lang: lang, Name: value})
		}
	}

	if ent.dbids[model.ClassStreet] != 0 {
		if ent.housenumber != "" {
			if flat, ok := s.buildings[id]; ok {
				ent.geometry = geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
			}
		}
		if name != "" {
			combos := []string{streetName}
			if ent.housenumber != "" {
				combos = []string{
					ent.housenumber + " " + streetName,
					streetName + " " + ent.housenumber,
				}
			}
			if !containsString(combos, name) {
				if dbid := s.mapEntityName(name, model.ClassName, extraNames); dbid != 0 {
					ent.dbids[model.ClassName] = dbid
				}
			}
		}
	} else {
		if flat, ok := s.streets[id]; ok && ent.housenumber == "" {
			ent.geometry = geom.NewLineStringFlat(geom.XY, flat)
			if dbid := s.mapEntityName(name, model.ClassStreet, extraNames); dbid != 0 {
				ent.dbids[model.ClassStreet] = dbid
			}
		} else {
			if name == "" {
				s.log.Warn("no name for entity", zap.Int64("id", id))
				return nil
			}
			if dbid := s.mapEntityName(name, model.ClassName, extraNames); dbid != 0 {
				ent.dbids[model.ClassName] = dbid
			}
		}
	}

	if s.opts.ClipBounds != nil {
		bounds, ok := geomutil.GeometryBounds(ent.geometry)
		if !ok || !geomutil.TestClipBounds(bounds, *s.opts.ClipBounds) {
			s.log.Warn("entity geometry outside clip bounds", zap.Int64("id", id))
			return nil
		}
	}

	return s.mergeOrInsert(ctx, id, ent, data.Category)
}

type mergeCandidate struct {
	id           int64
	features     []byte
	housenumbers sql.NullString
	postcodeID   sql.NullInt64
}

// mergeOrInsert appends the record to a staged entity with an identical
// merge key and category set, or inserts a fresh row with a computed rank.
func (s *Session) mergeOrInsert(ctx context.Context, id int64, ent *entity, categories []string) error {
	housenumberClause := "housenumbers IS NULL"
	if ent.housenumber != "" {
		housenumberClause = "housenumbers IS NOT NULL"
	}
	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, features, housenumbers, postcode_id FROM entity_staging
		WHERE country_id IS ? AND region_id IS ? AND county_id IS ? AND locality_id IS ?
		  AND neighbourhood_id IS ? AND street_id IS ? AND name_id IS ? AND `+housenumberClause,
		nullID(ent.dbids, model.ClassCountry), nullID(ent.dbids, model.ClassRegion),
		nullID(ent.dbids, model.ClassCounty), nullID(ent.dbids, model.ClassLocality),
		nullID(ent.dbids, model.ClassNeighbourhood), nullID(ent.dbids, model.ClassStreet),
		nullID(ent.dbids, model.ClassName),
	)
	if err != nil {
		return eris.Wrap(err, "importer: query merge candidates")
	}
	var candidates []mergeCandidate
	for rows.Next() {
		var c mergeCandidate
		if err := rows.Scan(&c.id, &c.features, &c.housenumbers, &c.postcodeID); err != nil {
			rows.Close()
			return eris.Wrap(err, "importer: scan merge candidate")
		}
		candidates = append(candidates, c)
	}
	if err := rows.Close(); err != nil {
		return eris.Wrap(err, "importer: iterate merge candidates")
	}

	for _, c := range candidates {
		existing, err := s.loadCategories(ctx, c.id)
		if err != nil {
			return err
		}
		if !categorySetsEqual(existing, categories) {
			continue
		}

		stream := geomenc.From(c.features)
		if err := stream.EncodeFeature(geomenc.Feature{ID: id, Geometry: ent.geometry, Properties: map[string]any{}}); err != nil {
			return err
		}
		var housenumbers any
		if ent.housenumber != "" {
			housenumbers = c.housenumbers.String + "|" + strings.ReplaceAll(ent.housenumber, "|", " ")
		}
		postcodeID := c.postcodeID
		if !postcodeID.Valid {
			postcodeID = nullID(ent.dbids, model.ClassPostcode)
		}
		if _, err := s.tx.ExecContext(ctx,
			`UPDATE entity_staging SET features=?, housenumbers=?, postcode_id=? WHERE id=?`,
			stream.Data(), housenumbers, postcodeID, c.id); err != nil {
			return eris.Wrap(err, "importer: merge entity")
		}
		return nil
	}

	stream := geomenc.New()
	if err := stream.EncodeFeature(geomenc.Feature{ID: id, Geometry: ent.geometry, Properties: map[string]any{}}); err != nil {
		return err
	}
	var housenumbers any
	if ent.housenumber != "" {
		housenumbers = strings.ReplaceAll(ent.housenumber, "|", " ")
	}
	res, err := s.tx.ExecContext(ctx, `
		INSERT INTO entity_staging(country_id, region_id, county_id, locality_id, neighbourhood_id,
			street_id, postcode_id, name_id, housenumbers, features, quadindex, rank)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		nullID(ent.dbids, model.ClassCountry), nullID(ent.dbids, model.ClassRegion),
		nullID(ent.dbids, model.ClassCounty), nullID(ent.dbids, model.ClassLocality),
		nullID(ent.dbids, model.ClassNeighbourhood), nullID(ent.dbids, model.ClassStreet),
		nullID(ent.dbids, model.ClassPostcode), nullID(ent.dbids, model.ClassName),
		housenumbers, stream.Data(), s.rankOf(ent.dbids),
	)
	if err != nil {
		return eris.Wrap(err, "importer: insert entity")
	}
	entityID, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "importer: entity id")
	}
	return s.storeCategories(ctx, entityID, categories)
}

func nullID(dbids map[model.Class]int64, class model.Class) sql.NullInt64 {
	if dbid, ok := dbids[class]; ok && dbid != 0 {
		return sql.NullInt64{Int64: dbid, Valid: true}
	}
	return sql.NullInt64{}
}

func isNumeric(str string) bool {
	for _, r := range str {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(str) > 0
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func sortedNameKeys(names map[string]string) []string {
	keys := make([]string, 0, len(names))
	for key := range names {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
