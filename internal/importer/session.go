// Package importer builds one geocoding database from an address stream,
// optional street/building geometry streams and a read-only gazetteer.
// A Session owns every piece of run state; nothing is shared between
// concurrent runs.
package importer

import (
	"context"
	"database/sql"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nutiteq/mobile-sdk-scripts/internal/dict"
	"github.com/nutiteq/mobile-sdk-scripts/internal/gazetteer"
	"github.com/nutiteq/mobile-sdk-scripts/internal/geomutil"
	"github.com/nutiteq/mobile-sdk-scripts/internal/model"
	"github.com/nutiteq/mobile-sdk-scripts/internal/token"
)

// RankScale converts staged float ranks to the fixed-point integers stored
// in the final entities table.
const RankScale = 32767

// Options configures one import run.
type Options struct {
	OutputPath    string
	GazetteerPath string
	AddressesPath string
	StreetsPath   string
	BuildingsPath string
	DataDir       string

	ClipBounds              *geomutil.Bounds
	ImportIDs               bool
	ImportPostcodes         bool
	ImportCategories        bool
	ImportGazetteerGeometry bool
}

// NameVariant is a (language, name) pair attached to an item.
type NameVariant struct {
	Lang string
	Name string
}

// itemRef identifies an item within its class: gazetteer items by place id,
// free-text items (streets, postcodes, names) by normalized name.
type itemRef struct {
	placeID int64
	name    string
}

// Item is one registered place or name, shared by every entity that
// references it.
type Item struct {
	Class         model.Class
	Name          string
	ExtraNames    []NameVariant
	Geometry      geom.T
	Population    int64
	HasPopulation bool
	DBIDs         map[model.Class]int64
}

// Session is the mutable state of one import run. All phases run strictly
// sequentially on it.
type Session struct {
	opts      Options
	db        *sql.DB
	tx        *sql.Tx
	locator   *gazetteer.Locator
	dicts     *dict.Dictionaries
	tokenizer *token.Tokenizer
	registry  *token.Registry
	log       *zap.Logger

	nameCounter  int64
	categoryIDs  map[string]int64
	streets      map[int64][]float64
	buildings    map[int64][]float64
	items        map[model.Class]map[itemRef]*Item
	refToDBID    map[model.Class]map[itemRef]int64
	dbidToRef    map[model.Class]map[int64]itemRef
	origin       [2]float64
	geomBounds   geomutil.Bounds
	geomBoundsOK bool
}

// NewSession opens the output database (removing any stale file first) and
// the gazetteer, and loads the run dictionaries.
func NewSession(opts Options) (*Session, error) {
	if err := os.Remove(opts.OutputPath); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "importer: remove stale output")
	}

	db, err := sql.Open("sqlite", opts.OutputPath)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open output")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA locking_mode=EXCLUSIVE",
		"PRAGMA synchronous=OFF",
		"PRAGMA page_size=4096",
		"PRAGMA encoding='UTF-8'",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "importer: %s", pragma)
		}
	}

	placetypes := make([]string, 0, len(model.Classes))
	for _, class := range model.Classes {
		placetypes = append(placetypes, class.String())
	}
	locator, err := gazetteer.Open(opts.GazetteerPath, placetypes)
	if err != nil {
		db.Close()
		return nil, err
	}

	dicts, err := dict.Load(opts.DataDir)
	if err != nil {
		locator.Close()
		db.Close()
		return nil, err
	}
	tokenizer := token.NewTokenizer(dicts)

	s := &Session{
		opts:        opts,
		db:          db,
		locator:     locator,
		dicts:       dicts,
		tokenizer:   tokenizer,
		registry:    token.NewRegistry(tokenizer, dicts),
		log:         zap.L().With(zap.String("component", "importer")),
		categoryIDs: map[string]int64{},
		streets:     map[int64][]float64{},
		buildings:   map[int64][]float64{},
		items:       map[model.Class]map[itemRef]*Item{},
		refToDBID:   map[model.Class]map[itemRef]int64{},
		dbidToRef:   map[model.Class]map[int64]itemRef{},
	}
	for _, class := range model.AncestorClasses {
		s.items[class] = map[itemRef]*Item{}
		s.refToDBID[class] = map[itemRef]int64{}
		s.dbidToRef[class] = map[int64]itemRef{}
	}
	return s, nil
}

// Close releases the gazetteer and output database handles.
func (s *Session) Close() error {
	err := s.locator.Close()
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

// Run executes the full import. The phase order is fixed: every later phase
// depends on in-memory maps populated by the earlier ones. Two transactions
// bound durability; a crash between them leaves a journal file behind, which
// callers treat as a failed run.
func (s *Session) Run(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "importer: begin")
	}
	s.tx = tx

	if err := s.createSchema(ctx); err != nil {
		return err
	}
	if err := s.writeMetadata(ctx); err != nil {
		return err
	}

	if s.opts.StreetsPath != "" {
		if s.streets, err = s.loadWayGeometries(s.opts.StreetsPath, "streets"); err != nil {
			return err
		}
	}
	if s.opts.BuildingsPath != "" {
		if s.buildings, err = s.loadWayGeometries(s.opts.BuildingsPath, "buildings"); err != nil {
			return err
		}
	}

	if err := s.importAddresses(ctx); err != nil {
		return err
	}
	if s.opts.ImportGazetteerGeometry {
		if err := s.importGazetteerGeometries(ctx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "importer: commit staging")
	}
	if err := s.dropStagingIndices(ctx); err != nil {
		return err
	}

	tx, err = s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "importer: begin finalize")
	}
	s.tx = tx

	if err := s.postProcess(ctx); err != nil {
		return err
	}
	if err := s.storeTokens(ctx); err != nil {
		return err
	}
	if err := s.storeNames(ctx); err != nil {
		return err
	}
	if err := s.finalize(ctx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "importer: commit finalize")
	}
	s.tx = nil

	for _, stmt := range []string{"VACUUM", "ANALYZE"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "importer: %s", stmt)
		}
	}
	return nil
}

// sortedItems returns a class's items ordered by their database id, for
// deterministic iteration.
func (s *Session) sortedItems(class model.Class) []*Item {
	items := make([]*Item, 0, len(s.items[class]))
	for _, item := range s.items[class] {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].DBIDs[class] < items[j].DBIDs[class]
	})
	return items
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func variantsEqual(a, b []NameVariant) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
