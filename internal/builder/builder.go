// Package builder runs geocoding database builds for a whole package set,
// a fixed number at a time, and writes the resulting package manifest.
package builder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nutiteq/mobile-sdk-scripts/internal/config"
	"github.com/nutiteq/mobile-sdk-scripts/internal/geomutil"
	"github.com/nutiteq/mobile-sdk-scripts/internal/importer"
)

// manifest mirrors the packages.json layout. Package entries are kept as
// loose maps so template fields the builder does not understand pass through
// to the output manifest unchanged.
type manifest struct {
	Packages []map[string]any `json:"packages"`
	Metainfo map[string]any   `json:"metainfo"`
}

// Builder dispatches package builds according to its configuration.
type Builder struct {
	cfg config.BuildConfig
	log *zap.Logger
}

// New returns a Builder for the given configuration.
func New(cfg config.BuildConfig) *Builder {
	return &Builder{
		cfg: cfg,
		log: zap.L().With(zap.String("component", "builder")),
	}
}

// Run builds every selected package and writes the packages.json manifest
// for the ones that succeeded. All builds are attempted even when some fail;
// the returned error summarizes the failures.
func (b *Builder) Run(ctx context.Context) error {
	packages, err := b.loadTemplate()
	if err != nil {
		return err
	}

	clipBounds, err := config.ParseBounds(b.cfg.ClipBounds)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return eris.Wrap(err, "builder: create output dir")
	}

	failures := make([]error, len(packages))
	var group errgroup.Group
	group.SetLimit(b.workers())
	for i, pkg := range packages {
		i, id := i, packageID(pkg)
		group.Go(func() error {
			if err := b.buildPackage(ctx, id, clipBounds); err != nil {
				b.log.Error("package failed", zap.String("package", id), zap.Error(err))
				failures[i] = err
			}
			return nil
		})
	}
	group.Wait()

	var succeeded []map[string]any
	failed := 0
	for i, pkg := range packages {
		if failures[i] != nil {
			failed++
			continue
		}
		id := packageID(pkg)
		info, err := os.Stat(b.outputPath(id))
		if err != nil {
			return eris.Wrap(err, "builder: stat output")
		}
		pkg["version"] = b.cfg.Version
		pkg["size"] = info.Size()
		pkg["url"] = expandURL(b.cfg.URLTemplate, b.cfg.Version, id)
		succeeded = append(succeeded, pkg)
	}

	if err := b.writeManifest(succeeded); err != nil {
		return err
	}
	if failed > 0 {
		return eris.Errorf("builder: %d of %d packages failed", failed, len(packages))
	}
	return nil
}

// loadTemplate reads the packages template and applies the package filter.
func (b *Builder) loadTemplate() ([]map[string]any, error) {
	data, err := os.ReadFile(b.cfg.Template)
	if err != nil {
		return nil, eris.Wrap(err, "builder: read template")
	}
	var template manifest
	if err := json.Unmarshal(data, &template); err != nil {
		return nil, eris.Wrap(err, "builder: parse template")
	}

	if len(b.cfg.Packages) == 0 {
		return template.Packages, nil
	}
	wanted := map[string]bool{}
	for _, id := range b.cfg.Packages {
		wanted[id] = true
	}
	var selected []map[string]any
	for _, pkg := range template.Packages {
		if wanted[packageID(pkg)] {
			selected = append(selected, pkg)
		}
	}
	return selected, nil
}

// buildPackage runs one import. Output left over from a completed run is
// reused; output with a companion journal file is a failed run and gets
// rebuilt. Partial output of a failed build is always removed.
func (b *Builder) buildPackage(ctx context.Context, id string, clipBounds *geomutil.Bounds) error {
	outputPath := b.outputPath(id)
	journalPath := outputPath + "-journal"
	if _, err := os.Stat(outputPath); err == nil {
		if _, err := os.Stat(journalPath); os.IsNotExist(err) {
			b.log.Info("package up to date", zap.String("package", id))
			return nil
		}
		if err := os.Remove(outputPath); err != nil {
			return eris.Wrap(err, "builder: remove stale output")
		}
		if err := os.Remove(journalPath); err != nil {
			return eris.Wrap(err, "builder: remove stale journal")
		}
	}

	b.log.Info("processing package", zap.String("package", id))
	opts := importer.Options{
		OutputPath:              outputPath,
		GazetteerPath:           b.cfg.GazetteerPath,
		AddressesPath:           b.inputPath(id, "addresses.txt.gz"),
		StreetsPath:             b.optionalInputPath(id, "highways.txt.gz"),
		BuildingsPath:           b.optionalInputPath(id, "buildings.txt.gz"),
		DataDir:                 b.cfg.DataDir,
		ClipBounds:              clipBounds,
		ImportIDs:               b.cfg.ImportIDs,
		ImportPostcodes:         b.cfg.ImportPostcodes,
		ImportCategories:        b.cfg.ImportCategories,
		ImportGazetteerGeometry: b.cfg.ImportGazetteerGeometry,
	}
	err := b.runImport(ctx, opts)
	if err != nil {
		for _, path := range []string{outputPath, journalPath} {
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				b.log.Warn("partial output not removed", zap.String("path", path), zap.Error(removeErr))
			}
		}
	}
	return err
}

func (b *Builder) runImport(ctx context.Context, opts importer.Options) error {
	session, err := importer.NewSession(opts)
	if err != nil {
		return err
	}
	runErr := session.Run(ctx)
	if closeErr := session.Close(); runErr == nil {
		runErr = closeErr
	}
	return runErr
}

func (b *Builder) writeManifest(packages []map[string]any) error {
	out := manifest{Packages: packages, Metainfo: map[string]any{}}
	if out.Packages == nil {
		out.Packages = []map[string]any{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return eris.Wrap(err, "builder: encode manifest")
	}
	path := filepath.Join(b.cfg.OutputDir, "packages.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "builder: write manifest")
	}
	return nil
}

func (b *Builder) workers() int {
	if b.cfg.Workers > 0 {
		return b.cfg.Workers
	}
	return 1
}

func (b *Builder) outputPath(id string) string {
	return filepath.Join(b.cfg.OutputDir, id+".nutigeodb")
}

func (b *Builder) inputPath(id, name string) string {
	return filepath.Join(b.cfg.InputDir, id, name)
}

// optionalInputPath returns "" when the stream file is absent, so the import
// runs without it instead of failing.
func (b *Builder) optionalInputPath(id, name string) string {
	path := b.inputPath(id, name)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func packageID(pkg map[string]any) string {
	id, _ := pkg["id"].(string)
	return id
}

// expandURL fills {version} and {id} placeholders. Doubled braces escape
// literal ones, so "{{key}}" renders as "{key}" for later substitution by
// the package consumer.
func expandURL(template string, version int, id string) string {
	expanded := strings.NewReplacer(
		"{{", "\x00", "}}", "\x01",
		"{version}", strconv.Itoa(version),
		"{id}", id,
	).Replace(template)
	return strings.NewReplacer("\x00", "{", "\x01", "}").Replace(expanded)
}
