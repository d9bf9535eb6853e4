package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "./data", cfg.Build.DataDir)
	assert.Equal(t, 1, cfg.Build.Version)
	assert.Equal(t, 4, cfg.Build.Workers)
	assert.Equal(t, "FULL_PACKAGE_URL/{version}/{id}.nutigeodb?appToken={{key}}", cfg.Build.URLTemplate)
	assert.True(t, cfg.Build.ImportIDs)
	assert.True(t, cfg.Build.ImportPostcodes)
	assert.True(t, cfg.Build.ImportCategories)
	assert.True(t, cfg.Build.ImportGazetteerGeometry)
	assert.Empty(t, cfg.Build.ClipBounds)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
build:
  template: packages.json.tpl
  input_dir: /data/in
  output_dir: /data/out
  gazetteer: /data/wof.db
  workers: 2
  version: 3
  import_postcodes: false
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "packages.json.tpl", cfg.Build.Template)
	assert.Equal(t, "/data/in", cfg.Build.InputDir)
	assert.Equal(t, "/data/out", cfg.Build.OutputDir)
	assert.Equal(t, "/data/wof.db", cfg.Build.GazetteerPath)
	assert.Equal(t, 2, cfg.Build.Workers)
	assert.Equal(t, 3, cfg.Build.Version)
	assert.False(t, cfg.Build.ImportPostcodes)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.True(t, cfg.Build.ImportIDs)
	assert.Equal(t, "./data", cfg.Build.DataDir)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
build:
  workers: 2
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("GEOCODING_BUILD_WORKERS", "8")
	t.Setenv("GEOCODING_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, 8, cfg.Build.Workers)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestParseBounds(t *testing.T) {
	bounds, err := ParseBounds("21.5, 57.4, 28.3, 59.8")
	require.NoError(t, err)
	require.NotNil(t, bounds)
	assert.InDelta(t, 21.5, bounds.MinX, 1e-9)
	assert.InDelta(t, 57.4, bounds.MinY, 1e-9)
	assert.InDelta(t, 28.3, bounds.MaxX, 1e-9)
	assert.InDelta(t, 59.8, bounds.MaxY, 1e-9)
}

func TestParseBoundsEmpty(t *testing.T) {
	bounds, err := ParseBounds("")
	require.NoError(t, err)
	assert.Nil(t, bounds)
}

func TestParseBoundsInvalid(t *testing.T) {
	_, err := ParseBounds("1,2,3")
	assert.Error(t, err)

	_, err = ParseBounds("a,b,c,d")
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
