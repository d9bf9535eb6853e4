// Package config loads the tool configuration from file, environment and
// defaults, and installs the global logger.
package config

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nutiteq/mobile-sdk-scripts/internal/geomutil"
)

// Config holds the full application configuration.
type Config struct {
	Build BuildConfig `yaml:"build" mapstructure:"build"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// BuildConfig configures the geocoding package build.
type BuildConfig struct {
	Template      string `yaml:"template" mapstructure:"template"`
	InputDir      string `yaml:"input_dir" mapstructure:"input_dir"`
	OutputDir     string `yaml:"output_dir" mapstructure:"output_dir"`
	GazetteerPath string `yaml:"gazetteer" mapstructure:"gazetteer"`
	DataDir       string `yaml:"data_dir" mapstructure:"data_dir"`

	Packages    []string `yaml:"packages" mapstructure:"packages"`
	Version     int      `yaml:"version" mapstructure:"version"`
	URLTemplate string   `yaml:"url_template" mapstructure:"url_template"`
	Workers     int      `yaml:"workers" mapstructure:"workers"`
	ClipBounds  string   `yaml:"clip_bounds" mapstructure:"clip_bounds"`

	ImportIDs               bool `yaml:"import_ids" mapstructure:"import_ids"`
	ImportPostcodes         bool `yaml:"import_postcodes" mapstructure:"import_postcodes"`
	ImportCategories        bool `yaml:"import_categories" mapstructure:"import_categories"`
	ImportGazetteerGeometry bool `yaml:"import_gazetteer_geometry" mapstructure:"import_gazetteer_geometry"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOCODING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("build.data_dir", "./data")
	v.SetDefault("build.version", 1)
	v.SetDefault("build.url_template", "FULL_PACKAGE_URL/{version}/{id}.nutigeodb?appToken={{key}}")
	v.SetDefault("build.workers", 4)
	v.SetDefault("build.import_ids", true)
	v.SetDefault("build.import_postcodes", true)
	v.SetDefault("build.import_categories", true)
	v.SetDefault("build.import_gazetteer_geometry", true)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// ParseBounds parses a "minLon,minLat,maxLon,maxLat" clip rectangle.
func ParseBounds(str string) (*geomutil.Bounds, error) {
	if str == "" {
		return nil, nil
	}
	parts := strings.Split(str, ",")
	if len(parts) != 4 {
		return nil, eris.Errorf("config: clip bounds need 4 values, got %d", len(parts))
	}
	values := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, eris.Wrap(err, "config: parse clip bounds")
		}
		values[i] = v
	}
	return &geomutil.Bounds{MinX: values[0], MinY: values[1], MaxX: values[2], MaxY: values[3]}, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
