// Package config loads the goguardlof configuration.
//
// Configuration is layered, later layers overriding earlier ones:
//
//  1. Defaults: DefaultConfig
//  2. Config file: optional YAML file
//  3. Environment: GOGUARD_* variables, with "__" separating sections
//     (GOGUARD_DETECTOR__MIN_PTS_LB=5 sets detector.min_pts_lb)
//  4. Overrides: explicit key/value pairs, used for command-line flags
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/hed1ad/goguardlof/internal/logging"
	"github.com/hed1ad/goguardlof/pkg/detectors"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "GOGUARD_"

// ConfigPathEnvVar names a config file to load when no path is given.
const ConfigPathEnvVar = EnvPrefix + "CONFIG"

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"goguard.yaml",
	"goguard.yml",
}

// ErrInvalid is returned when the loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full application configuration.
type Config struct {
	// Algorithm selects the detector: lof or iforest.
	Algorithm string `koanf:"algorithm" validate:"oneof=lof iforest"`
	// Measure selects the distance measure used by lof.
	Measure string `koanf:"measure" validate:"oneof=euclidean manhattan chebyshev"`
	// Workers sizes the shared worker pool; 0 uses GOMAXPROCS.
	Workers int `koanf:"workers" validate:"gte=0"`

	Detector detectors.Config `koanf:"detector"`
	Forest   ForestConfig     `koanf:"forest"`
	Input    InputConfig      `koanf:"input"`
	Output   OutputConfig     `koanf:"output"`
	Logging  logging.Config   `koanf:"logging"`
	Metrics  MetricsConfig    `koanf:"metrics"`
}

// ForestConfig holds isolation forest settings.
type ForestConfig struct {
	Trees      int `koanf:"trees" validate:"gte=1"`
	SampleSize int `koanf:"sample_size" validate:"gte=2"`
}

// InputConfig describes where the batch is read from.
type InputConfig struct {
	// Format is csv, pcap or sql.
	Format string `koanf:"format" validate:"oneof=csv pcap sql"`
	// Path is the csv or pcap file.
	Path         string   `koanf:"path"`
	Header       bool     `koanf:"header"`
	TargetColumn string   `koanf:"target_column"`
	Columns      []string `koanf:"columns"`
	// Limit caps the number of packets read from a capture; 0 reads all.
	Limit int `koanf:"limit" validate:"gte=0"`
	// Driver, DSN and Query configure the sql source.
	Driver string `koanf:"driver" validate:"required_if=Format sql"`
	DSN    string `koanf:"dsn" validate:"required_if=Format sql"`
	Query  string `koanf:"query" validate:"required_if=Format sql"`
}

// OutputConfig describes where labeled rows are written.
type OutputConfig struct {
	// Path is the csv destination; empty writes to stdout.
	Path             string `koanf:"path"`
	PredictionColumn string `koanf:"prediction_column" validate:"required"`
	Scores           bool   `koanf:"scores"`
}

// MetricsConfig controls the metrics textfile export.
type MetricsConfig struct {
	// Textfile, when set, receives the registry in Prometheus text format after a run.
	Textfile string `koanf:"textfile"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: "lof",
		Measure:   "euclidean",
		Workers:   0,
		Detector:  detectors.DefaultConfig(),
		Forest: ForestConfig{
			Trees:      100,
			SampleSize: 256,
		},
		Input: InputConfig{
			Format: "csv",
			Header: true,
			Driver: "postgres",
		},
		Output: OutputConfig{
			PredictionColumn: "prediction",
		},
		Logging: logging.DefaultConfig(),
	}
}

// sliceConfigPaths are parsed from comma-separated strings when they come from the environment.
var sliceConfigPaths = []string{
	"input.columns",
}

// Load builds the configuration from defaults, the config file at path (or
// the first file found when path is empty), the environment and overrides.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for key, val := range overrides {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to apply override %s: %w", key, err)
		}
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if cfg.Logging.Output == nil {
		cfg.Logging.Output = os.Stderr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransformFunc maps GOGUARD_DETECTOR__MIN_PTS_LB to detector.min_pts_lb.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}

		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to process slice field %s: %w", path, err)
		}
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
