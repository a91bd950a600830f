// Package config provides configuration loading and management for frapdiff.
// It handles loading configuration from YAML files, environment overrides
// and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"frapdiff/internal/logger"
	"frapdiff/internal/models"
	"frapdiff/pkg/extraction"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Extraction parameters
	Extraction struct {
		// BleachCorrection enables the ratio-based correction against the
		// top-left reference patch
		BleachCorrection bool `yaml:"bleachCorrection"`

		// CorrectionWindowSize is the side length of the reference patch in pixels
		CorrectionWindowSize int `yaml:"correctionWindowSize"`

		// ROIExtensionFactor extends the FRAP window to both sides, relative
		// to the ROI span
		ROIExtensionFactor float64 `yaml:"roiExtensionFactor"`

		// Projection is "vertical" or "horizontal"
		Projection string `yaml:"projection"`

		// Mirror is "first_half", "second_half" or "none"
		Mirror string `yaml:"mirror"`
	} `yaml:"extraction"`

	// Fit parameters handed to the diffusion fit
	Fit struct {
		DGuess    float64 `yaml:"dGuess"`
		KoffGuess float64 `yaml:"koffGuess"`
		MinLf     float64 `yaml:"minLf"`
		MaxLf     float64 `yaml:"maxLf"`

		// Command is an external solver executable. Empty selects the
		// built-in reaction-diffusion fitter.
		Command string `yaml:"command"`
	} `yaml:"fit"`

	// Batch parameters
	Batch struct {
		// Recursive searches the input directory recursively for movies
		Recursive bool `yaml:"recursive"`

		// Workers is the number of files processed concurrently
		Workers int `yaml:"workers"`

		// Output is the summary table path
		Output string `yaml:"output"`

		// Preview writes a kymograph image next to every movie
		Preview bool `yaml:"preview"`

		// SaveCorrected writes the bleach-corrected stack next to every movie
		SaveCorrected bool `yaml:"saveCorrected"`

		// Database is an optional SQLite file receiving every run's records
		Database string `yaml:"database"`
	} `yaml:"batch"`

	// Logging parameters
	Logging struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Extraction.BleachCorrection = true
	cfg.Extraction.CorrectionWindowSize = 150
	cfg.Extraction.ROIExtensionFactor = 1.5
	cfg.Extraction.Projection = "vertical"
	cfg.Extraction.Mirror = "first_half"

	cfg.Fit.DGuess = 0.05
	cfg.Fit.KoffGuess = 0.1
	cfg.Fit.MinLf = 8
	cfg.Fit.MaxLf = 16

	cfg.Batch.Recursive = true
	cfg.Batch.Workers = 1
	cfg.Batch.Output = "results.tab"

	cfg.Logging.Level = "info"
	cfg.Logging.Console = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// ApplyEnv overrides configuration values from FRAPDIFF_* variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("FRAPDIFF_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := lookup("FRAPDIFF_FIT_COMMAND"); ok {
		c.Fit.Command = v
	}
	if v, ok := lookup("FRAPDIFF_DATABASE"); ok {
		c.Batch.Database = v
	}
	if v, ok := lookup("FRAPDIFF_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &models.ConfigurationError{Field: "FRAPDIFF_WORKERS", Value: v}
		}
		c.Batch.Workers = n
	}
	return nil
}

// ExtractionConfig validates the extraction and fit sections and returns the
// immutable record used by the extraction pipeline
func (c *Config) ExtractionConfig() (models.ExtractionConfig, error) {
	axis, err := models.ParseProjectionAxis(c.Extraction.Projection)
	if err != nil {
		return models.ExtractionConfig{}, err
	}
	mirror, err := models.ParseMirrorMode(c.Extraction.Mirror)
	if err != nil {
		return models.ExtractionConfig{}, err
	}

	ec := models.ExtractionConfig{
		BleachCorrection:     c.Extraction.BleachCorrection,
		CorrectionWindowSize: c.Extraction.CorrectionWindowSize,
		ROIExtensionFactor:   c.Extraction.ROIExtensionFactor,
		ProjectionAxis:       axis,
		MirrorMode:           mirror,
		Preview:              c.Batch.Preview,
		DGuess:               c.Fit.DGuess,
		KoffGuess:            c.Fit.KoffGuess,
		MinLf:                c.Fit.MinLf,
		MaxLf:                c.Fit.MaxLf,
	}

	if err := extraction.ValidateConfig(ec); err != nil {
		return models.ExtractionConfig{}, err
	}

	return ec, nil
}

// Validate checks the whole configuration document
func (c *Config) Validate() error {
	if _, err := c.ExtractionConfig(); err != nil {
		return err
	}
	if c.Batch.Workers < 1 {
		return &models.ConfigurationError{Field: "workers", Value: strconv.Itoa(c.Batch.Workers)}
	}
	if c.Batch.Output == "" {
		return &models.ConfigurationError{Field: "output", Value: ""}
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}
