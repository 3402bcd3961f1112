// Package config provides configuration loading and management for qsmregions.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/astewartau/ukb-qsmxt/pkg/results"
	"github.com/astewartau/ukb-qsmxt/pkg/visualization"
)

// Config represents the application configuration
type Config struct {
	// Extraction parameters
	Extraction struct {
		// Catalog is a preset name or the path of a catalog file
		Catalog string `yaml:"catalog" toml:"catalog"`
	} `yaml:"extraction" toml:"extraction"`

	// Output parameters
	Output struct {
		// HeaderMode is append or strict
		HeaderMode string `yaml:"headerMode" toml:"headerMode"`

		// SaveMasks writes every final region mask to MaskDir
		SaveMasks bool   `yaml:"saveMasks" toml:"saveMasks"`
		MaskDir   string `yaml:"maskDir" toml:"maskDir"`
	} `yaml:"output" toml:"output"`

	// Preview rendering parameters
	Preview struct {
		// Method selects the axial slice: median or random_above_median
		Method string `yaml:"method" toml:"method"`

		// WindowLow and WindowHigh are the percentiles the anatomical image is clipped to
		WindowLow  float64 `yaml:"windowLow" toml:"windowLow"`
		WindowHigh float64 `yaml:"windowHigh" toml:"windowHigh"`

		OverlayAlpha float64 `yaml:"overlayAlpha" toml:"overlayAlpha"`
		DPI          int     `yaml:"dpi" toml:"dpi"`
	} `yaml:"preview" toml:"preview"`

	// Logging parameters
	Logging struct {
		Level string `yaml:"level" toml:"level"`

		// File enables a rotating log file in addition to the console
		File string `yaml:"file" toml:"file"`

		// MaxSize is in megabytes, MaxAge in days
		MaxSize int `yaml:"maxSize" toml:"maxSize"`
		MaxAge  int `yaml:"maxAge" toml:"maxAge"`
	} `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Extraction.Catalog = "ukb"

	cfg.Output.HeaderMode = string(results.HeaderAppend)
	cfg.Output.SaveMasks = false
	cfg.Output.MaskDir = "masks"

	cfg.Preview.Method = string(visualization.MethodMedian)
	cfg.Preview.WindowLow = 5
	cfg.Preview.WindowHigh = 95
	cfg.Preview.OverlayAlpha = 0.85
	cfg.Preview.DPI = 150

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 28

	return cfg
}

// isTOML reports whether path should be read and written as TOML
func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and numeric ranges
func (c *Config) Validate() error {
	if c.Extraction.Catalog == "" {
		return fmt.Errorf("extraction.catalog must not be empty")
	}
	if _, err := results.ParseHeaderMode(c.Output.HeaderMode); err != nil {
		return fmt.Errorf("output.headerMode: %w", err)
	}
	if c.Output.SaveMasks && c.Output.MaskDir == "" {
		return fmt.Errorf("output.maskDir is required when output.saveMasks is set")
	}
	if _, err := visualization.ParseMethod(c.Preview.Method); err != nil {
		return fmt.Errorf("preview.method: %w", err)
	}
	if c.Preview.WindowLow < 0 || c.Preview.WindowHigh > 100 || c.Preview.WindowLow >= c.Preview.WindowHigh {
		return fmt.Errorf("preview window [%g, %g] must satisfy 0 <= low < high <= 100", c.Preview.WindowLow, c.Preview.WindowHigh)
	}
	if c.Preview.OverlayAlpha < 0 || c.Preview.OverlayAlpha > 1 {
		return fmt.Errorf("preview.overlayAlpha %g must be within [0, 1]", c.Preview.OverlayAlpha)
	}
	if c.Preview.DPI <= 0 {
		return fmt.Errorf("preview.dpi must be positive")
	}
	return nil
}

// SaveConfig saves the configuration, as TOML when the path ends in .toml
// and as YAML otherwise
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
