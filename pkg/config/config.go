// Package config provides configuration loading and management for dmritools.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"dmritools/internal/models"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Comparison parameters for AP/PA metadata checks
	Comparison struct {
		// RelativeTolerance is the relative tolerance for approximate equality
		RelativeTolerance float64 `yaml:"relativeTolerance"`

		// AbsoluteTolerance is the absolute tolerance for approximate equality
		AbsoluteTolerance float64 `yaml:"absoluteTolerance"`

		// NameWidth is the width of the right-aligned field name column
		NameWidth int `yaml:"nameWidth"`
	} `yaml:"comparison"`

	// Slice order recovery parameters
	SliceOrder struct {
		// Strict checks every timing group against the multiband factor
		// instead of only the first one
		Strict bool `yaml:"strict"`
	} `yaml:"sliceOrder"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Kurtosis fitting parameters
	DKI struct {
		// Method is the least squares estimator, OLS or WLS
		Method string `yaml:"method"`

		// MinSignal is the floor applied to signals before taking the log
		MinSignal float64 `yaml:"minSignal"`
	} `yaml:"dki"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogLevel is a logrus level name
		LogLevel string `yaml:"logLevel"`

		// Color is one of auto, always or never
		Color string `yaml:"color"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Comparison.RelativeTolerance = 1e-5
	cfg.Comparison.AbsoluteTolerance = 1e-8
	cfg.Comparison.NameWidth = 20

	cfg.SliceOrder.Strict = true

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.DKI.Method = "WLS"
	cfg.DKI.MinSignal = 1e-4

	cfg.Output.Verbose = false
	cfg.Output.LogLevel = "info"
	cfg.Output.Color = "auto"

	return cfg
}

// Validate checks that every value is usable
func (c *Config) Validate() error {
	switch {
	case c.Comparison.RelativeTolerance < 0 || c.Comparison.AbsoluteTolerance < 0:
		return fmt.Errorf("%w: tolerances must be non-negative", models.ErrInvalidConfig)
	case c.Comparison.NameWidth < 1:
		return fmt.Errorf("%w: nameWidth must be positive", models.ErrInvalidConfig)
	case c.Processing.NumCores < 1:
		return fmt.Errorf("%w: numCores must be at least 1", models.ErrInvalidConfig)
	case c.DKI.MinSignal <= 0:
		return fmt.Errorf("%w: minSignal must be positive", models.ErrInvalidConfig)
	}

	switch strings.ToUpper(c.DKI.Method) {
	case "OLS", "WLS":
	default:
		return fmt.Errorf("%w: unknown dki method %q", models.ErrInvalidConfig, c.DKI.Method)
	}

	switch c.Output.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("%w: color must be auto, always or never, got %q", models.ErrInvalidConfig, c.Output.Color)
	}

	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file: %v", models.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
