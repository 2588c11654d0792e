// Package config provides configuration loading and management for ventmapper.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"ventmapper/pkg/orientation"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters of the segmentation pipeline
	Processing struct {
		// GridSize is the edge length of the isotropic grid the network expects
		GridSize int `yaml:"gridSize"`

		// OrientationCheck enables reorientation of non-canonical inputs
		OrientationCheck bool `yaml:"orientationCheck"`

		// CanonicalOrientations are the accepted orientation codes
		CanonicalOrientations []string `yaml:"canonicalOrientations"`

		// StandardizeRadius is the half-width of the normalization window per axis
		StandardizeRadius []int `yaml:"standardizeRadius"`

		// TrimMargin is the number of voxels kept around the cropped content
		TrimMargin int `yaml:"trimMargin"`

		// ResampleInterpolation is used for intensity images (nearest or linear)
		ResampleInterpolation string `yaml:"resampleInterpolation"`

		// Threshold is the probability cutoff of the final mask
		Threshold float64 `yaml:"threshold"`

		// SmoothFWHM is the Gaussian smoothing applied before thresholding, in voxels
		SmoothFWHM float64 `yaml:"smoothFWHM"`

		// SeedIterations grows the centre seed used to pick components
		SeedIterations int `yaml:"seedIterations"`

		// Connectivity is 6 or 26
		Connectivity int `yaml:"connectivity"`
	} `yaml:"processing"`

	// Backend that performs masking, standardization and cropping
	Backend struct {
		// Kind is "inprocess" or "c3d"
		Kind string `yaml:"kind"`

		// C3DPath is the c3d executable
		C3DPath string `yaml:"c3dPath"`

		// Timeout bounds each external invocation
		Timeout string `yaml:"timeout"`
	} `yaml:"backend"`

	// Model artifacts and the command that runs them
	Model struct {
		// Dir holds <variant>_model.json and <variant>_model_weights.h5.
		// Empty means a models directory next to the executable.
		Dir string `yaml:"dir"`

		// Command runs the network on the stacked inputs
		Command string `yaml:"command"`

		// Args are passed before the generated flags
		Args []string `yaml:"args"`

		// Timeout bounds one prediction
		Timeout string `yaml:"timeout"`

		// Quiet silences the framework's own logging
		Quiet bool `yaml:"quiet"`

		// Remote object storage used to fetch missing artifacts
		Remote struct {
			Enabled         bool   `yaml:"enabled"`
			Endpoint        string `yaml:"endpoint"`
			AccessKeyID     string `yaml:"accessKeyID"`
			SecretAccessKey string `yaml:"secretAccessKey"`
			UseSSL          bool   `yaml:"useSSL"`
			Region          string `yaml:"region"`
			Bucket          string `yaml:"bucket"`
			Prefix          string `yaml:"prefix"`
		} `yaml:"remote"`
	} `yaml:"model"`

	// Output parameters
	Output struct {
		// Force recomputes every stage and overwrites existing results
		Force bool `yaml:"force"`

		// LogLevel controls the console and file log level
		LogLevel string `yaml:"logLevel"`

		// QCImage writes a mosaic next to the segmentation
		QCImage bool `yaml:"qcImage"`

		// MetricsFile receives Prometheus metrics at the end of a run
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`

	// Batch processing parameters
	Batch struct {
		// Workers is how many subjects are processed concurrently
		Workers int `yaml:"workers"`
	} `yaml:"batch"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.GridSize = 128
	cfg.Processing.OrientationCheck = true
	cfg.Processing.CanonicalOrientations = append([]string{}, orientation.DefaultCanonical...)
	cfg.Processing.StandardizeRadius = []int{25, 25, 25}
	cfg.Processing.TrimMargin = 1
	cfg.Processing.ResampleInterpolation = "linear"
	cfg.Processing.Threshold = 0.5
	cfg.Processing.SmoothFWHM = 2
	cfg.Processing.SeedIterations = 10
	cfg.Processing.Connectivity = 6

	cfg.Backend.Kind = "inprocess"
	cfg.Backend.C3DPath = "c3d"
	cfg.Backend.Timeout = "10m"

	cfg.Model.Command = "ventmapper-predict"
	cfg.Model.Timeout = "30m"
	cfg.Model.Quiet = true
	cfg.Model.Remote.Region = "us-east-1"

	cfg.Output.LogLevel = "info"
	cfg.Output.QCImage = true

	cfg.Batch.Workers = runtime.NumCPU() // one subject per core

	return cfg
}

// Validate checks that the values are usable
func (c *Config) Validate() error {
	p := c.Processing
	if p.GridSize <= 0 {
		return fmt.Errorf("processing.gridSize must be positive, got %d", p.GridSize)
	}
	if len(p.StandardizeRadius) != 3 {
		return fmt.Errorf("processing.standardizeRadius needs 3 values, got %d", len(p.StandardizeRadius))
	}
	for _, r := range p.StandardizeRadius {
		if r < 0 {
			return fmt.Errorf("processing.standardizeRadius must be non-negative, got %v", p.StandardizeRadius)
		}
	}
	for _, code := range p.CanonicalOrientations {
		if !orientation.ValidCode(code) {
			return fmt.Errorf("processing.canonicalOrientations: invalid code %q", code)
		}
	}
	if p.TrimMargin < 0 {
		return fmt.Errorf("processing.trimMargin must be non-negative, got %d", p.TrimMargin)
	}
	if p.Threshold < 0 || p.Threshold >= 1 {
		return fmt.Errorf("processing.threshold must be in [0,1), got %g", p.Threshold)
	}
	if p.Connectivity != 6 && p.Connectivity != 26 {
		return fmt.Errorf("processing.connectivity must be 6 or 26, got %d", p.Connectivity)
	}
	switch c.Backend.Kind {
	case "inprocess", "c3d":
	default:
		return fmt.Errorf("backend.kind must be inprocess or c3d, got %q", c.Backend.Kind)
	}
	if _, err := c.BackendTimeout(); err != nil {
		return err
	}
	if _, err := c.ModelTimeout(); err != nil {
		return err
	}
	if c.Model.Remote.Enabled && (c.Model.Remote.Endpoint == "" || c.Model.Remote.Bucket == "") {
		return fmt.Errorf("model.remote requires endpoint and bucket")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers)
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

// BackendTimeout returns backend.timeout; zero means no limit
func (c *Config) BackendTimeout() (time.Duration, error) {
	return parseDuration("backend.timeout", c.Backend.Timeout)
}

// ModelTimeout returns model.timeout; zero means no limit
func (c *Config) ModelTimeout() (time.Duration, error) {
	return parseDuration("model.timeout", c.Model.Timeout)
}

// Radius returns the standardization radius as an array
func (c *Config) Radius() [3]int {
	var r [3]int
	copy(r[:], c.Processing.StandardizeRadius)
	return r
}

// ModelsDir resolves model.dir
func (c *Config) ModelsDir() string {
	if c.Model.Dir != "" {
		return c.Model.Dir
	}
	exe, err := os.Executable()
	if err != nil {
		return "models"
	}
	return filepath.Join(filepath.Dir(exe), "models")
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
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
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
