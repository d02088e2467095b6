// Package config provides configuration loading and management for detect3d.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Suppression parameters
	Suppression struct {
		// MaxOutputSize caps the number of boxes surviving suppression
		MaxOutputSize int `yaml:"maxOutputSize"`

		// IoUThreshold is the overlap above which a candidate is suppressed
		IoUThreshold float32 `yaml:"iouThreshold"`

		// ScoreThreshold excludes candidates scoring at or below it
		ScoreThreshold float32 `yaml:"scoreThreshold"`

		// SoftNMSSigma enables Gaussian score decay when positive
		SoftNMSSigma float32 `yaml:"softNmsSigma"`
	} `yaml:"suppression"`

	// Crop extraction parameters
	Crop struct {
		// Height, Width and Depth give the output extents of each crop
		Height int `yaml:"height"`
		Width  int `yaml:"width"`
		Depth  int `yaml:"depth"`

		// Method selects the resampling kernel: "trilinear" or "nearest"
		Method string `yaml:"method"`

		// ExtrapolationValue fills samples outside the volume
		ExtrapolationValue float32 `yaml:"extrapolationValue"`

		// Workers specifies how many goroutines to use for cropping
		Workers int `yaml:"workers"`
	} `yaml:"crop"`

	// Demo input parameters
	Demo struct {
		// VolumeHeight, VolumeWidth and VolumeDepth size the synthetic volume
		VolumeHeight int `yaml:"volumeHeight"`
		VolumeWidth  int `yaml:"volumeWidth"`
		VolumeDepth  int `yaml:"volumeDepth"`

		// Channels is the number of feature channels in the volume
		Channels int `yaml:"channels"`

		// NumCandidates is the number of candidate boxes to generate
		NumCandidates int `yaml:"numCandidates"`

		// Seed fixes the candidate generator for reproducible runs
		Seed int64 `yaml:"seed"`
	} `yaml:"demo"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SaveCropSlices determines whether to dump crop slices as images
		SaveCropSlices bool `yaml:"saveCropSlices"`

		// SliceDir is the directory where crop slices will be saved
		SliceDir string `yaml:"sliceDir"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default suppression parameters
	cfg.Suppression.MaxOutputSize = 10
	cfg.Suppression.IoUThreshold = 0.5
	cfg.Suppression.ScoreThreshold = 0.0
	cfg.Suppression.SoftNMSSigma = 0.0

	// Set default crop parameters
	cfg.Crop.Height = 8
	cfg.Crop.Width = 8
	cfg.Crop.Depth = 8
	cfg.Crop.Method = "trilinear"
	cfg.Crop.ExtrapolationValue = 0.0
	cfg.Crop.Workers = runtime.NumCPU() // Use all available cores by default

	// Set default demo parameters
	cfg.Demo.VolumeHeight = 32
	cfg.Demo.VolumeWidth = 32
	cfg.Demo.VolumeDepth = 32
	cfg.Demo.Channels = 1
	cfg.Demo.NumCandidates = 64
	cfg.Demo.Seed = 42

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.SaveCropSlices = false
	cfg.Output.SliceDir = "crop_slices"

	return cfg
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
