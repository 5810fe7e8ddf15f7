// Package config provides configuration loading and management for seedcorr.
// Values come from a YAML file, then SEEDCORR_* environment variables, and
// command line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables read by ApplyEnv.
const EnvPrefix = "seedcorr"

// Seed provider names.
const (
	// ProviderAuto computes NIfTI seeds in process and uses ciftify_meants otherwise
	ProviderAuto = "auto"

	// ProviderVolume always computes the seed series in process
	ProviderVolume = "volume"

	// ProviderMeants always runs ciftify_meants
	ProviderMeants = "meants"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers is the number of goroutines correlating units
		Workers int `yaml:"workers"`
	} `yaml:"processing"`

	// Seed time series parameters
	Seed struct {
		// Provider is one of auto, volume or meants
		Provider string `yaml:"provider"`

		// MeantsCommand is the ciftify_meants executable
		MeantsCommand string `yaml:"meantsCommand" split_words:"true"`
	} `yaml:"seed"`

	// Workbench parameters
	Workbench struct {
		// Command is the wb_command executable
		Command string `yaml:"command"`
	} `yaml:"workbench"`

	// Output parameters
	Output struct {
		// SaveTimeSeries also writes the seed series next to the map
		SaveTimeSeries bool `yaml:"saveTimeSeries" split_words:"true"`

		// Npy also writes the map as a .npy array
		Npy bool `yaml:"npy"`
	} `yaml:"output"`

	Log struct {
		// Debug enables debug logging
		Debug bool `yaml:"debug"`

		// File, when set, also writes the log to a rotated file
		File string `yaml:"file"`
	} `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()

	cfg.Seed.Provider = ProviderAuto
	cfg.Seed.MeantsCommand = "ciftify_meants"

	cfg.Workbench.Command = "wb_command"

	cfg.Output.SaveTimeSeries = false
	cfg.Output.Npy = false

	cfg.Log.Debug = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

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

// ApplyEnv overrides cfg with any SEEDCORR_* variables that are set, for
// example SEEDCORR_PROCESSING_WORKERS or SEEDCORR_SEED_MEANTS_COMMAND.
// Variables that are not set leave the field unchanged.
func (cfg *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("error reading environment: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (cfg *Config) Validate() error {
	if cfg.Processing.Workers < 0 {
		return fmt.Errorf("processing.workers must not be negative, got %d", cfg.Processing.Workers)
	}
	switch cfg.Seed.Provider {
	case ProviderAuto, ProviderVolume, ProviderMeants:
	default:
		return fmt.Errorf("seed.provider must be one of %s, %s or %s, got %q",
			ProviderAuto, ProviderVolume, ProviderMeants, cfg.Seed.Provider)
	}
	return nil
}

// Load reads the YAML file at configPath, applies the environment and
// validates the result.
func Load(configPath string) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
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
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
