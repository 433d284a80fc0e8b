package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level tool configuration
type Config struct {
	Platform PlatformConfig `yaml:"platform"`
	Build    BuildConfig    `yaml:"build"`
	Data     DataConfig     `yaml:"data"`
	History  HistoryConfig  `yaml:"history"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PlatformConfig holds settings for talking to the platform CLI
type PlatformConfig struct {
	Bin          string   `yaml:"bin"`
	ExtrasImage  string   `yaml:"extras_image"`
	PollInterval Duration `yaml:"poll_interval"`
}

// BuildConfig holds remote image build settings
type BuildConfig struct {
	KanikoImage string `yaml:"kaniko_image"`
	KanikoTag   string `yaml:"kaniko_tag"`
}

// DataConfig holds data copy/transfer settings
type DataConfig struct {
	TempRoot string   `yaml:"temp_root"`
	LifeSpan Duration `yaml:"life_span"`
}

// HistoryConfig holds run history settings
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			Bin:          "astra",
			ExtrasImage:  "ghcr.io/astracloud/astra-extras:latest",
			PollInterval: Duration(2 * time.Second),
		},
		Build: BuildConfig{
			KanikoImage: "gcr.io/kaniko-project/executor",
			KanikoTag:   "v1.20.0-debug",
		},
		Data: DataConfig{
			TempRoot: os.TempDir(),
			LifeSpan: Duration(time.Hour),
		},
		History: HistoryConfig{
			DBPath: "",
		},
	}
}

// Load reads a config file from the given path and applies environment
// overrides on top of it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// LoadOrDefault loads the file at path when it exists, or returns defaults
// with environment overrides when nothing is found. An empty path searches
// the standard locations.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		found, err := FindConfigFile()
		if err != nil {
			cfg := DefaultConfig()
			cfg.applyEnv(os.Getenv)
			return cfg, nil
		}
		path = found
	}
	return Load(path)
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		".astra-extras.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".astra-extras.yaml"),
			filepath.Join(home, ".config", "astra-extras", "config.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// HistoryDBPath returns the configured history database path, defaulting
// to ~/.astra-extras/history.db.
func (c *Config) HistoryDBPath() string {
	if c.History.DBPath != "" {
		return c.History.DBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "astra-extras-history.db")
	}
	return filepath.Join(home, ".astra-extras", "history.db")
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("ASTRA_EXTRAS_IMAGE"); v != "" {
		c.Platform.ExtrasImage = v
	}
	if v := getenv("ASTRA_BIN"); v != "" {
		c.Platform.Bin = v
	}
}
