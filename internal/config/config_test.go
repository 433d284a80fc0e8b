package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"platform bin", func(c *Config) string { return c.Platform.Bin }, "astra"},
		{"extras image", func(c *Config) string { return c.Platform.ExtrasImage }, "ghcr.io/astracloud/astra-extras:latest"},
		{"kaniko image", func(c *Config) string { return c.Build.KanikoImage }, "gcr.io/kaniko-project/executor"},
		{"kaniko tag", func(c *Config) string { return c.Build.KanikoTag }, "v1.20.0-debug"},
		{"history db path", func(c *Config) string { return c.History.DBPath }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if cfg.Platform.PollInterval.Std() != 2*time.Second {
		t.Errorf("Platform.PollInterval = %v, want 2s", cfg.Platform.PollInterval)
	}
	if cfg.Data.LifeSpan.Std() != time.Hour {
		t.Errorf("Data.LifeSpan = %v, want 1h", cfg.Data.LifeSpan)
	}
	if cfg.Data.TempRoot == "" {
		t.Error("Data.TempRoot is empty, want os temp dir")
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "astra-extras.yaml")

	configContent := `
platform:
  bin: "/opt/astra/bin/astra"
  extras_image: "registry.internal/extras:v2"
  poll_interval: 5s
build:
  kaniko_image: "registry.internal/kaniko"
  kaniko_tag: "v1.19.0"
data:
  temp_root: "/scratch"
  life_span: 2h
history:
  db_path: "/var/lib/astra/history.db"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Platform.Bin != "/opt/astra/bin/astra" {
		t.Errorf("Platform.Bin = %q", cfg.Platform.Bin)
	}
	if cfg.Platform.ExtrasImage != "registry.internal/extras:v2" {
		t.Errorf("Platform.ExtrasImage = %q", cfg.Platform.ExtrasImage)
	}
	if cfg.Platform.PollInterval.Std() != 5*time.Second {
		t.Errorf("Platform.PollInterval = %v, want 5s", cfg.Platform.PollInterval)
	}
	if cfg.Build.KanikoImage != "registry.internal/kaniko" {
		t.Errorf("Build.KanikoImage = %q", cfg.Build.KanikoImage)
	}
	if cfg.Build.KanikoTag != "v1.19.0" {
		t.Errorf("Build.KanikoTag = %q", cfg.Build.KanikoTag)
	}
	if cfg.Data.TempRoot != "/scratch" {
		t.Errorf("Data.TempRoot = %q", cfg.Data.TempRoot)
	}
	if cfg.Data.LifeSpan.Std() != 2*time.Hour {
		t.Errorf("Data.LifeSpan = %v, want 2h", cfg.Data.LifeSpan)
	}
	if cfg.History.DBPath != "/var/lib/astra/history.db" {
		t.Errorf("History.DBPath = %q", cfg.History.DBPath)
	}
}

// TestLoadPartialKeepsDefaults verifies that unset keys fall back to defaults
func TestLoadPartialKeepsDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "partial.yaml")

	configContent := `
platform:
  extras_image: "registry.internal/extras:v3"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Platform.ExtrasImage != "registry.internal/extras:v3" {
		t.Errorf("Platform.ExtrasImage = %q", cfg.Platform.ExtrasImage)
	}
	if cfg.Platform.Bin != "astra" {
		t.Errorf("Platform.Bin = %q, want default astra", cfg.Platform.Bin)
	}
	if cfg.Build.KanikoImage != "gcr.io/kaniko-project/executor" {
		t.Errorf("Build.KanikoImage = %q, want default", cfg.Build.KanikoImage)
	}
}

// TestLoadInvalidYAML tests that Load returns an error for invalid YAML
func TestLoadInvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "invalid.yaml")

	invalidContent := `
platform:
  bin: "astra"
  invalid: [unclosed bracket
`

	if err := os.WriteFile(configFile, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configFile)
	if err == nil {
		t.Error("Load() succeeded, want error for invalid YAML")
	}
}

// TestLoadNonexistentFile tests that Load returns an error for missing files
func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("Load() succeeded, want error for nonexistent file")
	}
}

// TestFindConfigFileFound tests that FindConfigFile returns the found config
func TestFindConfigFileFound(t *testing.T) {
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	tempDir := t.TempDir()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})

	configFile := filepath.Join(tempDir, ".astra-extras.yaml")
	if err := os.WriteFile(configFile, []byte("platform:\n  bin: astra"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	found, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if found != ".astra-extras.yaml" {
		t.Errorf("FindConfigFile() = %q, want .astra-extras.yaml", found)
	}
}

// TestApplyEnv tests environment variable overrides
func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want func(*Config) bool
	}{
		{
			name: "extras image override",
			env:  map[string]string{"ASTRA_EXTRAS_IMAGE": "registry.internal/override:dev"},
			want: func(c *Config) bool { return c.Platform.ExtrasImage == "registry.internal/override:dev" },
		},
		{
			name: "bin override",
			env:  map[string]string{"ASTRA_BIN": "/usr/local/bin/astra-staging"},
			want: func(c *Config) bool { return c.Platform.Bin == "/usr/local/bin/astra-staging" },
		},
		{
			name: "empty values ignored",
			env:  map[string]string{},
			want: func(c *Config) bool { return c.Platform.Bin == "astra" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.applyEnv(func(key string) string { return tt.env[key] })
			if !tt.want(cfg) {
				t.Errorf("override not applied: %+v", cfg.Platform)
			}
		})
	}
}

// TestHistoryDBPath tests the history path default and override
func TestHistoryDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.History.DBPath = "/explicit/history.db"
	if got := cfg.HistoryDBPath(); got != "/explicit/history.db" {
		t.Errorf("HistoryDBPath() = %q, want explicit path", got)
	}

	cfg.History.DBPath = ""
	got := cfg.HistoryDBPath()
	if filepath.Base(got) != "history.db" && filepath.Base(got) != "astra-extras-history.db" {
		t.Errorf("HistoryDBPath() = %q, want a history.db path", got)
	}
}
