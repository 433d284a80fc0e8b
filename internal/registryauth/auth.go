// Package registryauth builds and merges docker registry credential
// documents ({"auths": {...}}). Credentials arrive from several sources
// (platform token, explicit files, environment variables) and are merged
// left-to-right with later sources winning on key collisions. A broken
// source is skipped with a warning, never fatal: the remaining valid
// entries may still be enough for the build to proceed.
package registryauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Auth is one registry credential.
type Auth struct {
	Registry string
	Username string
	Password string
}

// Encoded returns the base64 "username:password" form docker expects.
func (a Auth) Encoded() string {
	return base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
}

// Host strips the URL scheme from a registry URL, keeping any explicit
// port. Docker config keys are bare hosts, not URLs.
func Host(registryURL string) string {
	host := strings.TrimPrefix(registryURL, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}

// entry is the per-registry value inside the auths map.
type entry struct {
	Auth string `json:"auth"`
}

// Config is a docker config.json restricted to the auths section.
type Config struct {
	Auths map[string]entry `json:"auths"`
}

// NewConfig builds a Config from explicit credentials.
func NewConfig(auths ...Auth) Config {
	cfg := Config{Auths: make(map[string]entry, len(auths))}
	for _, a := range auths {
		cfg.Auths[a.Registry] = entry{Auth: a.Encoded()}
	}
	return cfg
}

// Merge combines configs left to right; later configs override earlier
// ones on registry collisions.
func Merge(configs ...Config) Config {
	out := Config{Auths: make(map[string]entry)}
	for _, cfg := range configs {
		for registry, e := range cfg.Auths {
			out.Auths[registry] = e
		}
	}
	return out
}

// Registries lists the merged registry keys, sorted for stable output.
func (c Config) Registries() []string {
	keys := make([]string, 0, len(c.Auths))
	for k := range c.Auths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSONDoc renders the {"auths": {...}} document.
func (c Config) MarshalJSONDoc() ([]byte, error) {
	if c.Auths == nil {
		c.Auths = map[string]entry{}
	}
	return json.Marshal(c)
}

// WriteFile writes the document to path with owner-only permissions.
func (c Config) WriteFile(path string) error {
	data, err := c.MarshalJSONDoc()
	if err != nil {
		return fmt.Errorf("encoding docker config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing docker config: %w", err)
	}
	return nil
}

// Parse decodes a {"auths": {...}} document.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing docker config: %w", err)
	}
	if cfg.Auths == nil {
		return Config{}, fmt.Errorf("docker config has no auths section")
	}
	return cfg, nil
}

// FromEnviron collects auth sources from environment variables whose
// names start with prefix. Each value is either a literal JSON document
// or a path to a file containing one. Variables are processed in sorted
// name order so the override behavior is deterministic; malformed
// entries produce a warning and are skipped.
func FromEnviron(environ []string, prefix string, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}

	var names []string
	values := make(map[string]string)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		names = append(names, name)
		values[name] = value
	}
	sort.Strings(names)

	var configs []Config
	for _, name := range names {
		cfg, err := parseSource(values[name])
		if err != nil {
			logger.Warn("skipping malformed registry auth source", "variable", name, "error", err)
			continue
		}
		configs = append(configs, cfg)
	}
	return Merge(configs...)
}

// parseSource interprets a source value as literal JSON first, then as a
// file path.
func parseSource(value string) (Config, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Config{}, fmt.Errorf("empty source")
	}
	if strings.HasPrefix(trimmed, "{") {
		return Parse([]byte(trimmed))
	}
	data, err := os.ReadFile(trimmed)
	if err != nil {
		return Config{}, fmt.Errorf("reading auth file: %w", err)
	}
	return Parse(data)
}
