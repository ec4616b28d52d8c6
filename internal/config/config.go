// Package config loads and persists the desktop runtime's own YAML
// configuration file, following the same load/save/ensure-group pattern as
// cmd/agently/mcp.go's executor config handling.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig controls the embedded database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// StreamingConfig controls the coalescing buffer's default thresholds.
type StreamingConfig struct {
	BatchSize    int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// SystemInfo mirrors the external-interface System channel's reply shape
// (spec §6).
type SystemInfo struct {
	CacheDir string `yaml:"cacheDir" json:"cacheDir"`
	WorkDir  string `yaml:"workDir" json:"workDir"`
	Platform string `yaml:"platform" json:"platform"`
	Arch     string `yaml:"arch" json:"arch"`
}

// Config is the root document at ~/.deskrt/config.yaml.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Streaming StreamingConfig `yaml:"streaming"`
	System    SystemInfo      `yaml:"system"`
	Addr      string          `yaml:"addr"`
}

// DefaultPath mirrors cmd/agently's defaultConfigPath helper: a dotfile
// under the user's home directory, falling back to a relative path when
// $HOME can't be resolved.
func DefaultPath() string {
	if home, _ := os.UserHomeDir(); home != "" {
		return filepath.Join(home, ".deskrt", "config.yaml")
	}
	return filepath.FromSlash("./deskrt/config.yaml")
}

// Load reads path, returning a zero-valued Config (not an error) when the
// file does not yet exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(cfg), nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return defaults(cfg), nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaults(cfg *Config) *Config {
	if cfg.Storage.Path == "" {
		home, _ := os.UserHomeDir()
		cfg.Storage.Path = filepath.Join(home, ".deskrt", "deskrt.db")
	}
	if cfg.Streaming.BatchSize == 0 {
		cfg.Streaming.BatchSize = 20
	}
	if cfg.Streaming.FlushInterval == 0 {
		cfg.Streaming.FlushInterval = 300 * time.Millisecond
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8765"
	}
	return cfg
}
