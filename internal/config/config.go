// Package config loads the daemon configuration from TOML.
// The file lives at ~/.capsule/config.toml by default; a missing file means
// defaults, so a fresh install runs with zero setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Policy  PolicyConfig  `toml:"policy"`
	Oracle  OracleConfig  `toml:"oracle"`
	Metrics MetricsConfig `toml:"metrics"`
	Log     LogConfig     `toml:"log"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port listen address.
func (a APIConfig) Addr() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// StorageConfig configures the SQLite data directory.
type StorageConfig struct {
	Dir string `toml:"dir"` // empty = ~/.capsule
}

// PolicyConfig points at the optional YAML policy bundle.
type PolicyConfig struct {
	Path string `toml:"path"` // empty = built-in defaults
}

// OracleConfig configures the username-ownership oracle.
type OracleConfig struct {
	URL string `toml:"url"` // empty = oracle disabled
}

// MetricsConfig gates the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level"`  // trace, debug, info, warn, error
	Pretty bool   `toml:"pretty"` // console writer instead of JSON
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		API:     APIConfig{Host: "127.0.0.1", Port: 8430},
		Storage: StorageConfig{Dir: ""},
		Policy:  PolicyConfig{Path: ""},
		Oracle:  OracleConfig{URL: ""},
		Metrics: MetricsConfig{Enabled: true},
		Log:     LogConfig{Level: "info", Pretty: false},
	}
}

// DefaultPath returns the default config file location (~/.capsule/config.toml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".capsule", "config.toml")
}

// Load reads the config at path, falling back to defaults when the file does
// not exist. Unknown keys are an error so typos surface immediately.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// DataDir resolves the storage directory, creating it if needed.
func (c Config) DataDir() (string, error) {
	dir := c.Storage.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dir = filepath.Join(home, ".capsule")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}
