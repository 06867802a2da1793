package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Default platform endpoints, overridable via ~/.pigeon/config.toml.
const (
	DefaultAPIURL = "http://localhost:8080"
	DefaultWSURL  = "ws://localhost:8080/ws"
)

// Config represents the global ~/.pigeon/config.toml.
type Config struct {
	APIURL         string `toml:"api_url"`
	WSURL          string `toml:"ws_url"`
	DefaultSession string `toml:"default_session"`
}

// Load reads config from the given path. Returns zero config and error
// if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when
// the file does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
		cfg.applyDefaults()
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
