// Package config loads engine configuration from an optional YAML file
// with SHOWGATE_ environment variables layered on top.
package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	API    APIConfig   `koanf:"api"`
	Store  StoreConfig `koanf:"store"`
	Debug  DebugConfig `koanf:"debug"`
	Locale string      `koanf:"locale"`
}

type APIConfig struct {
	Key         string `koanf:"key"`
	Environment string `koanf:"environment"`
}

// StoreConfig selects persistence. An empty path keeps records in
// memory.
type StoreConfig struct {
	Path string `koanf:"path"`
}

type DebugConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Load reads the YAML file at path (skipped when empty or absent), then
// overlays SHOWGATE_ environment variables. SHOWGATE_API_KEY maps to
// api.key and so on.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	if err := k.Load(env.Provider("SHOWGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "SHOWGATE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("api.environment") {
		k.Set("api.environment", "release")
	}
	if !k.Exists("locale") {
		k.Set("locale", "en_US")
	}
	if !k.Exists("debug.addr") {
		k.Set("debug.addr", "127.0.0.1:9025")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
