package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Environment != "release" {
		t.Errorf("environment = %q, want release", cfg.API.Environment)
	}
	if cfg.Locale != "en_US" {
		t.Errorf("locale = %q, want en_US", cfg.Locale)
	}
	if cfg.Debug.Addr == "" {
		t.Error("debug addr default missing")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SHOWGATE_API_KEY", "pk_env_123")
	t.Setenv("SHOWGATE_API_ENVIRONMENT", "developer")
	t.Setenv("SHOWGATE_STORE_PATH", "/tmp/showgate.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Key != "pk_env_123" {
		t.Errorf("api key = %q", cfg.API.Key)
	}
	if cfg.API.Environment != "developer" {
		t.Errorf("environment = %q", cfg.API.Environment)
	}
	if cfg.Store.Path != "/tmp/showgate.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
}

func TestLoadYAMLFileWithEnvPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "showgate.yaml")
	body := []byte("api:\n  key: pk_file_456\nlocale: de_DE\ndebug:\n  enabled: true\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("SHOWGATE_LOCALE", "fr_FR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Key != "pk_file_456" {
		t.Errorf("api key = %q", cfg.API.Key)
	}
	if !cfg.Debug.Enabled {
		t.Error("debug.enabled not read from file")
	}
	// Environment wins over the file.
	if cfg.Locale != "fr_FR" {
		t.Errorf("locale = %q, want env override fr_FR", cfg.Locale)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}
