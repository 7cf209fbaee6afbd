package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `{
		"basic_config": {"server_address": ":9000"},
		"databases": {"sqlite3": {"dsn": "./arena.db"}},
		"providers": {
			"qwen": {"base_url": "https://example.com/v1", "model": "qwen-plus", "api_key": "k"}
		},
		"models": [
			{"id": "nova", "name": "Nova", "provider": "qwen", "model": "qwen-plus", "persona": "You are Nova.", "web_search": true}
		]
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Errorf("address = %q", cfg.BasicConfig.ServerAddress)
	}
	m := cfg.Models[0]
	if m.ID != "nova" || m.Provider != "qwen" || !m.WebSearch || m.Persona == "" {
		t.Errorf("model entry = %+v", m)
	}
	if _, ok := cfg.Providers["qwen"]; !ok {
		t.Error("provider missing")
	}
}

func TestLoadRequiresModels(t *testing.T) {
	path := writeConfig(t, `{"providers": {}, "models": []}`)
	if _, err := Load(path); err == nil {
		t.Fatal("config with no models accepted")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `{
		"providers": {},
		"models": [{"id": "nova", "provider": "missing", "model": "m"}]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("model with unconfigured provider accepted")
	}
}

func TestLoadRejectsBlankModelID(t *testing.T) {
	path := writeConfig(t, `{
		"providers": {"p": {}},
		"models": [{"id": "", "provider": "p", "model": "m"}]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("blank model id accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("missing file accepted")
	}
}
