package lectern

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "environment: test\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.SilenceTimeoutMS != 5000 || cfg.Engine.ProviderTimeoutMS != 10000 {
		t.Fatalf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Vendors.QA.Provider != "mock" || cfg.Store.Driver != "memory" {
		t.Fatalf("unexpected vendor/store defaults %+v", cfg)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatal("redaction should default on")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
engine:
  silence_timeout_ms: 3000
vendors:
  qa:
    provider: openai
    settings:
      api_key: k
      model: gpt-4o-mini
store:
  driver: postgres
  dsn: postgres://localhost/lectern
transport:
  server_addr: ":9090"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.SilenceTimeoutMS != 3000 {
		t.Fatalf("override lost: %+v", cfg.Engine)
	}
	if cfg.Vendors.QA.Provider != "openai" || cfg.Vendors.QA.Settings["model"] != "gpt-4o-mini" {
		t.Fatalf("vendor settings lost: %+v", cfg.Vendors.QA)
	}
	if cfg.Transport.ServerAddr != ":9090" {
		t.Fatalf("transport override lost: %+v", cfg.Transport)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
