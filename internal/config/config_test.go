package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
store:
  type: postgres
  pg:
    host: db.internal
    port: 5433
    user: scim
    dbname: identity
authentication:
  secret: topsecret
log:
  level: debug
ratelimit:
  rps: 25
  burst: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Type != "postgres" || cfg.Store.PG.Host != "db.internal" || cfg.Store.PG.Port != 5433 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Authentication.Secret != "topsecret" {
		t.Errorf("secret = %q", cfg.Authentication.Secret)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
	if cfg.RateLimit.RPS != 25 || cfg.RateLimit.Burst != 50 {
		t.Errorf("ratelimit = %+v", cfg.RateLimit)
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Store.PG.Port != 5432 || cfg.Store.PG.Schema != "public" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
}

// Environment variables override file values.
func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
store:
  pg:
    host: from-file
    port: 5432
log:
  level: info
`)
	t.Setenv("STORE_PG_HOST", "from-env")
	t.Setenv("STORE_PG_PORT", "6000")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("AUTHENTICATION_SECRET", "env-secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store.PG.Host != "from-env" || cfg.Store.PG.Port != 6000 {
		t.Errorf("pg = %+v", cfg.Store.PG)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
	if cfg.Authentication.Secret != "env-secret" {
		t.Errorf("secret = %q", cfg.Authentication.Secret)
	}
}

func TestLoadValidation(t *testing.T) {
	if _, err := Load(writeConfig(t, "store:\n  type: cassandra\n")); err == nil {
		t.Error("unknown store type should fail validation")
	}
	if _, err := Load(writeConfig(t, "log:\n  level: loud\n")); err == nil {
		t.Error("unknown log level should fail validation")
	}
	if _, err := Load(writeConfig(t, "server:\n  addr: [1,2]\n")); err == nil {
		t.Error("malformed yaml types should fail")
	}
}

func TestLoadBadEnvNumber(t *testing.T) {
	t.Setenv("STORE_PG_PORT", "not-a-number")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("non-numeric STORE_PG_PORT should fail")
	}
}
