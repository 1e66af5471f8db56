package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvEnvironment, EnvStorageDriver, EnvSQLitePath, EnvPostgresDSN, EnvQueryCacheSize, EnvUnitsFile} {
		t.Setenv(key, "")
	}
}

func TestCurrentEnvironmentDefaults(t *testing.T) {
	clearEnv(t)
	if got := CurrentEnvironment(); got != DefaultEnvironment {
		t.Fatalf("expected %s, got %s", DefaultEnvironment, got)
	}
	t.Setenv(EnvEnvironment, " prod ")
	if got := CurrentEnvironment(); got != "prod" {
		t.Fatalf("expected prod, got %q", got)
	}
}

func TestUnitDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := []struct {
		env, driver, path string
	}{
		{"dev", "sqlite", "persistkit-dev.db"},
		{"test", "memory", "persistkit-test.db"},
	}
	for _, tc := range cases {
		u := cfg.Unit(tc.env)
		if u.Environment != tc.env || u.Driver != tc.driver || u.SQLitePath != tc.path {
			t.Fatalf("%s: unexpected unit %+v", tc.env, u)
		}
	}
}

func TestUnitFromEnvironmentVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvStorageDriver, "Postgres")
	t.Setenv(EnvPostgresDSN, "postgres://db/app")
	t.Setenv(EnvSQLitePath, "/data/{env}/state.db")
	t.Setenv(EnvQueryCacheSize, "32")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	u := cfg.Unit("test")
	if u.Driver != "postgres" || u.PostgresDSN != "postgres://db/app" || u.QueryCacheSize != 32 {
		t.Fatalf("unexpected unit %+v", u)
	}
	if u.SQLitePath != "/data/test/state.db" {
		t.Fatalf("expected env substitution, got %s", u.SQLitePath)
	}
}

func TestInvalidQueryCacheSize(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvQueryCacheSize, "lots")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid cache size")
	}
}

func TestUnitsFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "units.yaml")
	doc := `
dev:
  driver: memory
staging:
  driver: postgres
  postgres_dsn: postgres://staging/app
  query_cache_size: 8
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write units: %v", err)
	}
	t.Setenv(EnvUnitsFile, path)
	t.Setenv(EnvQueryCacheSize, "64")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if u := cfg.Unit("dev"); u.Driver != "memory" || u.QueryCacheSize != 64 {
		t.Fatalf("unexpected dev unit %+v", u)
	}
	if u := cfg.Unit("staging"); u.Driver != "postgres" || u.PostgresDSN != "postgres://staging/app" || u.QueryCacheSize != 8 {
		t.Fatalf("unexpected staging unit %+v", u)
	}
	if u := cfg.Unit("prod"); u.Driver != "sqlite" {
		t.Fatalf("unlisted environments use defaults, got %+v", u)
	}
}

func TestUnitsFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadUnitsFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("dev:\n  drvier: memory\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadUnitsFile(bad); err == nil {
		t.Fatalf("expected strict parse error for unknown field")
	}
	negative := filepath.Join(dir, "negative.yaml")
	if err := os.WriteFile(negative, []byte("dev:\n  query_cache_size: -1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadUnitsFile(negative); err == nil {
		t.Fatalf("expected negative size error")
	}
}
