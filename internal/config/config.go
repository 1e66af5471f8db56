// Package config resolves the current environment name and the persistence
// unit of each environment from PERSISTKIT_* environment variables and an
// optional YAML units file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Environment variables read by Load.
const (
	EnvEnvironment    = "PERSISTKIT_ENV"
	EnvStorageDriver  = "PERSISTKIT_STORAGE_DRIVER"
	EnvSQLitePath     = "PERSISTKIT_SQLITE_PATH"
	EnvPostgresDSN    = "PERSISTKIT_POSTGRES_DSN"
	EnvQueryCacheSize = "PERSISTKIT_QUERY_CACHE_SIZE"
	EnvUnitsFile      = "PERSISTKIT_UNITS_FILE"
)

const (
	// DefaultEnvironment is used when PERSISTKIT_ENV is unset.
	DefaultEnvironment = "dev"
	// TestEnvironment defaults to the memory driver.
	TestEnvironment   = "test"
	defaultDriver     = "sqlite"
	defaultSQLitePath = "persistkit-{env}.db"
	envPlaceholder    = "{env}"
)

// Unit describes the store backing one environment.
type Unit struct {
	Environment    string `yaml:"-"`
	Driver         string `yaml:"driver"`
	SQLitePath     string `yaml:"sqlite_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	QueryCacheSize int    `yaml:"query_cache_size"`
}

// Config is the resolved process configuration.
type Config struct {
	Environment string
	// Defaults applies to every environment without an entry in Units.
	Defaults Unit
	Units    map[string]Unit
}

// CurrentEnvironment returns PERSISTKIT_ENV or DefaultEnvironment.
func CurrentEnvironment() string {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		return env
	}
	return DefaultEnvironment
}

// Load reads the process environment and the optional units file.
func Load() (Config, error) {
	cfg := Config{
		Environment: CurrentEnvironment(),
		Defaults: Unit{
			Driver:      strings.ToLower(strings.TrimSpace(os.Getenv(EnvStorageDriver))),
			SQLitePath:  os.Getenv(EnvSQLitePath),
			PostgresDSN: os.Getenv(EnvPostgresDSN),
		},
		Units: map[string]Unit{},
	}
	if raw := strings.TrimSpace(os.Getenv(EnvQueryCacheSize)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("%s: invalid size %q", EnvQueryCacheSize, raw)
		}
		cfg.Defaults.QueryCacheSize = n
	}
	if path := strings.TrimSpace(os.Getenv(EnvUnitsFile)); path != "" {
		units, err := LoadUnitsFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Units = units
	}
	return cfg, nil
}

// LoadUnitsFile parses a YAML document mapping environment names to units.
func LoadUnitsFile(path string) (map[string]Unit, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read units file: %w", err)
	}
	units := map[string]Unit{}
	if err := yaml.UnmarshalStrict(data, &units); err != nil {
		return nil, fmt.Errorf("parse units file %s: %w", path, err)
	}
	for env, u := range units {
		if strings.TrimSpace(env) == "" {
			return nil, fmt.Errorf("parse units file %s: empty environment name", path)
		}
		u.Driver = strings.ToLower(strings.TrimSpace(u.Driver))
		if u.QueryCacheSize < 0 {
			return nil, fmt.Errorf("units file %s: %s: negative query_cache_size", path, env)
		}
		units[env] = u
	}
	return units, nil
}

// Unit resolves the persistence unit for env. File entries override the
// environment-variable defaults field by field.
func (c Config) Unit(env string) Unit {
	u := c.Defaults
	u.Environment = env
	if u.Driver == "" {
		u.Driver = defaultDriver
		if env == TestEnvironment {
			u.Driver = "memory"
		}
	}
	if fileUnit, ok := c.Units[env]; ok {
		if fileUnit.Driver != "" {
			u.Driver = fileUnit.Driver
		}
		if fileUnit.SQLitePath != "" {
			u.SQLitePath = fileUnit.SQLitePath
		}
		if fileUnit.PostgresDSN != "" {
			u.PostgresDSN = fileUnit.PostgresDSN
		}
		if fileUnit.QueryCacheSize != 0 {
			u.QueryCacheSize = fileUnit.QueryCacheSize
		}
	}
	if u.SQLitePath == "" {
		u.SQLitePath = defaultSQLitePath
	}
	u.SQLitePath = strings.ReplaceAll(u.SQLitePath, envPlaceholder, env)
	return u
}
