// Package config loads service configuration from a YAML file with
// environment variable overrides. Every dotted key maps to an environment
// variable by uppercasing and replacing dots with underscores, so
// `store.pg.host` is overridden by STORE_PG_HOST. Environment values win
// over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "config.yaml"

// Config is the root service configuration.
type Config struct {
	Server         Server         `yaml:"server"`
	Store          StoreConfig    `yaml:"store"`
	Authentication Authentication `yaml:"authentication"`
	Log            Log            `yaml:"log"`
	CORS           CORS           `yaml:"cors"`
	RateLimit      RateLimit      `yaml:"ratelimit"`
}

type Server struct {
	Addr string `yaml:"addr" validate:"required"`
}

// StoreConfig selects and parameterizes the resource store backend.
type StoreConfig struct {
	Type string   `yaml:"type" validate:"omitempty,oneof=memory postgres"`
	PG   Postgres `yaml:"pg"`
}

type Postgres struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Schema   string `yaml:"schema"`
}

type Authentication struct {
	Secret    string `yaml:"secret"`
	JWTSecret string `yaml:"jwt_secret"`
}

type Log struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Load reads the configuration file at path (CONFIG_PATH, or DefaultPath,
// when empty), applies environment overrides and validates the result. A
// missing file is not an error; the configuration then comes entirely from
// defaults and the environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := defaults()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to env-only configuration
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: Server{Addr: ":8080"},
		Store: StoreConfig{
			PG: Postgres{
				Port:    5432,
				SSLMode: "disable",
				Schema:  "public",
			},
		},
		Log:       Log{Level: "info"},
		RateLimit: RateLimit{RPS: 50, Burst: 100},
	}
}

// applyEnv overrides each configuration key from its environment variable.
func applyEnv(cfg *Config) error {
	overrideString("SERVER_ADDR", &cfg.Server.Addr)
	overrideString("STORE_TYPE", &cfg.Store.Type)
	overrideString("STORE_PG_HOST", &cfg.Store.PG.Host)
	overrideString("STORE_PG_USER", &cfg.Store.PG.User)
	overrideString("STORE_PG_PASSWORD", &cfg.Store.PG.Password)
	overrideString("STORE_PG_DBNAME", &cfg.Store.PG.DBName)
	overrideString("STORE_PG_SSLMODE", &cfg.Store.PG.SSLMode)
	overrideString("STORE_PG_SCHEMA", &cfg.Store.PG.Schema)
	overrideString("AUTHENTICATION_SECRET", &cfg.Authentication.Secret)
	overrideString("AUTHENTICATION_JWT_SECRET", &cfg.Authentication.JWTSecret)
	overrideString("LOG_LEVEL", &cfg.Log.Level)
	if value := os.Getenv("CORS_ALLOWED_ORIGINS"); value != "" {
		cfg.CORS.AllowedOrigins = strings.Split(value, ",")
	}

	if err := overrideInt("STORE_PG_PORT", &cfg.Store.PG.Port); err != nil {
		return err
	}
	if err := overrideInt("RATELIMIT_BURST", &cfg.RateLimit.Burst); err != nil {
		return err
	}
	if value := os.Getenv("RATELIMIT_RPS"); value != "" {
		rps, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("RATELIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RPS = rps
	}
	return nil
}

func overrideString(key string, target *string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func overrideInt(key string, target *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*target = n
	return nil
}
