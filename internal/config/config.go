// Package config loads forum settings from defaults, an optional YAML file
// and FORUM_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix is stripped from environment variables; the first underscore
// after it separates the section from the key (FORUM_SERVER_READ_TIMEOUT).
const EnvPrefix = "FORUM_"

var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

type Config struct {
	Server    ServerConfig   `koanf:"server"`
	Database  DatabaseConfig `koanf:"database"`
	Session   SessionConfig  `koanf:"session"`
	Auth      AuthConfig     `koanf:"auth"`
	Log       LogConfig      `koanf:"log"`
	Jobs      JobsConfig     `koanf:"jobs"`
	SeedUsers []SeedUser     `koanf:"seed_users" validate:"dive"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `koanf:"dsn" validate:"required"`
}

type SessionConfig struct {
	CookieName string        `koanf:"cookie_name" validate:"required"`
	Lifetime   time.Duration `koanf:"lifetime" validate:"gt=0"`
	Secure     bool          `koanf:"secure"`
}

type AuthConfig struct {
	BcryptCost int `koanf:"bcrypt_cost" validate:"gte=4,lte=31"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type JobsConfig struct {
	// Zero disables the job.
	SessionPruneInterval  time.Duration `koanf:"session_prune_interval" validate:"gte=0"`
	LikeReconcileInterval time.Duration `koanf:"like_reconcile_interval" validate:"gte=0"`
}

type SeedUser struct {
	Username string `koanf:"username" validate:"required"`
	Password string `koanf:"password" validate:"required"`
	Name     string `koanf:"name"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./data/forum.db",
		},
		Session: SessionConfig{
			CookieName: "forum_session",
			Lifetime:   24 * time.Hour,
		},
		Auth: AuthConfig{BcryptCost: 10},
		Log:  LogConfig{Level: "info", Format: "json"},
		Jobs: JobsConfig{
			SessionPruneInterval:  time.Hour,
			LikeReconcileInterval: 15 * time.Minute,
		},
	}
}

// Load builds the configuration. An empty path means CONFIG_PATH or the
// first default path that exists; no file at all is fine.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// PORT is what most hosts set
	if p := os.Getenv("PORT"); p != "" && os.Getenv(EnvPrefix+"SERVER_ADDR") == "" {
		cfg.Server.Addr = ":" + p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// envKey maps FORUM_SESSION_COOKIE_NAME to session.cookie_name.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return ""
	}
	return section + "." + rest
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
