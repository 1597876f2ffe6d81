// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package config loads gatekeep configuration.
//
// Sources are applied in order, later ones winning:
//  1. built-in defaults
//  2. a .env file (only for variables not already in the environment)
//  3. an optional YAML file, validated against the reflected JSON Schema
//  4. environment variables (PORT, DATABASE_URL, then GATEKEEP_*)
//  5. command-line flags that were explicitly set
//
// A sqlite store without a DSN defaults to gatekeep.db under the XDG data directory.
package config

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gatekeep/gatekeep/internal/xdg"
)

// EnvPrefix prefixes every gatekeep-specific environment variable.
const EnvPrefix = "GATEKEEP_"

// Config is the complete service configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http" json:"http,omitempty" yaml:"http" envPrefix:"HTTP_"`
	Metrics MetricsConfig `koanf:"metrics" json:"metrics,omitempty" yaml:"metrics" envPrefix:"METRICS_"`
	Log     LogConfig     `koanf:"log" json:"log,omitempty" yaml:"log" envPrefix:"LOG_"`
	Store   StoreConfig   `koanf:"store" json:"store,omitempty" yaml:"store" envPrefix:"STORE_"`
	Hasher  HasherConfig  `koanf:"hasher" json:"hasher,omitempty" yaml:"hasher" envPrefix:"HASHER_"`
	Token   TokenConfig   `koanf:"token" json:"token,omitempty" yaml:"token" envPrefix:"TOKEN_"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Host            string        `koanf:"host" json:"host,omitempty" yaml:"host" env:"HOST" jsonschema:"description=Interface to bind; empty binds all"`
	Port            int           `koanf:"port" json:"port,omitempty" yaml:"port" env:"PORT" jsonschema:"minimum=0,maximum=65535"`
	RequestTimeout  time.Duration `koanf:"request_timeout" json:"request_timeout,omitempty" yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// MetricsConfig configures the observability listener.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty" yaml:"addr" env:"ADDR" jsonschema:"description=host:port for /metrics and health probes; empty disables"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" yaml:"format" env:"FORMAT" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" yaml:"level" env:"LEVEL" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// StoreConfig selects and configures the account store.
type StoreConfig struct {
	Driver         string        `koanf:"driver" json:"driver,omitempty" yaml:"driver" env:"DRIVER" jsonschema:"enum=memory,enum=postgres,enum=sqlite"`
	DSN            string        `koanf:"dsn" json:"dsn,omitempty" yaml:"dsn" env:"DSN"`
	Timeout        time.Duration `koanf:"timeout" json:"timeout,omitempty" yaml:"timeout" env:"TIMEOUT"`
	AutoMigrate    bool          `koanf:"auto_migrate" json:"auto_migrate,omitempty" yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	ConnectRetries int           `koanf:"connect_retries" json:"connect_retries,omitempty" yaml:"connect_retries" env:"CONNECT_RETRIES" jsonschema:"minimum=0"`
}

// HasherConfig configures password hashing.
type HasherConfig struct {
	Algorithm   string `koanf:"algorithm" json:"algorithm,omitempty" yaml:"algorithm" env:"ALGORITHM" jsonschema:"enum=bcrypt,enum=argon2id"`
	Cost        int    `koanf:"cost" json:"cost,omitempty" yaml:"cost" env:"COST" jsonschema:"minimum=4,maximum=31"`
	Concurrency int    `koanf:"concurrency" json:"concurrency,omitempty" yaml:"concurrency" env:"CONCURRENCY" jsonschema:"minimum=1"`
}

// TokenConfig configures login tokens.
type TokenConfig struct {
	Mode   string        `koanf:"mode" json:"mode,omitempty" yaml:"mode" env:"MODE" jsonschema:"enum=opaque,enum=jwt"`
	Secret string        `koanf:"secret" json:"secret,omitempty" yaml:"secret" env:"SECRET"`
	TTL    time.Duration `koanf:"ttl" json:"ttl,omitempty" yaml:"ttl" env:"TTL"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:            3000,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Store: StoreConfig{
			Driver:         "memory",
			Timeout:        5 * time.Second,
			AutoMigrate:    true,
			ConnectRetries: 5,
		},
		Hasher: HasherConfig{
			Algorithm:   "bcrypt",
			Cost:        10,
			Concurrency: runtime.NumCPU(),
		},
		Token: TokenConfig{
			Mode: "opaque",
			TTL:  24 * time.Hour,
		},
	}
}

// platformEnv holds the unprefixed variables set by common hosting platforms.
type platformEnv struct {
	Port        int    `env:"PORT"`
	DatabaseURL string `env:"DATABASE_URL"`
}

// LoadOptions controls Load.
type LoadOptions struct {
	// File is an optional YAML configuration file.
	File string
	// EnvFile is an optional dotenv file. Missing files are ignored.
	EnvFile string
	// Flags, if set, contributes explicitly changed flags registered by BindFlags.
	Flags *pflag.FlagSet
}

// Load builds a Config from all sources and validates it.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_ENV_FILE_FAILED").With("path", opts.EnvFile).Wrap(err)
		}
	}

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, oops.Code("CONFIG_READ_FAILED").With("path", opts.File).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", opts.File).Wrap(err)
		}
		k := koanf.New(".")
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", opts.File).Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, oops.Code("CONFIG_PARSE_FAILED").With("path", opts.File).Wrap(err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		k := koanf.New(".")
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, changedFlag(opts.Flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	if cfg.Store.Driver == DriverSQLite && cfg.Store.DSN == "" {
		path, err := xdg.SQLitePath()
		if err != nil {
			return nil, err //nolint:wrapcheck // xdg errors already carry codes
		}
		cfg.Store.DSN = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	var platform platformEnv
	if err := env.Parse(&platform); err != nil {
		return oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}
	if platform.Port != 0 {
		cfg.HTTP.Port = platform.Port
	}
	if platform.DatabaseURL != "" {
		cfg.Store.DSN = platform.DatabaseURL
		if cfg.Store.Driver == "memory" {
			cfg.Store.Driver = "postgres"
		}
	}

	if err := env.Parse(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}
	return nil
}

// flagKeys maps flag names registered by BindFlags to configuration keys.
var flagKeys = map[string]string{
	"host":             "http.host",
	"port":             "http.port",
	"request-timeout":  "http.request_timeout",
	"shutdown-timeout": "http.shutdown_timeout",
	"metrics-addr":     "metrics.addr",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"store-driver":     "store.driver",
	"store-dsn":        "store.dsn",
	"store-timeout":    "store.timeout",
	"auto-migrate":     "store.auto_migrate",
	"hasher":           "hasher.algorithm",
	"hasher-cost":      "hasher.cost",
	"token-mode":       "token.mode",
	"token-ttl":        "token.ttl",
}

// BindFlags registers every configuration flag on fs with defaults shown in help.
// Only flags the user sets override other sources.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("host", d.HTTP.Host, "interface to bind the API to")
	fs.Int("port", d.HTTP.Port, "API listen port")
	fs.Duration("request-timeout", d.HTTP.RequestTimeout, "per-request handler timeout")
	fs.Duration("shutdown-timeout", d.HTTP.ShutdownTimeout, "graceful shutdown timeout")
	fs.String("metrics-addr", d.Metrics.Addr, "observability listen address (empty disables)")
	fs.String("log-format", d.Log.Format, "log format (json, text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("hasher", d.Hasher.Algorithm, "password hash algorithm (bcrypt, argon2id)")
	fs.Int("hasher-cost", d.Hasher.Cost, "bcrypt cost")
	fs.String("token-mode", d.Token.Mode, "login token mode (opaque, jwt)")
	fs.Duration("token-ttl", d.Token.TTL, "jwt token lifetime")
	BindStoreFlags(fs)
}

// BindStoreFlags registers only the account store flags.
func BindStoreFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("store-driver", d.Store.Driver, "account store driver (memory, postgres, sqlite)")
	fs.String("store-dsn", d.Store.DSN, "account store connection string or file path")
	fs.Duration("store-timeout", d.Store.Timeout, "timeout for each store call")
	fs.Bool("auto-migrate", d.Store.AutoMigrate, "apply postgres migrations on startup")
}

func changedFlag(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}
