// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

// Package config loads server configuration from defaults, an optional YAML
// file, environment variables and command-line flags, in that precedence.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/homeheaven/homeheaven/internal/auth"
)

// Environment variables read by Load.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvTokenSecret = "HOMEHEAVEN_TOKEN_SECRET" //nolint:gosec // G101: variable name, not a credential
)

// Defaults.
const (
	DefaultHTTPAddr    = ":8080"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
)

// Config is the server configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Database DatabaseConfig `koanf:"database"`
	Token    TokenConfig    `koanf:"token"`
	Recovery RecoveryConfig `koanf:"recovery"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// MetricsConfig configures the metrics and health listener.
// An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// TokenConfig configures bearer token signing. Secret signs new tokens;
// PreviousSecrets still verify tokens issued before a rotation.
type TokenConfig struct {
	Secret          string        `koanf:"secret"`
	PreviousSecrets []string      `koanf:"previous_secrets"`
	TTL             time.Duration `koanf:"ttl"`
}

// RecoveryConfig configures password recovery codes.
type RecoveryConfig struct {
	CodeTTL                 time.Duration `koanf:"code_ttl"`
	SweepInterval           time.Duration `koanf:"sweep_interval"`
	HideUnknownDestinations bool          `koanf:"hide_unknown_destinations"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"http-addr":                          "http.addr",
	"metrics-addr":                       "metrics.addr",
	"log-format":                         "log.format",
	"log-level":                          "log.level",
	"database-url":                       "database.url",
	"token-ttl":                          "token.ttl",
	"recovery-code-ttl":                  "recovery.code_ttl",
	"recovery-sweep-interval":            "recovery.sweep_interval",
	"recovery-hide-unknown-destinations": "recovery.hide_unknown_destinations",
}

// RegisterFlags adds the configuration flags and their defaults to fs.
// Secrets are not flags so they never show up in process listings.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", DefaultHTTPAddr, "HTTP API listen address")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL (default: $"+EnvDatabaseURL+")")
	fs.Duration("token-ttl", auth.DefaultTokenTTL, "bearer token lifetime")
	fs.Duration("recovery-code-ttl", auth.RecoveryCodeTTL, "recovery code lifetime")
	fs.Duration("recovery-sweep-interval", auth.DefaultSweepInterval, "expired recovery code sweep interval")
	fs.Bool("recovery-hide-unknown-destinations", false, "acknowledge reset requests for unknown emails")
}

// Load builds a Config. path may be empty. fs must have been passed to
// RegisterFlags; flags the user set override every other source.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "read config file").
				With("path", path).
				Wrap(err)
		}
	}

	for env, key := range map[string]string{
		EnvDatabaseURL: "database.url",
		EnvTokenSecret: "token.secret",
	} {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "apply env").With("env", env).Wrap(err)
			}
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "apply flags").Wrap(err)
		}
	}

	cfg := Defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "decode config").Wrap(err)
	}
	return cfg, nil
}

// Defaults returns a Config holding the built-in defaults.
func Defaults() *Config {
	return &Config{
		HTTP:    HTTPConfig{Addr: DefaultHTTPAddr},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Log:     LogConfig{Format: DefaultLogFormat, Level: DefaultLogLevel},
		Token:   TokenConfig{TTL: auth.DefaultTokenTTL},
		Recovery: RecoveryConfig{
			CodeTTL:       auth.RecoveryCodeTTL,
			SweepInterval: auth.DefaultSweepInterval,
		},
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "http.addr").Errorf("http address is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("key", "log.format").
			Errorf("log format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").
			Errorf("database url is required (set %s)", EnvDatabaseURL)
	}
	if len(c.Token.Secret) < auth.MinSecretLength {
		return oops.Code("CONFIG_INVALID").With("key", "token.secret").
			Errorf("token secret must be at least %d bytes (set %s)", auth.MinSecretLength, EnvTokenSecret)
	}
	if c.Token.TTL < time.Second {
		return oops.Code("CONFIG_INVALID").With("key", "token.ttl").Errorf("token ttl must be at least 1s")
	}
	if c.Recovery.CodeTTL <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "recovery.code_ttl").Errorf("recovery code ttl must be positive")
	}
	return nil
}

// SigningKeys returns the token keyring, newest first. Key IDs are derived
// from the secret so a key keeps its ID across rotations.
func (c *Config) SigningKeys() []auth.SigningKey {
	secrets := append([]string{c.Token.Secret}, c.Token.PreviousSecrets...)
	keys := make([]auth.SigningKey, 0, len(secrets))
	seen := make(map[string]bool, len(secrets))
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		id := KeyID(secret)
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, auth.SigningKey{ID: id, Secret: []byte(secret)})
	}
	return keys
}

// KeyID returns the public identifier of a signing secret.
func KeyID(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:4])
}
