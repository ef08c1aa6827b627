// Package config loads the imapsessiond configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Backend names.
const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendMaildir = "maildir"
)

// EnvPrefix is the prefix of environment variables overriding the
// configuration file.
const EnvPrefix = "IMAPSESSIOND_"

type TLS struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type Backend struct {
	// Type is one of memory, sqlite or maildir.
	Type string `yaml:"type"`
	// Path is the directory holding per-user databases or maildirs.
	Path string `yaml:"path"`
}

type Auth struct {
	// PasswdFile contains "username:bcrypt-hash" lines.
	PasswdFile string `yaml:"passwd_file"`
	// JWTSecret enables OAUTHBEARER with HMAC-signed tokens.
	JWTSecret   string `yaml:"jwt_secret"`
	JWTIssuer   string `yaml:"jwt_issuer"`
	JWTAudience string `yaml:"jwt_audience"`
}

type Config struct {
	Listen       string        `yaml:"listen"`
	ListenTLS    string        `yaml:"listen_tls"`
	TLS          TLS           `yaml:"tls"`
	InsecureAuth bool          `yaml:"insecure_auth"`
	Backend      Backend       `yaml:"backend"`
	Auth         Auth          `yaml:"auth"`
	Metrics      string        `yaml:"metrics_listen"`
	Debug        bool          `yaml:"debug"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	MaxLiteral   int64         `yaml:"max_literal_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:      "localhost:143",
		Backend:     Backend{Type: BackendMemory},
		ReadTimeout: 30 * time.Minute,
		IdleTimeout: 30 * time.Minute,
		MaxLiteral:  50 << 20,
	}
}

// Load reads a YAML configuration file on top of the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, err
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LISTEN":       &cfg.Listen,
		"LISTEN_TLS":   &cfg.ListenTLS,
		"TLS_CERT":     &cfg.TLS.Cert,
		"TLS_KEY":      &cfg.TLS.Key,
		"BACKEND":      &cfg.Backend.Type,
		"BACKEND_PATH": &cfg.Backend.Path,
		"PASSWD_FILE":  &cfg.Auth.PasswdFile,
		"JWT_SECRET":   &cfg.Auth.JWTSecret,
		"JWT_ISSUER":   &cfg.Auth.JWTIssuer,
		"JWT_AUDIENCE": &cfg.Auth.JWTAudience,
		"METRICS":      &cfg.Metrics,
	}
	for name, ptr := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*ptr = v
		}
	}

	bools := map[string]*bool{
		"INSECURE_AUTH": &cfg.InsecureAuth,
		"DEBUG":         &cfg.Debug,
	}
	for name, ptr := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: invalid %v%v: %w", EnvPrefix, name, err)
			}
			*ptr = b
		}
	}

	durations := map[string]*time.Duration{
		"READ_TIMEOUT": &cfg.ReadTimeout,
		"IDLE_TIMEOUT": &cfg.IdleTimeout,
	}
	for name, ptr := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: invalid %v%v: %w", EnvPrefix, name, err)
			}
			*ptr = d
		}
	}

	if v, ok := lookup(EnvPrefix + "MAX_LITERAL_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: invalid %vMAX_LITERAL_SIZE: %w", EnvPrefix, err)
		}
		cfg.MaxLiteral = n
	}
	return nil
}

// Validate checks the configuration for consistency.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Listen == "" && cfg.ListenTLS == "" {
		errs = append(errs, errors.New("no listen address"))
	}
	if (cfg.TLS.Cert == "") != (cfg.TLS.Key == "") {
		errs = append(errs, errors.New("tls: both cert and key are required"))
	}
	if cfg.ListenTLS != "" && cfg.TLS.Cert == "" {
		errs = append(errs, errors.New("listen_tls requires a TLS certificate"))
	}
	switch cfg.Backend.Type {
	case BackendMemory:
	case BackendSQLite, BackendMaildir:
		if cfg.Backend.Path == "" {
			errs = append(errs, fmt.Errorf("backend: %v requires a path", cfg.Backend.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("backend: unknown type %q", cfg.Backend.Type))
	}
	if cfg.Auth.PasswdFile == "" && cfg.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth: passwd_file or jwt_secret is required"))
	}
	if cfg.ReadTimeout < 0 || cfg.IdleTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if cfg.MaxLiteral < 0 {
		errs = append(errs, errors.New("max_literal_size must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
