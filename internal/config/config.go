// Package config loads server settings. Sources are layered with later
// sources overriding earlier ones: built-in defaults, the JSON/YAML config
// file, environment variables, and finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override. Nested keys use a
	// double underscore: LOGMANAGER_LOGIN__MAX_ATTEMPTS=10.
	EnvPrefix = "LOGMANAGER_"

	DefaultPort    = 8090
	DefaultDataDir = "/vol1/@appdata/logmanager"
)

// DefaultLogDirs are the fnOS application directories browsed when no
// log_dirs are configured.
var DefaultLogDirs = []string{
	"/vol1/@appdata",
	"/vol1/@appconf",
	"/vol1/@apphome",
	"/vol1/@apptemp",
	"/vol1/@appshare",
	"/var/log/apps",
}

var ErrInvalid = errors.New("invalid configuration")

type Login struct {
	MaxAttempts int           `koanf:"max_attempts"`
	Lockout     time.Duration `koanf:"lockout"`
	IdleTTL     time.Duration `koanf:"idle_ttl"`
}

type RateLimit struct {
	Window      time.Duration `koanf:"window"`
	MaxRequests int           `koanf:"max_requests"`
}

type Audit struct {
	MaxRecords        int    `koanf:"max_records"`
	WebhookURL        string `koanf:"webhook_url"`
	WebhookAuthHeader string `koanf:"webhook_auth_header"`
}

type Docker struct {
	Binary  string        `koanf:"binary"`
	Timeout time.Duration `koanf:"timeout"`
}

type TLS struct {
	Cert string `koanf:"cert"`
	Key  string `koanf:"key"`
}

// Config is the fully resolved server configuration.
type Config struct {
	Port              int           `koanf:"port"`
	DataDir           string        `koanf:"data_dir"`
	LogDirs           []string      `koanf:"log_dirs"`
	SessionTTL        time.Duration `koanf:"session_ttl"`
	CSRFTTL           time.Duration `koanf:"csrf_ttl"`
	Login             Login         `koanf:"login"`
	RateLimit         RateLimit     `koanf:"rate_limit"`
	Audit             Audit         `koanf:"audit"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
	ForceSecureCookie bool          `koanf:"force_secure_cookie"`
	FilterSensitive   bool          `koanf:"filter_sensitive"`
	Docker            Docker        `koanf:"docker"`
	TLS               TLS           `koanf:"tls"`
	LogFormat         string        `koanf:"log_format"`
	LogLevel          string        `koanf:"log_level"`
}

// Defaults returns the built-in settings as a flat koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"port":                    DefaultPort,
		"data_dir":                DefaultDataDir,
		"log_dirs":                append([]string(nil), DefaultLogDirs...),
		"session_ttl":             24 * time.Hour,
		"csrf_ttl":                2 * time.Hour,
		"login.max_attempts":      5,
		"login.lockout":           30 * time.Minute,
		"login.idle_ttl":          time.Hour,
		"rate_limit.window":       time.Minute,
		"rate_limit.max_requests": 100,
		"audit.max_records":       1000,
		"trusted_proxies":         []string{"127.0.0.1/32", "::1/128"},
		"force_secure_cookie":     false,
		"filter_sensitive":        true,
		"docker.binary":           "docker",
		"docker.timeout":          120 * time.Second,
		"log_format":              "json",
		"log_level":               "info",
	}
}

// PasswordFile is the legacy plaintext-hash file imported on first start.
func (c *Config) PasswordFile() string { return filepath.Join(c.DataDir, ".password") }

// AuditFile is the NDJSON audit trail.
func (c *Config) AuditFile() string { return filepath.Join(c.DataDir, "audit.log") }

// DatabaseFile holds the credential store.
func (c *Config) DatabaseFile() string { return filepath.Join(c.DataDir, "logmanager.db") }

// ConfigFile is the default location of the optional config file.
func ConfigFile(dataDir string) string {
	return filepath.Join(dataDir, "config", "config.json")
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if len(c.LogDirs) == 0 {
		errs = append(errs, errors.New("log_dirs must name at least one directory"))
	}
	for _, d := range c.LogDirs {
		if !filepath.IsAbs(d) {
			errs = append(errs, fmt.Errorf("log_dirs entry %q is not absolute", d))
		}
	}
	for name, d := range map[string]time.Duration{
		"session_ttl":       c.SessionTTL,
		"csrf_ttl":          c.CSRFTTL,
		"login.lockout":     c.Login.Lockout,
		"login.idle_ttl":    c.Login.IdleTTL,
		"rate_limit.window": c.RateLimit.Window,
		"docker.timeout":    c.Docker.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Login.MaxAttempts < 1 {
		errs = append(errs, errors.New("login.max_attempts must be at least 1"))
	}
	if c.RateLimit.MaxRequests < 1 {
		errs = append(errs, errors.New("rate_limit.max_requests must be at least 1"))
	}
	if c.Audit.MaxRecords < 1 {
		errs = append(errs, errors.New("audit.max_records must be at least 1"))
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		errs = append(errs, errors.New("tls.cert and tls.key must be set together"))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format %q must be json or text", c.LogFormat))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return l, nil
}

// Loader assembles a Config from layered sources.
type Loader struct {
	file  string
	flags map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithConfigFile reads path instead of <data_dir>/config/config.json.
// An explicitly named file must exist.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.file = path }
}

// WithFlags overlays values set on the command line, keyed like the
// config file ("login.max_attempts").
func WithFlags(values map[string]any) Option {
	return func(l *Loader) { l.flags = values }
}

// NewLoader returns a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load resolves and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	// The config file lives under data_dir, which itself may come from the
	// environment or flags, so resolve it from everything but the file.
	path, explicit := l.file, l.file != ""
	if !explicit {
		early := koanf.New(".")
		if err := early.Load(mapProvider(Defaults()), nil); err != nil {
			return nil, fmt.Errorf("load defaults: %w", err)
		}
		if err := l.loadOverrides(early); err != nil {
			return nil, err
		}
		path = ConfigFile(early.String("data_dir"))
	}

	k := koanf.New(".")
	if err := k.Load(mapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if _, err := os.Stat(path); err == nil || explicit {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := l.loadOverrides(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) loadOverrides(k *koanf.Koanf) error {
	// Bare PORT is honoured for compatibility with the app-center launcher
	// and loses to LOGMANAGER_PORT.
	portOnly := func(s string) string {
		if s == "PORT" {
			return "port"
		}
		return ""
	}
	if err := k.Load(env.Provider("PORT", ".", portOnly), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	if len(l.flags) > 0 {
		if err := k.Load(mapProvider(l.flags), nil); err != nil {
			return fmt.Errorf("load flags: %w", err)
		}
	}
	return nil
}

// envKey maps LOGMANAGER_RATE_LIMIT__MAX_REQUESTS to rate_limit.max_requests.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
