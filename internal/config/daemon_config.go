/**
 * CONTEXT:   Daemon configuration management for the dots-family policy daemon
 * INPUT:     A single JSON configuration document, an env-var override for
 *            its path, and documented defaults for every key
 * OUTPUT:    Validated DaemonConfig with every operational parameter named in
 *            spec.md 6
 * BUSINESS:  Every key has a documented default; unknown keys are a
 *            ConfigError at startup, not a silent no-op
 * CHANGE:    Rewritten from the HTTP-daemon config shape to the key set
 *            spec.md 6 mandates (auth, database, web_filtering,
 *            terminal_filtering, monitoring, retention)
 * RISK:      Low - configuration management with comprehensive validation
 */

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dots-distro/dots-family-mode-sub003/internal/domain"
)

// Env vars recognized per spec.md 6.
const (
	EnvConfigPath    = "DOTS_FAMILY_CONFIG"
	EnvLogLevel      = "DOTS_FAMILY_LOG" // RUST_LOG-equivalent
	EnvReportingOnly = "REPORTING_ONLY"
)

const DefaultConfigPath = "/etc/dots-family/daemon.json"

/**
 * CONTEXT:   Top-level daemon configuration structure
 * INPUT:     Configuration values from file and documented defaults
 * OUTPUT:    Complete daemon configuration ready for component initialization
 * BUSINESS:  Mirrors spec.md 6's enumerated key set exactly
 * CHANGE:    Initial implementation for the policy daemon
 * RISK:      Low - configuration data structure with validation methods
 */
type DaemonConfig struct {
	Auth              AuthConfig              `json:"auth"`
	Database          DatabaseConfig          `json:"database"`
	WebFiltering      WebFilteringConfig      `json:"web_filtering"`
	TerminalFiltering TerminalFilteringConfig `json:"terminal_filtering"`
	Monitoring        MonitoringConfig        `json:"monitoring"`
	Retention         RetentionConfig         `json:"retention"`
	Logging           LoggingConfig           `json:"logging"`
	Bus               BusConfig               `json:"bus"`
	Health            HealthConfig            `json:"health"`
}

type RateLimitConfig struct {
	Attempts      int `json:"attempts"`
	WindowMinutes int `json:"window_minutes"`
}

type AuthConfig struct {
	SessionTimeoutMinutes int             `json:"session_timeout_minutes"`
	RateLimit             RateLimitConfig `json:"rate_limit"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type WebFilteringConfig struct {
	Enabled           bool   `json:"enabled"`
	ProxyPort         int    `json:"proxy_port"`
	BlockPageTemplate string `json:"block_page_template"`
}

type TerminalFilteringConfig struct {
	Enabled         bool `json:"enabled"`
	EducationalMode bool `json:"educational_mode"`
}

type MonitoringConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
}

type RetentionConfig struct {
	ActivityDays int `json:"activity_days"`
}

type LoggingConfig struct {
	Level string `json:"level"`
}

// BusConfig is ambient: it is not a spec.md key but is required to know
// where to mount/dial the system bus in tests versus production.
type BusConfig struct {
	WellKnownName string `json:"well_known_name"`
	ObjectPath    string `json:"object_path"`
}

// HealthConfig is ambient, ops-only: the loopback liveness endpoint used by
// the process supervisor, never exposed on the bus.
type HealthConfig struct {
	EnableHTTP bool   `json:"enable_http"`
	ListenAddr string `json:"listen_addr"`
}

// NewDefaultConfig returns the documented default for every key.
func NewDefaultConfig() *DaemonConfig {
	return &DaemonConfig{
		Auth: AuthConfig{
			SessionTimeoutMinutes: 15,
			RateLimit: RateLimitConfig{
				Attempts:      5,
				WindowMinutes: 15,
			},
		},
		Database: DatabaseConfig{
			Path: "/var/lib/dots-family/family.db",
		},
		WebFiltering: WebFilteringConfig{
			Enabled:           true,
			ProxyPort:         3128,
			BlockPageTemplate: "/etc/dots-family/blockpage.html",
		},
		TerminalFiltering: TerminalFilteringConfig{
			Enabled:         false,
			EducationalMode: true,
		},
		Monitoring: MonitoringConfig{
			IntervalSeconds: 10,
		},
		Retention: RetentionConfig{
			ActivityDays: 180,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Bus: BusConfig{
			WellKnownName: "org.dots.FamilyDaemon",
			ObjectPath:    "/org/dots/FamilyDaemon",
		},
		Health: HealthConfig{
			EnableHTTP: false,
			ListenAddr: "127.0.0.1:0",
		},
	}
}

// Load reads the configuration document at path (defaulting to
// DefaultConfigPath, overridable via EnvConfigPath), merges it over
// documented defaults, and validates the result. Unknown top-level keys are
// a ConfigError, per spec.md 6.
func Load(path string) (*DaemonConfig, error) {
	if path == "" {
		if envPath := os.Getenv(EnvConfigPath); envPath != "" {
			path = envPath
		} else {
			path = DefaultConfigPath
		}
	}

	cfg := NewDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envLevel := os.Getenv(EnvLogLevel); envLevel != "" {
				cfg.Logging.Level = envLevel
			}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, domain.NewConfigError(fmt.Sprintf("reading config file %s", path), err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, domain.NewConfigError(fmt.Sprintf("parsing config file %s", path), err)
	}

	if envLevel := os.Getenv(EnvLogLevel); envLevel != "" {
		cfg.Logging.Level = envLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration is internally consistent.
func (dc *DaemonConfig) Validate() error {
	if dc.Database.Path == "" {
		return domain.NewConfigError("database.path cannot be empty", nil)
	}
	if dbDir := filepath.Dir(dc.Database.Path); dbDir != "." {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return domain.NewConfigError(fmt.Sprintf("creating database directory %s", dbDir), err)
		}
	}

	if dc.Auth.SessionTimeoutMinutes <= 0 {
		return domain.NewConfigError("auth.session_timeout_minutes must be positive", nil)
	}
	if dc.Auth.RateLimit.Attempts <= 0 {
		return domain.NewConfigError("auth.rate_limit.attempts must be positive", nil)
	}
	if dc.Auth.RateLimit.WindowMinutes <= 0 {
		return domain.NewConfigError("auth.rate_limit.window_minutes must be positive", nil)
	}

	if dc.WebFiltering.Enabled && (dc.WebFiltering.ProxyPort <= 0 || dc.WebFiltering.ProxyPort > 65535) {
		return domain.NewConfigError("web_filtering.proxy_port must be a valid port when enabled", nil)
	}

	if dc.Monitoring.IntervalSeconds <= 0 {
		return domain.NewConfigError("monitoring.interval_seconds must be positive", nil)
	}

	if dc.Retention.ActivityDays <= 0 {
		return domain.NewConfigError("retention.activity_days must be positive", nil)
	}

	switch dc.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return domain.NewConfigError(fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", dc.Logging.Level), nil)
	}

	if dc.Bus.WellKnownName == "" || dc.Bus.ObjectPath == "" {
		return domain.NewConfigError("bus.well_known_name and bus.object_path must be set", nil)
	}

	return nil
}

// ReportingOnly reports whether REPORTING_ONLY forces every Block/Warn
// Decision to be recorded as an audit event without driving enforcement
// signals (the deploy-then-enforce ramp, spec.md 6).
func ReportingOnly() bool {
	v := os.Getenv(EnvReportingOnly)
	return v == "1" || v == "true" || v == "TRUE" || v == "True"
}

// SessionTimeout is a convenience accessor returning a time.Duration.
func (dc *DaemonConfig) SessionTimeout() time.Duration {
	return time.Duration(dc.Auth.SessionTimeoutMinutes) * time.Minute
}

func (dc *DaemonConfig) RateLimitWindow() time.Duration {
	return time.Duration(dc.Auth.RateLimit.WindowMinutes) * time.Minute
}

func (dc *DaemonConfig) MonitoringInterval() time.Duration {
	return time.Duration(dc.Monitoring.IntervalSeconds) * time.Second
}

func (dc *DaemonConfig) RetentionWindow() time.Duration {
	return time.Duration(dc.Retention.ActivityDays) * 24 * time.Hour
}
