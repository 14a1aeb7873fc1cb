// Package config resolves runtime configuration from the process environment.
//
// Values are read once at startup (after an optional .env file has been loaded
// by the command). Invalid numeric values never fail startup: they fall back to
// defaults or are clamped, and the adjustment is reported as a warning for the
// caller to log.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvBaseURL           = "DRUPAL_BASE_URL"
	EnvLoginURL          = "DRUPAL_LOGIN_URL"
	EnvDisplay           = "DISPLAY"
	EnvSanctioned        = "BSP_SANCTIONED_ENV"
	EnvKeepaliveEnabled  = "KEEPALIVE_ENABLED"
	EnvKeepaliveInterval = "KEEPALIVE_INTERVAL_MINUTES"
	EnvKeepaliveFailures = "KEEPALIVE_MAX_FAILURES"
	EnvSessionFile       = "BSP_SESSION_FILE"
	EnvSchemaDir         = "BSP_SCHEMA_DIR"
	EnvListenAddr        = "BSP_LISTEN_ADDR"
	EnvNavTimeout        = "BSP_NAV_TIMEOUT_MS"
	EnvLogDir            = "BSP_LOG_DIR"
	EnvLogLevel          = "BSP_LOG_LEVEL"
	EnvVNCURL            = "BSP_VNC_URL"
)

// Defaults.
const (
	DefaultSessionFile       = "data/session.json"
	DefaultSchemaDir         = "config/schemas"
	DefaultListenAddr        = ":3000"
	DefaultNavigationTimeout = 30 * time.Second
	DefaultLogLevel          = "info"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// BaseURL is the origin of the administered site, without trailing slash.
	// Empty means content operations fail with a configuration error.
	BaseURL string

	// LoginURL is shown to the operator; it is never navigated automatically.
	LoginURL string

	// Display is the X display the headful browser renders to.
	Display string

	// Sanctioned marks the process as running inside the provisioned
	// display environment. Engine launch is refused without it.
	Sanctioned bool

	Keepalive KeepaliveSettings

	SessionFile       string
	SchemaDir         string
	ListenAddr        string
	NavigationTimeout time.Duration

	LogDir   string
	LogLevel string

	// VNCURL is advisory text returned with interactive login instructions.
	VNCURL string
}

// Lookup returns the value of an environment variable and whether it was set.
type Lookup func(key string) (string, bool)

// FromEnv resolves configuration from the process environment.
func FromEnv() (*Config, []string) {
	return Resolve(os.LookupEnv)
}

// Resolve builds a Config from lookup. The returned warnings describe every
// value that was defaulted or clamped because it was invalid.
func Resolve(lookup Lookup) (*Config, []string) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := &Config{
		BaseURL:     strings.TrimRight(get(EnvBaseURL), "/"),
		LoginURL:    get(EnvLoginURL),
		Display:     get(EnvDisplay),
		Sanctioned:  parseBool(get(EnvSanctioned), false),
		SessionFile: orDefault(get(EnvSessionFile), DefaultSessionFile),
		SchemaDir:   orDefault(get(EnvSchemaDir), DefaultSchemaDir),
		ListenAddr:  orDefault(get(EnvListenAddr), DefaultListenAddr),
		LogDir:      get(EnvLogDir),
		LogLevel:    orDefault(get(EnvLogLevel), DefaultLogLevel),
		VNCURL:      get(EnvVNCURL),
	}

	if cfg.LoginURL == "" && cfg.BaseURL != "" {
		cfg.LoginURL = cfg.BaseURL + "/user/login"
	}

	var warnings []string

	cfg.NavigationTimeout = DefaultNavigationTimeout
	if raw := get(EnvNavTimeout); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s=%q is not a positive integer, using %dms",
				EnvNavTimeout, raw, DefaultNavigationTimeout.Milliseconds()))
		} else {
			cfg.NavigationTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	keepalive, kaWarnings := ResolveKeepalive(
		get(EnvKeepaliveEnabled),
		get(EnvKeepaliveInterval),
		get(EnvKeepaliveFailures),
	)
	cfg.Keepalive = keepalive
	warnings = append(warnings, kaWarnings...)

	return cfg, warnings
}

// Validate checks structural sanity. A missing base URL is not an error here;
// operations that need it report it themselves.
func (c *Config) Validate() error {
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBaseURL, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid %s: scheme must be http or https, got %q", EnvBaseURL, u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("invalid %s: missing host", EnvBaseURL)
		}
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	return c.Keepalive.Validate()
}

// LaunchAllowed reports whether a headful browser may be started.
func (c *Config) LaunchAllowed() bool {
	return c.Sanctioned && c.Display != ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
