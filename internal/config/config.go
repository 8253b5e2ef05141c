package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the dialcast server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	HTTPAddr  string // HTTP listen address, e.g. ":8080"
	PublicURL string // externally reachable base URL for provider webhooks

	ProviderSpaceURL string // provider space, e.g. "https://example.signalwire.com"
	ProviderProject  string // provider project ID (basic auth user)
	ProviderToken    string // provider API token (basic auth password)

	LockTTLSeconds  int     // caller-identity lock lifetime
	ProximityRadius float64 // local-presence radius in miles
	DialTimeout     int     // seconds each dial attempt rings before no-answer

	StoreDriver string // "memory" or "postgres"
	PostgresDSN string

	HistoryDBPath string // SQLite call history file

	JWTSecret  string // hex-encoded 32-byte secret for voice token signing
	APIKeyHash string // argon2id hash of the management API key

	NotifyURL string // agent-desktop webhook for group/transfer events

	ProbeTarget    string // SIP edge host:port; empty disables the probe
	ProbeTransport string
	ProbeUsername  string
	ProbePassword  string

	LogLevel  string
	LogFormat string // "text" or "json"
}

// defaults
const (
	defaultHTTPAddr        = ":8080"
	defaultLockTTLSeconds  = 300
	defaultProximityRadius = 100.0
	defaultDialTimeout     = 30
	defaultStoreDriver     = "memory"
	defaultHistoryDBPath   = "./data/history.db"
	defaultProbeTransport  = "udp"
	defaultLogLevel        = "info"
	defaultLogFormat       = "text"
)

// envPrefix is the prefix for all dialcast environment variables.
const envPrefix = "DIALCAST_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialcast", flag.ContinueOnError)

	fs.StringVar(&cfg.HTTPAddr, "http-addr", defaultHTTPAddr, "HTTP server listen address")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "externally reachable base URL for provider webhooks")
	fs.StringVar(&cfg.ProviderSpaceURL, "provider-space-url", "", "telephony provider space URL")
	fs.StringVar(&cfg.ProviderProject, "provider-project", "", "telephony provider project ID")
	fs.StringVar(&cfg.ProviderToken, "provider-token", "", "telephony provider API token")
	fs.IntVar(&cfg.LockTTLSeconds, "lock-ttl", defaultLockTTLSeconds, "caller-identity lock lifetime in seconds")
	fs.Float64Var(&cfg.ProximityRadius, "proximity-radius", defaultProximityRadius, "local-presence matching radius in miles")
	fs.IntVar(&cfg.DialTimeout, "dial-timeout", defaultDialTimeout, "seconds each dial attempt rings before no-answer")
	fs.StringVar(&cfg.StoreDriver, "store-driver", defaultStoreDriver, "state store driver (memory, postgres)")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "PostgreSQL connection string for the postgres store driver")
	fs.StringVar(&cfg.HistoryDBPath, "history-db", defaultHistoryDBPath, "path to the SQLite call history database")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for voice token signing (auto-generated if empty)")
	fs.StringVar(&cfg.APIKeyHash, "api-key-hash", "", "argon2id hash of the management API key (auth disabled if empty)")
	fs.StringVar(&cfg.NotifyURL, "notify-url", "", "agent-desktop webhook URL for call lifecycle events")
	fs.StringVar(&cfg.ProbeTarget, "probe-target", "", "SIP edge host:port for health probing (disabled if empty)")
	fs.StringVar(&cfg.ProbeTransport, "probe-transport", defaultProbeTransport, "SIP probe transport (udp, tcp, tls)")
	fs.StringVar(&cfg.ProbeUsername, "probe-username", "", "digest username for the SIP probe")
	fs.StringVar(&cfg.ProbePassword, "probe-password", "", "digest password for the SIP probe")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the
	// command line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"http-addr":          envPrefix + "HTTP_ADDR",
		"public-url":         envPrefix + "PUBLIC_URL",
		"provider-space-url": envPrefix + "PROVIDER_SPACE_URL",
		"provider-project":   envPrefix + "PROVIDER_PROJECT",
		"provider-token":     envPrefix + "PROVIDER_TOKEN",
		"lock-ttl":           envPrefix + "LOCK_TTL",
		"proximity-radius":   envPrefix + "PROXIMITY_RADIUS",
		"dial-timeout":       envPrefix + "DIAL_TIMEOUT",
		"store-driver":       envPrefix + "STORE_DRIVER",
		"postgres-dsn":       envPrefix + "POSTGRES_DSN",
		"history-db":         envPrefix + "HISTORY_DB",
		"jwt-secret":         envPrefix + "JWT_SECRET",
		"api-key-hash":       envPrefix + "API_KEY_HASH",
		"notify-url":         envPrefix + "NOTIFY_URL",
		"probe-target":       envPrefix + "PROBE_TARGET",
		"probe-transport":    envPrefix + "PROBE_TRANSPORT",
		"probe-username":     envPrefix + "PROBE_USERNAME",
		"probe-password":     envPrefix + "PROBE_PASSWORD",
		"log-level":          envPrefix + "LOG_LEVEL",
		"log-format":         envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "http-addr":
			cfg.HTTPAddr = val
		case "public-url":
			cfg.PublicURL = val
		case "provider-space-url":
			cfg.ProviderSpaceURL = val
		case "provider-project":
			cfg.ProviderProject = val
		case "provider-token":
			cfg.ProviderToken = val
		case "lock-ttl":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.LockTTLSeconds = v
			}
		case "proximity-radius":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.ProximityRadius = v
			}
		case "dial-timeout":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.DialTimeout = v
			}
		case "store-driver":
			cfg.StoreDriver = val
		case "postgres-dsn":
			cfg.PostgresDSN = val
		case "history-db":
			cfg.HistoryDBPath = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "api-key-hash":
			cfg.APIKeyHash = val
		case "notify-url":
			cfg.NotifyURL = val
		case "probe-target":
			cfg.ProbeTarget = val
		case "probe-transport":
			cfg.ProbeTransport = val
		case "probe-username":
			cfg.ProbeUsername = val
		case "probe-password":
			cfg.ProbePassword = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http-addr must not be empty")
	}
	if c.LockTTLSeconds < 1 {
		return fmt.Errorf("lock-ttl must be at least 1 second, got %d", c.LockTTLSeconds)
	}
	if c.ProximityRadius <= 0 {
		return fmt.Errorf("proximity-radius must be positive, got %v", c.ProximityRadius)
	}
	if c.DialTimeout < 5 || c.DialTimeout > 600 {
		return fmt.Errorf("dial-timeout must be between 5 and 600 seconds, got %d", c.DialTimeout)
	}

	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres-dsn is required with the postgres store driver")
		}
	default:
		return fmt.Errorf("store-driver must be one of memory, postgres; got %q", c.StoreDriver)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	switch strings.ToLower(c.ProbeTransport) {
	case "udp", "tcp", "tls":
		c.ProbeTransport = strings.ToLower(c.ProbeTransport)
	default:
		return fmt.Errorf("probe-transport must be one of udp, tcp, tls; got %q", c.ProbeTransport)
	}

	return nil
}

// LockTTL returns the caller-identity lock lifetime as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// ProviderConfigured reports whether the telephony provider credentials
// are all present.
func (c *Config) ProviderConfigured() bool {
	return c.ProviderSpaceURL != "" && c.ProviderProject != "" && c.ProviderToken != ""
}

// JWTSecretBytes returns the decoded 32-byte voice token signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
