package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	// Clear any env vars that might interfere.
	for _, env := range []string{
		"DIALCAST_HTTP_ADDR", "DIALCAST_LOCK_TTL", "DIALCAST_STORE_DRIVER",
		"DIALCAST_PROXIMITY_RADIUS", "DIALCAST_LOG_LEVEL", "DIALCAST_DIAL_TIMEOUT",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddr != defaultHTTPAddr {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, defaultHTTPAddr)
	}
	if cfg.LockTTLSeconds != defaultLockTTLSeconds {
		t.Errorf("LockTTLSeconds = %d, want %d", cfg.LockTTLSeconds, defaultLockTTLSeconds)
	}
	if cfg.LockTTL() != 5*time.Minute {
		t.Errorf("LockTTL() = %v, want 5m", cfg.LockTTL())
	}
	if cfg.ProximityRadius != defaultProximityRadius {
		t.Errorf("ProximityRadius = %v, want %v", cfg.ProximityRadius, defaultProximityRadius)
	}
	if cfg.StoreDriver != "memory" {
		t.Errorf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.ProviderConfigured() {
		t.Error("ProviderConfigured() = true with no credentials")
	}
}

func TestEnvVarOverride(t *testing.T) {
	t.Setenv("DIALCAST_HTTP_ADDR", ":9090")
	t.Setenv("DIALCAST_LOCK_TTL", "120")
	t.Setenv("DIALCAST_PROXIMITY_RADIUS", "50.5")
	t.Setenv("DIALCAST_LOG_LEVEL", "debug")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.LockTTLSeconds != 120 {
		t.Errorf("LockTTLSeconds = %d, want 120", cfg.LockTTLSeconds)
	}
	if cfg.ProximityRadius != 50.5 {
		t.Errorf("ProximityRadius = %v, want 50.5", cfg.ProximityRadius)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	// CLI flags should override env vars.
	t.Setenv("DIALCAST_HTTP_ADDR", ":9090")
	t.Setenv("DIALCAST_LOG_LEVEL", "debug")

	cfg, err := Load([]string{"--http-addr", ":3000", "--log-level", "warn"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000 (CLI should override env)", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero lock ttl", []string{"--lock-ttl", "0"}},
		{"negative radius", []string{"--proximity-radius", "-1"}},
		{"dial timeout too short", []string{"--dial-timeout", "2"}},
		{"unknown store driver", []string{"--store-driver", "redis"}},
		{"postgres without dsn", []string{"--store-driver", "postgres"}},
		{"invalid log level", []string{"--log-level", "verbose"}},
		{"invalid log format", []string{"--log-format", "xml"}},
		{"invalid probe transport", []string{"--probe-transport", "sctp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.args); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}

func TestPostgresDriverRequiresDSN(t *testing.T) {
	cfg, err := Load([]string{"--store-driver", "postgres", "--postgres-dsn", "postgres://localhost/dialcast"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreDriver != "postgres" {
		t.Errorf("StoreDriver = %q, want postgres", cfg.StoreDriver)
	}
}

func TestJWTSecretBytes(t *testing.T) {
	cfg := &Config{}
	key, err := cfg.JWTSecretBytes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("generated key length = %d, want 32", len(key))
	}
	if cfg.JWTSecret == "" {
		t.Error("generated secret not stored back on config")
	}

	cfg = &Config{JWTSecret: "zz"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for non-hex secret")
	}

	cfg = &Config{JWTSecret: "abcd"}
	if _, err := cfg.JWTSecretBytes(); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
