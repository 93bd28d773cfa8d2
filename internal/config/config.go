// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreEAI = "eai"
	StoreSQL = "sql"
)

// Config holds configuration shared by the CLI and the listing server.
type Config struct {
	// Namespace of the configuration files and credentials
	App string

	// Record store ("eai" or "sql")
	Store string

	// EAI REST store
	EAIURL         string
	EAIToken       string
	EAIUsername    string
	EAIPassword    string
	EAIInsecureTLS bool
	EAITimeout     time.Duration

	// Gateway retries (GET only)
	RetryMaxAttempts int

	// SQL store
	DatabaseDriver string
	DatabaseURL    string

	// Listing server
	ListenAddr  string
	MetricsAddr string
	TLSCertFile string
	TLSKeyFile  string
	JWTSecret   string

	// Directory listers
	SMBMountRoot string

	// Listing envelope JSONPath overrides (empty = built-in defaults)
	ListingPayloadPaths []string
	ListingErrorPaths   []string
	ListingStatusPaths  []string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		App:                 envOr("EPADMIN_APP", "export_everything"),
		Store:               envOr("EPADMIN_STORE", StoreEAI),
		EAIURL:              strings.TrimRight(envOr("EAI_URL", "https://localhost:8089"), "/"),
		EAIToken:            envOr("EAI_TOKEN", ""),
		EAIUsername:         envOr("EAI_USERNAME", ""),
		EAIPassword:         envOr("EAI_PASSWORD", ""),
		EAIInsecureTLS:      envBool("EAI_INSECURE_TLS", false),
		EAITimeout:          envDuration("EAI_TIMEOUT", 30*time.Second),
		RetryMaxAttempts:    envInt("RETRY_MAX_ATTEMPTS", 3),
		DatabaseDriver:      envOr("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:         envOr("DATABASE_URL", "file:epadmin.db"),
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		TLSCertFile:         envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:          envOr("TLS_KEY_FILE", ""),
		JWTSecret:           envOr("JWT_SECRET", ""),
		SMBMountRoot:        envOr("SMB_MOUNT_ROOT", "/mnt/smb"),
		ListingPayloadPaths: envList("LISTING_PAYLOAD_PATHS"),
		ListingErrorPaths:   envList("LISTING_ERROR_PATHS"),
		ListingStatusPaths:  envList("LISTING_STATUS_PATHS"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
	}

	if err := cfg.validateStore(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer loads configuration for the listing server, which also requires a JWT secret.
func LoadServer() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func (c *Config) validateStore() error {
	switch c.Store {
	case StoreEAI:
		if c.EAIURL == "" {
			return fmt.Errorf("EAI_URL is required when EPADMIN_STORE=eai")
		}
		if c.EAIToken == "" && c.EAIUsername == "" {
			return fmt.Errorf("EAI_TOKEN or EAI_USERNAME/EAI_PASSWORD is required when EPADMIN_STORE=eai")
		}
	case StoreSQL:
		if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
			return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver)
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when EPADMIN_STORE=sql")
		}
	default:
		return fmt.Errorf("EPADMIN_STORE must be %q or %q, got %q", StoreEAI, StoreSQL, c.Store)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
