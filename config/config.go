// Package config loads runtime configuration for the FindIt API service.
// Settings come from a TOML file with environment overrides for anything
// secret, so deploys can mount credentials without editing the file. The
// resulting Config is injected into constructors; nothing else in the tree
// reads the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents runtime configuration for the FindIt API service.
type Config struct {
	Port        string `toml:"Port"`
	Environment string `toml:"Environment"`
	LogLevel    string `toml:"LogLevel"`

	DatabaseURL string `toml:"DatabaseURL"`

	StripeSecretKey     string `toml:"StripeSecretKey"`
	StripeWebhookSecret string `toml:"StripeWebhookSecret"`
	StripeBaseURL       string `toml:"StripeBaseURL"`

	JWTSecret string `toml:"JWTSecret"`

	FrontendURL string `toml:"FrontendURL"`

	PlatformFeeBps int `toml:"PlatformFeeBps"`

	ReconIntervalSeconds int `toml:"ReconIntervalSeconds"`
	ReconMinAgeSeconds   int `toml:"ReconMinAgeSeconds"`

	NotifyQueueCapacity   int `toml:"NotifyQueueCapacity"`
	NotifyQueueTTLSeconds int `toml:"NotifyQueueTTLSeconds"`
}

// Env var names accepted as overrides. Secrets should arrive this way.
const (
	envPort          = "FINDIT_PORT"
	envDatabaseURL   = "FINDIT_DB_URL"
	envStripeSecret  = "STRIPE_SECRET_KEY"
	envWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	envJWTSecret     = "FINDIT_JWT_SECRET"
	envFrontendURL   = "FINDIT_FRONTEND_URL"
)

// Load reads the configuration file at path, applies environment overrides,
// and validates the result. A missing file is not an error when every
// required value arrives from the environment.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Port:                  "8080",
		Environment:           "development",
		LogLevel:              "info",
		PlatformFeeBps:        1000,
		ReconIntervalSeconds:  300,
		ReconMinAgeSeconds:    900,
		NotifyQueueCapacity:   1024,
		NotifyQueueTTLSeconds: 900,
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envPort); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv(envDatabaseURL); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(envStripeSecret); v != "" {
		cfg.StripeSecretKey = v
	}
	if v := os.Getenv(envWebhookSecret); v != "" {
		cfg.StripeWebhookSecret = v
	}
	if v := os.Getenv(envJWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv(envFrontendURL); v != "" {
		cfg.FrontendURL = v
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DatabaseURL (or %s) is required", envDatabaseURL)
	}
	if strings.TrimSpace(c.StripeSecretKey) == "" {
		return fmt.Errorf("StripeSecretKey (or %s) is required", envStripeSecret)
	}
	if strings.TrimSpace(c.StripeWebhookSecret) == "" {
		return fmt.Errorf("StripeWebhookSecret (or %s) is required", envWebhookSecret)
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWTSecret (or %s) is required", envJWTSecret)
	}
	if c.PlatformFeeBps <= 0 || c.PlatformFeeBps >= 10000 {
		return fmt.Errorf("PlatformFeeBps must be between 1 and 9999, got %d", c.PlatformFeeBps)
	}
	c.Port = normalizePort(c.Port)
	return nil
}

// ReconInterval returns how often the reconciler polls for stuck payments.
func (c *Config) ReconInterval() time.Duration {
	return time.Duration(c.ReconIntervalSeconds) * time.Second
}

// ReconMinAge returns how old a pending payment must be before the
// reconciler queries the processor about it.
func (c *Config) ReconMinAge() time.Duration {
	return time.Duration(c.ReconMinAgeSeconds) * time.Second
}

// NotifyQueueTTL returns how long queued notifications stay deliverable.
func (c *Config) NotifyQueueTTL() time.Duration {
	return time.Duration(c.NotifyQueueTTLSeconds) * time.Second
}

func normalizePort(port string) string {
	if port == "" {
		return "8080"
	}
	if _, err := strconv.Atoi(port); err == nil {
		return port
	}
	// Allow values like ":8080".
	if port[0] == ':' {
		return port[1:]
	}
	return port
}
