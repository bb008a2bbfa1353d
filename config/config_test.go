package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
Port = "9090"
Environment = "production"
DatabaseURL = "postgres://findit:secret@db/findit"
StripeSecretKey = "sk_live_abc"
StripeWebhookSecret = "whsec_abc"
JWTSecret = "signing-secret"
PlatformFeeBps = 1500
ReconIntervalSeconds = 60
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Port)
	}
	if cfg.PlatformFeeBps != 1500 {
		t.Errorf("fee bps = %d, want 1500", cfg.PlatformFeeBps)
	}
	if cfg.ReconInterval() != time.Minute {
		t.Errorf("recon interval = %s, want 1m", cfg.ReconInterval())
	}
	// Unset values keep their defaults.
	if cfg.NotifyQueueCapacity != 1024 {
		t.Errorf("queue capacity = %d, want default 1024", cfg.NotifyQueueCapacity)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
DatabaseURL = "postgres://file-value"
StripeSecretKey = "sk_file"
StripeWebhookSecret = "whsec_file"
JWTSecret = "file-secret"
`)
	t.Setenv("STRIPE_SECRET_KEY", "sk_env")
	t.Setenv("FINDIT_PORT", "3000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StripeSecretKey != "sk_env" {
		t.Errorf("secret key = %q, want env value", cfg.StripeSecretKey)
	}
	if cfg.Port != "3000" {
		t.Errorf("port = %q, want 3000", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://file-value" {
		t.Errorf("database url = %q, want file value", cfg.DatabaseURL)
	}
}

func TestMissingFileWithCompleteEnv(t *testing.T) {
	t.Setenv("FINDIT_DB_URL", "postgres://env-only")
	t.Setenv("STRIPE_SECRET_KEY", "sk_env")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")
	t.Setenv("FINDIT_JWT_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://env-only" {
		t.Errorf("database url = %q", cfg.DatabaseURL)
	}
}

func TestValidateRejectsMissingSecrets(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected validation error with no secrets configured")
	}
}

func TestValidateRejectsBadFeeBps(t *testing.T) {
	path := writeConfig(t, `
DatabaseURL = "postgres://x"
StripeSecretKey = "sk"
StripeWebhookSecret = "whsec"
JWTSecret = "s"
PlatformFeeBps = 10000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for 100% fee")
	}
}

func TestNormalizePort(t *testing.T) {
	for in, want := range map[string]string{
		"":      "8080",
		"8081":  "8081",
		":9090": "9090",
	} {
		if got := normalizePort(in); got != want {
			t.Errorf("normalizePort(%q) = %q, want %q", in, got, want)
		}
	}
}
