package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CORRELATION_LOOKBACK", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.CorrelationLookback != 5 {
		t.Fatalf("expected default lookback, got %d", cfg.CorrelationLookback)
	}
	if cfg.ProposalMaxAge != 72*time.Hour {
		t.Fatalf("expected default proposal max age, got %s", cfg.ProposalMaxAge)
	}
	if cfg.LockTTL != 15*time.Second {
		t.Fatalf("expected default lock ttl, got %s", cfg.LockTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("GATEWAY_BASE_URL", "https://sms.example.com")
	t.Setenv("GATEWAY_API_KEY", "key-123")
	t.Setenv("CORRELATION_LOOKBACK", "8")
	t.Setenv("PROPOSAL_MAX_AGE", "48h")
	t.Setenv("REDIS_TLS", "true")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.GatewayBaseURL != "https://sms.example.com" {
		t.Fatalf("expected gateway override, got %s", cfg.GatewayBaseURL)
	}
	if cfg.CorrelationLookback != 8 {
		t.Fatalf("expected lookback override, got %d", cfg.CorrelationLookback)
	}
	if cfg.ProposalMaxAge != 48*time.Hour {
		t.Fatalf("expected proposal max age override, got %s", cfg.ProposalMaxAge)
	}
	if !cfg.RedisTLS {
		t.Fatal("expected redis tls override")
	}
}
