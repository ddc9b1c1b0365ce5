package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSigningSecret(t *testing.T) {
	configViper := NewViper()
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error without signing secret")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Fatalf("unexpected driver %q", cfg.DatabaseDriver)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %s", cfg.AccessTTL)
	}
	if cfg.DefaultProfileRole != "member" {
		t.Fatalf("unexpected default role %q", cfg.DefaultProfileRole)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.LookupLimit != 30 {
		t.Fatalf("unexpected credential lookup limit %d", cfg.LookupLimit)
	}
}

func TestLoadRejectsUnknownDriverAndRole(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("database.driver", "mysql")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}

	configViper = NewViper()
	configViper.Set("auth.signing_secret", "secret")
	configViper.Set("profiles.default_role", "owner")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestLoadClientTrimsBaseURL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("client.base_url", " https://members.example.org/ ")

	cfg, err := LoadClient(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BaseURL != "https://members.example.org" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.ProviderTimeout != 10*time.Second {
		t.Fatalf("unexpected provider timeout %s", cfg.ProviderTimeout)
	}
	if cfg.RefreshRoleOnUserUpdate {
		t.Fatalf("expected role refresh on user update to default to false")
	}
}
