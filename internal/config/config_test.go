package config

import (
	"testing"
	"time"
)

func TestLoadAgentAppliesDefaults(t *testing.T) {
	cfg, err := LoadAgent(NewViper())
	if err != nil {
		t.Fatalf("failed to load agent config: %v", err)
	}
	if cfg.StoragePath != "farmseed-agent.db" {
		t.Fatalf("unexpected default storage path: %q", cfg.StoragePath)
	}
	if cfg.HubURL != "http://localhost:8080" {
		t.Fatalf("unexpected default hub url: %q", cfg.HubURL)
	}
	if cfg.SyncInterval != 2*time.Minute {
		t.Fatalf("unexpected default sync interval: %v", cfg.SyncInterval)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unexpected default log level: %q", cfg.LogLevel)
	}
}

func TestLoadAgentRejectsNonPositiveInterval(t *testing.T) {
	configViper := NewViper()
	configViper.Set("agent.sync_interval", "0s")
	if _, err := LoadAgent(configViper); err == nil {
		t.Fatalf("expected a zero interval to be rejected")
	}
}

func TestLoadHubRequiresSigningSecret(t *testing.T) {
	if _, err := LoadHub(NewViper()); err == nil {
		t.Fatalf("expected missing signing secret to be rejected")
	}
}

func TestLoadHubReadsConfiguredValues(t *testing.T) {
	configViper := NewViper()
	configViper.Set("hub.signing_secret", "test-secret")
	configViper.Set("hub.http_address", "127.0.0.1:9090")

	cfg, err := LoadHub(configViper)
	if err != nil {
		t.Fatalf("failed to load hub config: %v", err)
	}
	if cfg.HTTPAddress != "127.0.0.1:9090" {
		t.Fatalf("unexpected http address: %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "farmseed-hub.db" {
		t.Fatalf("unexpected default database path: %q", cfg.DatabasePath)
	}
	if cfg.SigningSecret != "test-secret" {
		t.Fatalf("unexpected signing secret: %q", cfg.SigningSecret)
	}
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("FARMSEED_AGENT_HUB_URL", "https://hub.example.com")
	cfg, err := LoadAgent(NewViper())
	if err != nil {
		t.Fatalf("failed to load agent config: %v", err)
	}
	if cfg.HubURL != "https://hub.example.com" {
		t.Fatalf("expected environment override, got %q", cfg.HubURL)
	}
}
