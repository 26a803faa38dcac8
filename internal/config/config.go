package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "FARMSEED"

	defaultHubHTTPAddress   = "0.0.0.0:8080"
	defaultHubDatabasePath  = "farmseed-hub.db"
	defaultAgentStoragePath = "farmseed-agent.db"
	defaultHubURL           = "http://localhost:8080"
	defaultSyncInterval     = 2 * time.Minute
	defaultLogLevel         = "info"
)

// AgentConfig captures runtime configuration for the device agent.
type AgentConfig struct {
	StoragePath  string
	HubURL       string
	SyncInterval time.Duration
	LogLevel     string
}

// HubConfig captures runtime configuration for the hub server.
type HubConfig struct {
	HTTPAddress   string
	DatabasePath  string
	SigningSecret string
	LogLevel      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("agent.storage_path", defaultAgentStoragePath)
	configViper.SetDefault("agent.hub_url", defaultHubURL)
	configViper.SetDefault("agent.sync_interval", defaultSyncInterval)
	configViper.SetDefault("hub.http_address", defaultHubHTTPAddress)
	configViper.SetDefault("hub.database_path", defaultHubDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// LoadAgent parses agent configuration from viper.
func LoadAgent(configViper *viper.Viper) (AgentConfig, error) {
	cfg := AgentConfig{
		StoragePath:  configViper.GetString("agent.storage_path"),
		HubURL:       configViper.GetString("agent.hub_url"),
		SyncInterval: configViper.GetDuration("agent.sync_interval"),
		LogLevel:     configViper.GetString("log.level"),
	}
	if err := cfg.validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func (c AgentConfig) validate() error {
	if strings.TrimSpace(c.StoragePath) == "" {
		return fmt.Errorf("agent.storage_path is required")
	}
	if strings.TrimSpace(c.HubURL) == "" {
		return fmt.Errorf("agent.hub_url is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("agent.sync_interval must be positive")
	}
	return nil
}

// LoadHub parses hub configuration from viper.
func LoadHub(configViper *viper.Viper) (HubConfig, error) {
	cfg := HubConfig{
		HTTPAddress:   configViper.GetString("hub.http_address"),
		DatabasePath:  configViper.GetString("hub.database_path"),
		SigningSecret: configViper.GetString("hub.signing_secret"),
		LogLevel:      configViper.GetString("log.level"),
	}
	if err := cfg.validate(); err != nil {
		return HubConfig{}, err
	}
	return cfg, nil
}

func (c HubConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("hub.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("hub.database_path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("hub.http_address is required")
	}
	return nil
}
