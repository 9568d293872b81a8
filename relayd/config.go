package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the relay daemon configuration
type Config struct {
	// Environment is the deployment name baked into NATS subjects
	Environment string `yaml:"environment"`

	// NATS configuration
	NATS NATSConfig `yaml:"nats"`

	// Backend configuration
	Backend BackendConfig `yaml:"backend"`

	// Custody configuration
	Custody CustodyConfig `yaml:"custody"`

	// Store configuration
	Store StoreConfig `yaml:"store"`

	// Bridge configuration
	Bridge BridgeConfig `yaml:"bridge"`

	// Health check configuration
	Health HealthConfig `yaml:"health"`
}

// NATSConfig holds NATS connection settings
type NATSConfig struct {
	URL             string `yaml:"url"`
	CredentialsFile string `yaml:"credentials_file"`
	ReconnectWait   int    `yaml:"reconnect_wait_ms"`
	MaxReconnects   int    `yaml:"max_reconnects"`
}

// BackendConfig holds trading backend settings
type BackendConfig struct {
	APIURL    string `yaml:"api_url"`
	MagicLink string `yaml:"magic_link"`
}

// CustodyConfig holds custody API settings
type CustodyConfig struct {
	URL string `yaml:"url"`
}

// StoreConfig holds secret store settings
type StoreConfig struct {
	Path    string `yaml:"path"`
	KeyFile string `yaml:"key_file"`
}

// BridgeConfig holds bridge correlation settings
type BridgeConfig struct {
	RequestTimeoutMs int `yaml:"request_timeout_ms"`
}

// HealthConfig holds health check settings
type HealthConfig struct {
	Port int `yaml:"port"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Use defaults if no config file
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Environment: "dev",
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			ReconnectWait: 2000,
			MaxReconnects: -1, // Unlimited
		},
		Backend: BackendConfig{
			APIURL:    "https://api.halcyontrade.dev",
			MagicLink: "https://app.halcyontrade.dev/magic",
		},
		Custody: CustodyConfig{
			URL: "https://api.turnkey.com",
		},
		Store: StoreConfig{
			Path:    "/var/lib/walletrelay/secrets.db",
			KeyFile: "/var/lib/walletrelay/store.key",
		},
		Bridge: BridgeConfig{
			RequestTimeoutMs: 30000,
		},
		Health: HealthConfig{
			Port: 8080,
		},
	}
}
