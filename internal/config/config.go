package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the bot and the CLI.
type Config struct {
	TelegramToken string `yaml:"telegram_token"`
	DatabaseURL   string `yaml:"database_url"`

	// TokenKey seals remembered refresh tokens at rest. Empty stores them as plain text.
	TokenKey string `yaml:"token_key"`

	APIEndpoint  string `yaml:"api_endpoint"`
	AuthEndpoint string `yaml:"auth_endpoint"`
	AuthClientID string `yaml:"auth_client_id"`

	SyncInterval time.Duration `yaml:"sync_interval"`
	DigestTime   string        `yaml:"digest_time"`
	ShareWorkers int           `yaml:"share_workers"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Load reads an optional YAML file named by TASKBOARD_CONFIG, then lets
// environment variables override it, then fills defaults.
func Load() (Config, error) {
	var cfg Config

	if path := strings.TrimSpace(os.Getenv("TASKBOARD_CONFIG")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	overrideString(&cfg.TelegramToken, "TELEGRAM_TOKEN")
	overrideString(&cfg.DatabaseURL, "DATABASE_URL")
	overrideString(&cfg.TokenKey, "TOKEN_KEY")
	overrideString(&cfg.APIEndpoint, "API_ENDPOINT")
	overrideString(&cfg.AuthEndpoint, "AUTH_ENDPOINT")
	overrideString(&cfg.AuthClientID, "AUTH_CLIENT_ID")
	overrideString(&cfg.DigestTime, "DIGEST_TIME")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")
	overrideString(&cfg.LogFile, "LOG_FILE")
	if interval := parseMinutes(strings.TrimSpace(os.Getenv("SYNC_INTERVAL_MINUTES"))); interval > 0 {
		cfg.SyncInterval = interval
	}

	cfg.applyDefaults()
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = "taskboard.db"
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = 15 * time.Minute
	}
	if c.DigestTime == "" {
		c.DigestTime = "08:00"
	}
	if c.ShareWorkers <= 0 {
		c.ShareWorkers = 8
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.APIEndpoint = strings.TrimRight(c.APIEndpoint, "/")
	c.AuthEndpoint = strings.TrimRight(c.AuthEndpoint, "/")
}

// ValidateRemote checks the settings every command needs to reach the collaborators.
func (c Config) ValidateRemote() error {
	if c.APIEndpoint == "" {
		return fmt.Errorf("API_ENDPOINT is required")
	}
	if c.AuthEndpoint == "" {
		return fmt.Errorf("AUTH_ENDPOINT is required")
	}
	if c.AuthClientID == "" {
		return fmt.Errorf("AUTH_CLIENT_ID is required")
	}
	return nil
}

// ValidateBot additionally requires the Telegram token.
func (c Config) ValidateBot() error {
	if err := c.ValidateRemote(); err != nil {
		return err
	}
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return nil
}

func overrideString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func parseMinutes(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	minutes, err := time.ParseDuration(raw + "m")
	if err != nil || minutes <= 0 {
		return 0
	}
	return minutes
}
