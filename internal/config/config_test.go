package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TASKBOARD_CONFIG", "TELEGRAM_TOKEN", "DATABASE_URL", "TOKEN_KEY", "API_ENDPOINT", "AUTH_ENDPOINT",
		"AUTH_CLIENT_ID", "DIGEST_TIME", "LOG_LEVEL", "LOG_FILE", "SYNC_INTERVAL_MINUTES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "taskboard.db", cfg.DatabaseURL)
	assert.Equal(t, 15*time.Minute, cfg.SyncInterval)
	assert.Equal(t, "08:00", cfg.DigestTime)
	assert.Equal(t, 8, cfg.ShareWorkers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Error(t, cfg.ValidateRemote())
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "taskboard.yaml")
	content := "api_endpoint: https://api.example.com/Prod/\n" +
		"auth_endpoint: https://auth.example.com\n" +
		"auth_client_id: client-1\n" +
		"share_workers: 3\n" +
		"sync_interval: 5m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("TASKBOARD_CONFIG", path)
	t.Setenv("AUTH_CLIENT_ID", "client-env")
	t.Setenv("SYNC_INTERVAL_MINUTES", "30")
	t.Setenv("TOKEN_KEY", "hunter2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/Prod", cfg.APIEndpoint)
	assert.Equal(t, "client-env", cfg.AuthClientID)
	assert.Equal(t, 3, cfg.ShareWorkers)
	assert.Equal(t, 30*time.Minute, cfg.SyncInterval)
	assert.Equal(t, "hunter2", cfg.TokenKey)
	assert.NoError(t, cfg.ValidateRemote())
	assert.EqualError(t, cfg.ValidateBot(), "TELEGRAM_TOKEN is required")
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TASKBOARD_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
