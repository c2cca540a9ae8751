package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9100
mode = "release"

[postgres]
host = "db.internal"
port = "5432"
user = "harbor"
password = "secret"
dbname = "harbor"

[redis]
host = "cache.internal"
port = 6379

[jwt]
secret = "supersecret"
expire_hours = 24

[limits]
max_public_channels = 5
edit_window_seconds = 120
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
	assert.Equal(t, "supersecret", cfg.JWT.Secret)
	assert.Equal(t, 24, cfg.JWT.ExpireHours)
	assert.Equal(t, 5, cfg.Limits.MaxPublicChannels)
	assert.Equal(t, 120, cfg.Limits.EditWindowSeconds)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
[jwt]
secret = "supersecret"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, 72, cfg.JWT.ExpireHours)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Limits.MaxPublicChannels)
	assert.Equal(t, 2000, cfg.Limits.MaxMessageLength)
	assert.Equal(t, 300, cfg.Limits.EditWindowSeconds)
	assert.Equal(t, 30, cfg.Limits.DefaultPageSize)
	assert.Equal(t, 100, cfg.Limits.MaxPageSize)
	assert.Equal(t, 4, cfg.Limits.MentionWorkers)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
