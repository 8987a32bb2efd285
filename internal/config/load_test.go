package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"confirmation": {"timeout": "90s"},
		"enforcement": {"max_attempts": 3, "base_backoff": 1},
		"detection": {"max_mentions": 8}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Confirmation.Timeout.Std())
	assert.Equal(t, 30*time.Minute, cfg.Confirmation.Ceiling.Std())
	assert.Equal(t, 3, cfg.Enforcement.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Enforcement.BaseBackoff.Std())
	assert.Equal(t, 8, cfg.Detection.MaxMentions)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.NotEmpty(t, cfg.Detection.URLShorteners)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"bot": {"token": "from-file"}}`)
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("DATABASE_DRIVER", "pgx")
	t.Setenv("DATABASE_URL", "postgres://localhost/openguard")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Bot.Token)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/openguard", cfg.Database.DSN)
}

func TestLoadRejectsTimeoutAboveCeiling(t *testing.T) {
	path := writeConfig(t, `{"confirmation": {"timeout": "2h", "ceiling": "1h"}}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Engine.MailboxSize, cfg.Engine.MailboxSize)

	_, err = LoadOrDefault(writeConfig(t, `{not json`))
	assert.Error(t, err)
}
