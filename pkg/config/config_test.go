package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Agents.Defaults.Model)
	assert.Equal(t, 1800, cfg.Heartbeat.IntervalSec)
	assert.Equal(t, "America/New_York", cfg.Schedule.Timezone)
	assert.True(t, cfg.Schedule.MarkFailedRuns)
	assert.Equal(t, "HEARTBEAT.md", cfg.Heartbeat.ChecklistKey)
	assert.Zero(t, cfg.Schedule.TaskTimeoutSec)
	assert.Equal(t, 8000, cfg.Gateway.Port)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"agents": {"defaults": {"model": "gpt-4o-mini"}},
		"heartbeat": {"intervalSec": 60, "checklistKey": "agenda/CHECKS.md"},
		"schedule": {"timezone": "Europe/Lisbon", "markFailedRuns": false, "taskTimeoutSec": 120},
		"channels": {"telegram": {"enabled": true, "token": "tok", "allowFrom": ["42"]}}
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Agents.Defaults.Model)
	assert.Equal(t, 60, cfg.Heartbeat.IntervalSec)
	assert.Equal(t, "Europe/Lisbon", cfg.Schedule.Timezone)
	assert.False(t, cfg.Schedule.MarkFailedRuns)
	assert.Equal(t, "agenda/CHECKS.md", cfg.Heartbeat.ChecklistKey)
	assert.Equal(t, 120, cfg.Schedule.TaskTimeoutSec)
	assert.Equal(t, []string{"42"}, cfg.Channels.Telegram.AllowFrom)
	// untouched sections keep their defaults
	assert.Equal(t, "schedule.json", cfg.Schedule.Key)
	assert.Equal(t, "Providence, RI", cfg.Report.Location)
}

func TestLoadConfigMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("DOOT_HEARTBEAT_INTERVAL_SEC", "900")
	t.Setenv("DOOT_SCHEDULE_TZ", "UTC")
	t.Setenv("DOOT_REPORT_LOCATION", "Lisbon")
	t.Setenv("PORT", "9090")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "tg-token", cfg.Channels.Telegram.Token)
	assert.True(t, cfg.Channels.Telegram.Enabled, "a token implies the channel is on")
	assert.Equal(t, 900, cfg.Heartbeat.IntervalSec)
	assert.Equal(t, "UTC", cfg.Schedule.Timezone)
	assert.Equal(t, "Lisbon", cfg.Report.Location)
	assert.Equal(t, 9090, cfg.Gateway.Port)
}

func TestEnvOverridesIgnoreBadNumbers(t *testing.T) {
	t.Setenv("DOOT_HEARTBEAT_INTERVAL_SEC", "soon")
	t.Setenv("PORT", "eighty")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 1800, cfg.Heartbeat.IntervalSec)
	assert.Equal(t, 8000, cfg.Gateway.Port)
}
