package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

type AgentDefaults struct {
	Workspace   string  `json:"workspace"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	// TurnTimeoutSec bounds every executor call (interactive, heartbeat
	// and task turns). A timeout is a turn failure, not a hang.
	TurnTimeoutSec int `json:"turnTimeoutSec"`
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type OpenAIConfig struct {
	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase,omitempty"`
}

type ProvidersConfig struct {
	OpenAI OpenAIConfig `json:"openai"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	// ChatID receives background notifications; when empty, the chat that
	// last messaged the bot is used.
	ChatID string `json:"chatId,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type HeartbeatConfig struct {
	// IntervalSec between ticks; 0 disables the heartbeat and with it the
	// whole temporal subsystem.
	IntervalSec int `json:"intervalSec"`
	// ChecklistKey is the store key of the checklist document run each tick.
	ChecklistKey string `json:"checklistKey,omitempty"`
}

type ScheduleConfig struct {
	Timezone string `json:"timezone"`
	// Key and LedgerKey are store keys (relative paths in the workspace).
	Key       string `json:"key"`
	LedgerKey string `json:"ledgerKey"`
	// MarkFailedRuns records a task as run today even when its reasoning
	// step failed, so a flaky upstream cannot cause a retry storm.
	MarkFailedRuns bool `json:"markFailedRuns"`
	// TaskTimeoutSec bounds a scheduled task's executor call; 0 falls back
	// to the agent turn timeout.
	TaskTimeoutSec int `json:"taskTimeoutSec,omitempty"`
}

type ReportConfig struct {
	Location string `json:"location"`
	ToEmail  string `json:"toEmail,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Report    ReportConfig    `json:"report"`
	Gateway   GatewayConfig   `json:"gateway"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:      ".doot/workspace",
				Model:          "gpt-4o",
				MaxTokens:      4096,
				Temperature:    0.7,
				TurnTimeoutSec: 300,
			},
		},
		Heartbeat: HeartbeatConfig{
			IntervalSec:  1800,
			ChecklistKey: "HEARTBEAT.md",
		},
		Schedule: ScheduleConfig{
			Timezone:       "America/New_York",
			Key:            "schedule.json",
			LedgerKey:      "schedule_last_run.json",
			MarkFailedRuns: true,
		},
		Report: ReportConfig{
			Location: "Providence, RI",
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
	}
}

// LoadConfig loads the configuration file, falling back to defaults when it
// does not exist, then applies environment overrides for secrets and the
// DOOT_* deployment knobs.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(".doot", "config.json")
	}

	config := DefaultConfig()

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	config.applyEnv()
	return config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAI.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Channels.Telegram.Token = v
		c.Channels.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Channels.Telegram.ChatID = v
	}
	if v := os.Getenv("DOOT_HEARTBEAT_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Heartbeat.IntervalSec = n
		}
	}
	if v := os.Getenv("DOOT_SCHEDULE_TZ"); v != "" {
		c.Schedule.Timezone = v
	}
	if v := os.Getenv("DOOT_REPORT_LOCATION"); v != "" {
		c.Report.Location = v
	}
	if v := os.Getenv("DOOT_REPORT_TO_EMAIL"); v != "" {
		c.Report.ToEmail = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = n
		}
	}
}
