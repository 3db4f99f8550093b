// Package config defines the emissary configuration structures and the YAML
// loader that populates them. All tunables used by the orchestrator, reminder
// sweeper and agent loop live here and are injected into constructors;
// nothing reads the environment at call time.
package config

import "strings"

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name shown in responses.
	Name string `yaml:"name"`

	// AssistantUserID is the user id the assistant sends messages as.
	AssistantUserID string `yaml:"assistant_user_id"`

	// OwnerUserID is the user the assistant acts on behalf of.
	OwnerUserID string `yaml:"owner_user_id"`

	// Model is the LLM model to use (e.g. "gpt-4.1-mini").
	Model string `yaml:"model"`

	// API configures the LLM provider endpoint.
	API APIConfig `yaml:"api"`

	// Timezone is the user's timezone (e.g. "America/Sao_Paulo").
	Timezone string `yaml:"timezone"`

	// Agent configures the tool-use loop.
	Agent AgentConfig `yaml:"agent"`

	// Outreach configures recipient limits and safety gates.
	Outreach OutreachConfig `yaml:"outreach"`

	// Reminder configures the stale-recipient sweep.
	Reminder ReminderConfig `yaml:"reminder"`

	// Storage configures task persistence.
	Storage StorageConfig `yaml:"storage"`

	// Channels configures communication channels.
	Channels ChannelsConfig `yaml:"channels"`
}

// APIConfig configures the LLM provider endpoint.
type APIConfig struct {
	// BaseURL is the API base URL (default: https://api.openai.com/v1).
	BaseURL string `yaml:"base_url"`

	// APIKey is the API key. Usually resolved from the OS keyring or an
	// environment reference like ${OPENAI_API_KEY}.
	APIKey string `yaml:"api_key"`
}

// AgentConfig holds tool-use loop parameters.
type AgentConfig struct {
	// MaxIterations caps LLM round-trips per inbound message (default: 6).
	MaxIterations int `yaml:"max_iterations"`

	// HistoryLimit is how many conversation entries are replayed to the LLM
	// (default: 30).
	HistoryLimit int `yaml:"history_limit"`

	// LLMCallTimeoutSeconds bounds a single completion call (default: 120).
	LLMCallTimeoutSeconds int `yaml:"llm_call_timeout_seconds"`
}

// OutreachConfig holds fan-out limits and confirmation gates.
type OutreachConfig struct {
	// MaxRecipients is the hard cap per outreach request (default: 10).
	MaxRecipients int `yaml:"max_recipients"`

	// ConfirmThreshold is the recipient count above which an explicit
	// confirmation flag is required (default: 3).
	ConfirmThreshold int `yaml:"confirm_threshold"`

	// SensitiveKeywords force confirmation when matched in the outgoing
	// message, regardless of recipient count.
	SensitiveKeywords []string `yaml:"sensitive_keywords"`
}

// ReminderConfig holds reminder sweep parameters.
type ReminderConfig struct {
	// ThresholdHours is how stale a target must be before a nudge (default: 6).
	ThresholdHours int `yaml:"threshold_hours"`

	// Limit caps targets per sweep (default: 25).
	Limit int `yaml:"limit"`

	// Cron is the sweep schedule inside `serve` (default: @hourly).
	Cron string `yaml:"cron"`
}

// StorageConfig configures the SQLite task store.
type StorageConfig struct {
	// Path is the SQLite database file (default: ./data/emissary.db).
	Path string `yaml:"path"`
}

// ChannelsConfig configures the messaging channels.
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// WhatsAppConfig configures the WhatsApp gateway.
type WhatsAppConfig struct {
	// Enabled turns the channel on.
	Enabled bool `yaml:"enabled"`

	// DatabasePath is the SQLite file for the whatsmeow session store.
	DatabasePath string `yaml:"database_path"`

	// HistoryLimit caps the in-memory conversation history kept per chat.
	HistoryLimit int `yaml:"history_limit"`
}

// DiscordConfig configures the Discord gateway.
type DiscordConfig struct {
	// Enabled turns the channel on.
	Enabled bool `yaml:"enabled"`

	// Token is the bot token. Usually ${DISCORD_BOT_TOKEN}.
	Token string `yaml:"token"`
}

// DefaultSensitiveKeywords are matched case-insensitively against outgoing
// messages; a hit forces the confirmation gate.
var DefaultSensitiveKeywords = []string{
	"password",
	"passcode",
	"ssn",
	"social security",
	"wire instructions",
	"wire transfer",
	"routing number",
	"account number",
	"credit card",
	"cvv",
	"api key",
	"private key",
	"seed phrase",
}

// ApplyDefaults fills zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "Emissary"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4.1-mini"
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 6
	}
	if c.Agent.HistoryLimit <= 0 {
		c.Agent.HistoryLimit = 30
	}
	if c.Agent.LLMCallTimeoutSeconds <= 0 {
		c.Agent.LLMCallTimeoutSeconds = 120
	}
	if c.Outreach.MaxRecipients <= 0 {
		c.Outreach.MaxRecipients = 10
	}
	if c.Outreach.ConfirmThreshold <= 0 {
		c.Outreach.ConfirmThreshold = 3
	}
	if len(c.Outreach.SensitiveKeywords) == 0 {
		c.Outreach.SensitiveKeywords = append([]string(nil), DefaultSensitiveKeywords...)
	}
	if c.Reminder.ThresholdHours <= 0 {
		c.Reminder.ThresholdHours = 6
	}
	if c.Reminder.Limit <= 0 {
		c.Reminder.Limit = 25
	}
	if c.Reminder.Cron == "" {
		c.Reminder.Cron = "@hourly"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/emissary.db"
	}
	if c.Channels.WhatsApp.HistoryLimit <= 0 {
		c.Channels.WhatsApp.HistoryLimit = 200
	}
}

// IsEnvReference reports whether a config value still looks like an
// unexpanded environment reference (e.g. "${OPENAI_API_KEY}").
func IsEnvReference(v string) bool {
	return strings.HasPrefix(v, "${") || strings.HasPrefix(v, "$")
}
