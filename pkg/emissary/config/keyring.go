// keyring.go resolves secrets through the OS keyring with env/config
// fallbacks. Resolution order: OS keyring → environment → config value.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "emissary"

	// KeyringAPIKey is the keyring entry name for the LLM API key.
	KeyringAPIKey = "api_key"

	// KeyringDiscordToken is the keyring entry name for the Discord bot token.
	KeyringDiscordToken = "discord_token"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__emissary_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveSecrets fills in the API key and channel tokens using the
// keyring → env → config chain and updates the config in place.
func ResolveSecrets(cfg *Config, logger *slog.Logger) {
	if val := GetKeyring(KeyringAPIKey); val != "" {
		cfg.API.APIKey = val
		logger.Debug("API key loaded from OS keyring")
	} else if cfg.API.APIKey == "" || IsEnvReference(cfg.API.APIKey) {
		if val := os.Getenv("OPENAI_API_KEY"); val != "" {
			cfg.API.APIKey = val
			logger.Debug("API key loaded from environment")
		}
	}

	if cfg.Channels.Discord.Enabled {
		if val := GetKeyring(KeyringDiscordToken); val != "" {
			cfg.Channels.Discord.Token = val
		} else if cfg.Channels.Discord.Token == "" || IsEnvReference(cfg.Channels.Discord.Token) {
			cfg.Channels.Discord.Token = os.Getenv("DISCORD_BOT_TOKEN")
		}
	}
}

// ReadPassword prompts for a secret without echoing it to the terminal.
func ReadPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}
