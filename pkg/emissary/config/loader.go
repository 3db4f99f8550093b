// loader.go handles loading configuration from YAML files with credential
// management via environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable references in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error if not set
//   - $VAR_NAME            - bare variable
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// LoadFromFile reads and parses a YAML configuration file. `.env` files are
// loaded first (never overriding real environment variables), then env
// references inside the YAML are expanded before parsing. A ${VAR:?message}
// reference with the variable unset is a load error.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveRelativePaths(cfg, path)
	return cfg, nil
}

// Parse parses YAML bytes into a Config and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// SaveToFile writes a Config as YAML with restricted permissions. Secrets are
// replaced with environment variable references so the file can be committed
// or shared.
func SaveToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.API.APIKey = sanitizeSecret(cfg.API.APIKey, "OPENAI_API_KEY")
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, "DISCORD_BOT_TOKEN")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
// Returns empty string if none exist.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"emissary.yaml",
		"emissary.yml",
		"configs/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ---------- Internal ----------

// loadEnvFiles loads .env files. godotenv.Load does NOT overwrite existing
// environment variables, so real env always wins.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces env references with their values. Unset ${VAR} and
// $VAR references keep their placeholder; ${VAR:-default} substitutes the
// default; ${VAR:?message} returns an error.
func expandEnvVars(input string) (string, error) {
	var missing []string

	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, modifierValue, bareVar := sub[1], sub[2], sub[3], sub[4]

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		switch modifier {
		case "-":
			return modifierValue
		case "?":
			msg := modifierValue
			if msg == "" {
				msg = "required variable is not set"
			}
			missing = append(missing, fmt.Sprintf("%s: %s", varName, msg))
			return match
		default:
			return match
		}
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variables:\n  %s",
			strings.Join(missing, "\n  "))
	}
	return out, nil
}

// sanitizeSecret replaces a resolved secret with an env reference for
// persistence. Values that are already references or empty pass through.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	return "${" + envVar + "}"
}

// resolveRelativePaths anchors relative file paths to the config file's
// directory so the binary behaves the same regardless of working directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	base := filepath.Dir(configPath)
	if cfg.Storage.Path != "" && !filepath.IsAbs(cfg.Storage.Path) {
		cfg.Storage.Path = filepath.Join(base, cfg.Storage.Path)
	}
	if p := cfg.Channels.WhatsApp.DatabasePath; p != "" && !filepath.IsAbs(p) {
		cfg.Channels.WhatsApp.DatabasePath = filepath.Join(base, p)
	}
}
