package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/emissary-bot/emissary/pkg/emissary/config"
)

// newSetupCmd creates the `emissary setup` command for interactive
// configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Secrets go to the OS keyring when available; the config file only ever
contains environment references.

Examples:
  emissary setup`,
		RunE: runSetup,
	}
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := &config.Config{}
	cfg.ApplyDefaults()

	var (
		apiKey       string
		discordToken string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Assistant name").
				Value(&cfg.Name),
			huh.NewInput().
				Title("Your user id (owner)").
				Description("WhatsApp: phone with country code, e.g. 5511999998888. Discord: your user id.").
				Validate(requireNonEmpty("owner user id")).
				Value(&cfg.OwnerUserID),
			huh.NewInput().
				Title("Assistant user id").
				Description("The account the assistant sends messages as.").
				Validate(requireNonEmpty("assistant user id")).
				Value(&cfg.AssistantUserID),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM model").
				Options(
					huh.NewOption("GPT-4.1 Mini (default, fast and cheap)", "gpt-4.1-mini"),
					huh.NewOption("GPT-4.1", "gpt-4.1"),
					huh.NewOption("GPT-4o", "gpt-4o"),
					huh.NewOption("GPT-4o Mini", "gpt-4o-mini"),
				).
				Value(&cfg.Model),
			huh.NewInput().
				Title("API base URL").
				Description("Any OpenAI-compatible endpoint.").
				Value(&cfg.API.BaseURL),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Description("Stored in the OS keyring, never in config.yaml. Leave empty to use $OPENAI_API_KEY.").
				Value(&apiKey),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable WhatsApp?").
				Value(&cfg.Channels.WhatsApp.Enabled),
			huh.NewConfirm().
				Title("Enable Discord?").
				Value(&cfg.Channels.Discord.Enabled),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("setup aborted: %w", err)
	}

	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.DatabasePath == "" {
		cfg.Channels.WhatsApp.DatabasePath = "./data/whatsapp.db"
	}
	if cfg.Channels.Discord.Enabled {
		err := huh.NewInput().
			Title("Discord bot token").
			EchoMode(huh.EchoModePassword).
			Description("Leave empty to use $DISCORD_BOT_TOKEN.").
			Value(&discordToken).
			Run()
		if err != nil {
			return fmt.Errorf("setup aborted: %w", err)
		}
	}

	storeSecrets(apiKey, discordToken)

	// The config file only carries env references; real secrets live in the
	// keyring or environment.
	cfg.API.APIKey = "${OPENAI_API_KEY}"
	if cfg.Channels.Discord.Enabled {
		cfg.Channels.Discord.Token = "${DISCORD_BOT_TOKEN}"
	}

	if err := config.SaveToFile(cfg, "config.yaml"); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("Configuration written to config.yaml.")
	if cfg.Channels.WhatsApp.Enabled {
		fmt.Println("Run 'emissary serve' and scan the QR code to pair WhatsApp.")
	} else {
		fmt.Println("Run 'emissary serve' to start, or 'emissary chat' to try it locally.")
	}
	return nil
}

// storeSecrets saves what the wizard collected, preferring the OS keyring.
func storeSecrets(apiKey, discordToken string) {
	if apiKey == "" && discordToken == "" {
		return
	}
	if !config.KeyringAvailable() {
		fmt.Println()
		fmt.Println("OS keyring unavailable. Export the secrets instead:")
		if apiKey != "" {
			fmt.Println("  export OPENAI_API_KEY=...")
		}
		if discordToken != "" {
			fmt.Println("  export DISCORD_BOT_TOKEN=...")
		}
		return
	}
	if apiKey != "" {
		if err := config.StoreKeyring(config.KeyringAPIKey, apiKey); err != nil {
			fmt.Printf("Could not store the API key in the keyring: %v\n", err)
		}
	}
	if discordToken != "" {
		if err := config.StoreKeyring(config.KeyringDiscordToken, discordToken); err != nil {
			fmt.Printf("Could not store the Discord token in the keyring: %v\n", err)
		}
	}
}

func requireNonEmpty(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}
