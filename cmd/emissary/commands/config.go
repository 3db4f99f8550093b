package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/emissary-bot/emissary/pkg/emissary/config"
)

// newConfigCmd creates the `emissary config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the assistant configuration",
		Long: `Inspect and bootstrap the Emissary configuration.

Examples:
  emissary config init
  emissary config show
  emissary config path`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigPathCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			if found := config.FindConfigFile(); found != "" {
				return fmt.Errorf("configuration already exists at %s", found)
			}
			cfg := &config.Config{}
			cfg.ApplyDefaults()
			cfg.API.APIKey = "${OPENAI_API_KEY}"
			if err := config.SaveToFile(cfg, "config.yaml"); err != nil {
				return err
			}
			fmt.Println("Default configuration written to config.yaml.")
			fmt.Println("Set owner_user_id and assistant_user_id before starting, or run 'emissary setup'.")
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			// Never print resolved secrets.
			cfg.API.APIKey = redact(cfg.API.APIKey)
			cfg.Channels.Discord.Token = redact(cfg.Channels.Discord.Token)

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(_ *cobra.Command, _ []string) error {
			found := config.FindConfigFile()
			if found == "" {
				return fmt.Errorf("no configuration file found")
			}
			fmt.Println(found)
			return nil
		},
	}
}

func redact(v string) string {
	if v == "" || config.IsEnvReference(v) {
		return v
	}
	return "<redacted>"
}
