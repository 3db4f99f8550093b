// Package commands implements the emissary CLI commands using cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/emissary-bot/emissary/pkg/emissary/config"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "emissary",
		Short: "Emissary - outreach assistant",
		Long: `Emissary is a personal outreach assistant. It sends messages to people
on your behalf over WhatsApp or Discord, tracks who has replied, nudges the
ones who have not, and reports back.

Examples:
  emissary chat "ask dana and lee if friday works for dinner"
  emissary serve
  emissary tasks list
  emissary sweep`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default: auto-discover)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSweepCmd(),
		newTasksCmd(),
		newSetupCmd(),
		newConfigCmd(),
	)

	return rootCmd
}

// resolveConfig loads the config file, preferring the explicit --config path
// and falling back to auto-discovery. Secrets are resolved afterwards by the
// commands that need them.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.LoadFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, nil
	}

	return nil, fmt.Errorf("no configuration file found; run 'emissary setup' or 'emissary config init' first")
}

// newLogger builds the command logger. Verbose turns on debug level; quiet
// commands (chat, tasks) pass warn as the base level to keep stdout clean.
func newLogger(cmd *cobra.Command, base slog.Level) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := base
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
