package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/emissary-bot/emissary/pkg/emissary/assistant"
	"github.com/emissary-bot/emissary/pkg/emissary/config"
	"github.com/emissary-bot/emissary/pkg/emissary/outreach"
)

// newSweepCmd creates the `emissary sweep` command for a one-shot reminder
// pass, useful from an external scheduler instead of `serve`.
func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Nudge recipients who have not replied",
		Long: `Run one reminder pass over tracked recipients whose reply is overdue.
Connects the enabled channels, sends the nudges and exits.

Examples:
  emissary sweep
  emissary sweep --threshold-hours 12 --limit 10`,
		RunE: runSweep,
	}

	cmd.Flags().Int("threshold-hours", 0, "override the staleness threshold (default from config)")
	cmd.Flags().Int("limit", 0, "override the per-sweep target cap (default from config)")
	return cmd
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if hours, _ := cmd.Flags().GetInt("threshold-hours"); hours > 0 {
		cfg.Reminder.ThresholdHours = hours
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		cfg.Reminder.Limit = limit
	}

	logger := newLogger(cmd, slog.LevelInfo)
	config.ResolveSecrets(cfg, logger)

	a, err := assistant.New(cfg, logger)
	if err != nil {
		return err
	}
	a.EnableConfiguredChannels()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop()

	res, err := a.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	printSweepResult(res)
	return nil
}

func printSweepResult(res *outreach.SweepResult) {
	fmt.Printf("scanned %d, reminded %d, skipped %d, failed %d\n",
		res.Scanned, res.Reminded, res.Skipped, res.Failed)
}
