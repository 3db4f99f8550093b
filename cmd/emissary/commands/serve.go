package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/emissary-bot/emissary/pkg/emissary/assistant"
	"github.com/emissary-bot/emissary/pkg/emissary/config"
)

// newServeCmd creates the `emissary serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon with messaging channels",
		Long: `Start Emissary as a daemon, connecting the enabled channels
(WhatsApp, Discord) and processing messages. The reminder sweep runs on the
configured cron schedule.

Examples:
  emissary serve
  emissary serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
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
		return fmt.Errorf("failed to start: %w", err)
	}

	// Reminder sweep on the configured schedule.
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Reminder.Cron, func() {
		res, err := a.Sweep(ctx)
		if err != nil {
			logger.Error("reminder sweep failed", "error", err)
			return
		}
		logger.Info("reminder sweep finished",
			"scanned", res.Scanned, "reminded", res.Reminded,
			"skipped", res.Skipped, "failed", res.Failed)
	}); err != nil {
		return fmt.Errorf("invalid reminder cron %q: %w", cfg.Reminder.Cron, err)
	}
	sched.Start()

	logger.Info("Emissary running. Press Ctrl+C to stop.",
		"name", cfg.Name,
		"owner", cfg.OwnerUserID,
		"sweep", cfg.Reminder.Cron,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		<-sched.Stop().Done()
		a.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}
