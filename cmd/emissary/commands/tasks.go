package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/emissary-bot/emissary/pkg/emissary/assistant"
	"github.com/emissary-bot/emissary/pkg/emissary/outreach"
)

// newTasksCmd creates the `emissary tasks` command group for inspecting and
// managing outreach tasks from the terminal.
func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage outreach tasks",
		Long: `List, inspect, cancel and remove outreach tasks.

Examples:
  emissary tasks list
  emissary tasks status <task-id>
  emissary tasks cancel <task-id>
  emissary tasks remove <task-id>`,
	}

	cmd.AddCommand(
		newTasksListCmd(),
		newTasksStatusCmd(),
		newTasksCancelCmd(),
		newTasksRemoveCmd(),
	)
	return cmd
}

// withAssistant opens the task store and runs fn with the wired assistant.
// No channels are connected; these commands only touch the store.
func withAssistant(cmd *cobra.Command, fn func(ctx context.Context, a *assistant.Assistant, owner string) error) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, slog.LevelWarn)

	a, err := assistant.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Stop()

	return fn(context.Background(), a, cfg.OwnerUserID)
}

func newTasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your outreach tasks, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withAssistant(cmd, func(ctx context.Context, a *assistant.Assistant, owner string) error {
				sums, err := outreach.ListSummaries(ctx, a.Store(), owner, limit)
				if err != nil {
					return err
				}
				if len(sums) == 0 {
					fmt.Println("No tasks.")
					return nil
				}
				for _, s := range sums {
					fmt.Printf("[%s] %s\n", s.TaskID, s.Render())
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("limit", 20, "maximum tasks to show")
	return cmd
}

func newTasksStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show one task's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAssistant(cmd, func(ctx context.Context, a *assistant.Assistant, _ string) error {
				sum, err := outreach.Summarize(ctx, a.Store(), args[0])
				if err != nil {
					return taskErr(err)
				}
				fmt.Println(sum.Render())
				return nil
			})
		},
	}
}

func newTasksCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel an active task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAssistant(cmd, func(ctx context.Context, a *assistant.Assistant, owner string) error {
				if err := a.Orchestrator().Cancel(ctx, owner, args[0]); err != nil {
					return taskErr(err)
				}
				fmt.Printf("Task %s canceled.\n", args[0])
				return nil
			})
		},
	}
}

func newTasksRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id>",
		Short: "Remove a finished task and its recipients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAssistant(cmd, func(ctx context.Context, a *assistant.Assistant, owner string) error {
				removed, err := a.Orchestrator().Remove(ctx, owner, args[0])
				if err != nil {
					return taskErr(err)
				}
				fmt.Printf("Task %s removed (%d recipients).\n", args[0], removed)
				return nil
			})
		},
	}
}

// taskErr maps orchestrator state errors onto friendlier CLI messages.
func taskErr(err error) error {
	var state *outreach.StateError
	if errors.As(err, &state) {
		switch state.Code {
		case outreach.ErrNotOwner:
			return fmt.Errorf("that task belongs to someone else")
		case outreach.ErrAlreadyTerminal:
			return fmt.Errorf("task is already finished: %s", state.Message)
		case outreach.ErrStillActive:
			return fmt.Errorf("task is still active; cancel it first")
		}
	}
	return err
}
