package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/emissary-bot/emissary/pkg/emissary/assistant"
	"github.com/emissary-bot/emissary/pkg/emissary/channels"
	"github.com/emissary-bot/emissary/pkg/emissary/config"
	"github.com/emissary-bot/emissary/pkg/emissary/identity"
)

// newChatCmd creates the `emissary chat` command for talking to the
// assistant from the terminal, without any messaging channel.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Start a conversation with the assistant. Pass a message for a single
exchange, or no arguments for an interactive session.

Examples:
  emissary chat "ask dana and lee if friday works for dinner"
  emissary chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, slog.LevelWarn)
	config.ResolveSecrets(cfg, logger)

	a, err := assistant.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Stop()

	ctx := context.Background()
	lb := channels.NewLoopback()
	if err := lb.Connect(ctx); err != nil {
		return err
	}
	a.RegisterGateway(lb)

	// Terminal input plays the owner's side of the owner conversation, the
	// same one channel gateways map the owner's direct messages to.
	conv := identity.ConversationID(cfg.OwnerUserID, cfg.OwnerUserID)

	exchange := func(line string) error {
		reply, err := a.HandleMessage(ctx, &channels.Message{
			ID:             identity.MessageID(conv, cfg.OwnerUserID, line, time.Now()),
			ConversationID: conv,
			SenderID:       cfg.OwnerUserID,
			Body:           line,
			SentAt:         time.Now(),
		})
		if err != nil {
			return err
		}
		if reply != "" {
			fmt.Printf("%s: %s\n", cfg.Name, reply)
		}
		return nil
	}

	if len(args) > 0 {
		return exchange(args[0])
	}

	rl, err := readline.New("you> ")
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Chatting with %s. Type /quit to leave.\n", cfg.Name)
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		}

		if err := exchange(line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}
