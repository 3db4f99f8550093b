// loop.go implements the bounded agentic loop: call LLM, execute requested
// tools, feed results back, repeat. The loop is capped at a fixed number of
// iterations and degrades to a fixed fallback reply instead of surfacing
// errors to the person chatting with the assistant.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultMaxIterations caps LLM round-trips per inbound message.
const DefaultMaxIterations = 6

// DefaultHistoryLimit is how many conversation entries are replayed.
const DefaultHistoryLimit = 30

// FallbackReply is returned whenever the loop cannot produce a real answer:
// LLM failure, iteration cap with no final text, or an empty completion.
const FallbackReply = "Sorry, I hit a snag processing that. Please try again in a moment."

// ConversationEntry is one user/assistant exchange replayed to the LLM.
type ConversationEntry struct {
	UserMessage       string
	AssistantResponse string
	Timestamp         time.Time
}

// Loop drives the tool-use conversation for one assistant.
type Loop struct {
	llm           completer
	executor      *ToolExecutor
	maxIterations int
	historyLimit  int
	logger        *slog.Logger
}

// NewLoop creates a loop with the given LLM client and executor.
// maxIterations and historyLimit fall back to defaults when non-positive.
func NewLoop(llm completer, executor *ToolExecutor, maxIterations, historyLimit int, logger *slog.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Loop{
		llm:           llm,
		executor:      executor,
		maxIterations: maxIterations,
		historyLimit:  historyLimit,
		logger:        logger.With("component", "agent"),
	}
}

// SystemPrompt builds the assistant's system prompt. The privacy rule matters:
// conversation and task identifiers are internal bookkeeping and must never
// appear in replies, only display names and plain language.
func SystemPrompt(assistantName, ownerName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a personal outreach assistant acting on behalf of %s.\n\n", assistantName, ownerName)
	b.WriteString(`You send messages to people for your owner, track who has replied, and report progress. Use the provided tools to create outreach, check task status, and manage tasks.

Rules:
- Never reveal internal identifiers (task ids, conversation ids, user ids) in your replies. Refer to people by display name and to tasks by their title.
- When a tool returns an error about confirmation being required, explain the situation to your owner and ask whether to proceed. Do not retry the tool on your own.
- Keep replies short. These are chat messages, not reports.
- When messaging recipients, write naturally as the owner's assistant and make clear who the message is from.`)
	return b.String()
}

// Run handles one inbound message and returns the assistant's reply. It never
// returns an error: failures collapse into the fixed fallback reply so the
// person on the other end always gets a response.
func (l *Loop) Run(ctx context.Context, systemPrompt string, history []ConversationEntry, userMessage string) string {
	if len(history) > l.historyLimit {
		history = history[len(history)-l.historyLimit:]
	}
	messages := buildMessages(systemPrompt, history, userMessage)
	tools := l.executor.Tools()

	start := time.Now()
	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		resp, err := l.llm.CompleteWithTools(ctx, messages, tools)
		if err != nil {
			l.logger.Error("LLM call failed, using fallback reply",
				"iteration", iteration, "error", err)
			return FallbackReply
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content == "" {
				l.logger.Warn("LLM returned empty final response, using fallback reply",
					"iteration", iteration)
				return FallbackReply
			}
			l.logger.Info("agent run complete",
				"iterations", iteration,
				"duration_ms", time.Since(start).Milliseconds(),
				"response_len", len(resp.Content),
			)
			return resp.Content
		}

		messages = append(messages, chatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results := l.executor.Execute(ctx, resp.ToolCalls)
		for _, result := range results {
			messages = append(messages, chatMessage{
				Role:       "tool",
				Content:    result.Content,
				ToolCallID: result.ToolCallID,
			})
		}

		l.logger.Debug("agent iteration complete",
			"iteration", iteration,
			"tool_calls", len(resp.ToolCalls),
		)
	}

	l.logger.Warn("agent iteration cap reached without final response, using fallback reply",
		"max_iterations", l.maxIterations,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return FallbackReply
}

// buildMessages assembles the message list from system prompt, prior
// exchanges, and the new user message.
func buildMessages(systemPrompt string, history []ConversationEntry, userMessage string) []chatMessage {
	messages := make([]chatMessage, 0, len(history)*2+2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, entry := range history {
		messages = append(messages, chatMessage{Role: "user", Content: entry.UserMessage})
		if entry.AssistantResponse != "" {
			messages = append(messages, chatMessage{Role: "assistant", Content: entry.AssistantResponse})
		}
	}
	messages = append(messages, chatMessage{Role: "user", Content: userMessage})
	return messages
}
