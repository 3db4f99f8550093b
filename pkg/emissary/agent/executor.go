// executor.go manages the registry of callable tools and dispatches tool
// calls from the LLM to their handlers. Calls execute strictly in request
// order; outreach tools mutate shared task state, so a batch never runs
// concurrently.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultToolTimeout is the maximum time a single tool execution can take.
const DefaultToolTimeout = 30 * time.Second

// maxToolResultChars caps a single tool result before it enters the
// conversation, preventing context overflow.
const maxToolResultChars = 100_000

// ToolHandlerFunc is the signature for tool execution handlers.
// Receives parsed arguments and returns the result or an error.
type ToolHandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// registeredTool bundles a tool definition with its handler.
type registeredTool struct {
	Definition ToolDefinition
	Handler    ToolHandlerFunc
}

// ToolResult holds the output of a single tool execution.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	Error      error
}

// ToolExecutor manages tool registration and dispatches tool calls.
type ToolExecutor struct {
	mu      sync.RWMutex
	tools   map[string]*registeredTool
	order   []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewToolExecutor creates an empty tool executor.
func NewToolExecutor(logger *slog.Logger) *ToolExecutor {
	return &ToolExecutor{
		tools:   make(map[string]*registeredTool),
		timeout: DefaultToolTimeout,
		logger:  logger.With("component", "tool_executor"),
	}
}

// Register adds a tool with its definition and handler.
// If a tool with the same name already exists, it is overwritten.
func (e *ToolExecutor) Register(def ToolDefinition, handler ToolHandlerFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := def.Function.Name
	if _, exists := e.tools[name]; !exists {
		e.order = append(e.order, name)
	}
	e.tools[name] = &registeredTool{Definition: def, Handler: handler}
	e.logger.Debug("tool registered", "name", name)
}

// Tools returns the definitions of all registered tools in registration order.
func (e *ToolExecutor) Tools() []ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(e.order))
	for _, name := range e.order {
		defs = append(defs, e.tools[name].Definition)
	}
	return defs
}

// HasTool checks if a tool is registered by name.
func (e *ToolExecutor) HasTool(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.tools[name]
	return ok
}

// Execute dispatches a batch of tool calls to their registered handlers,
// one at a time, in the order the LLM requested them. Results come back in
// the same order. A failed call does not stop the rest of the batch; its
// error becomes a structured result the LLM can react to.
func (e *ToolExecutor) Execute(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))
	for i, call := range calls {
		results[i] = e.executeSingle(ctx, call)
	}
	return results
}

// executeSingle runs a single tool call with a per-tool timeout.
func (e *ToolExecutor) executeSingle(ctx context.Context, call ToolCall) ToolResult {
	name := call.Function.Name
	result := ToolResult{
		ToolCallID: call.ID,
		Name:       name,
	}

	e.mu.RLock()
	tool, ok := e.tools[name]
	timeout := e.timeout
	e.mu.RUnlock()

	if !ok {
		result.Content = formatToolError(name, fmt.Errorf("unknown tool %q", name))
		result.Error = fmt.Errorf("unknown tool: %s", name)
		e.logger.Warn("unknown tool called", "name", name)
		return result
	}

	args, err := parseToolArgs(call.Function.Arguments)
	if err != nil {
		result.Content = formatToolError(name, fmt.Errorf("error parsing arguments: %w", err))
		result.Error = err
		e.logger.Warn("tool argument parse error", "name", name, "error", err)
		return result
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Debug("executing tool", "name", name, "args_keys", mapKeys(args))

	start := time.Now()
	output, err := tool.Handler(execCtx, args)
	duration := time.Since(start)

	if err != nil {
		result.Content = formatToolError(name, err)
		result.Error = err
		e.logger.Warn("tool execution failed",
			"name", name,
			"error", err,
			"duration_ms", duration.Milliseconds(),
		)
		return result
	}

	result.Content = formatToolOutput(output)
	if len(result.Content) > maxToolResultChars {
		original := len(result.Content)
		result.Content = result.Content[:maxToolResultChars] + "\n... (truncated)"
		e.logger.Warn("tool result truncated",
			"name", name, "original_chars", original)
	}

	e.logger.Info("tool executed",
		"name", name,
		"duration_ms", duration.Milliseconds(),
		"output_len", len(result.Content),
	)
	return result
}

// formatToolError creates a structured JSON error result, which the LLM can
// parse more reliably than plain "Error: ..." text.
func formatToolError(toolName string, err error) string {
	errMsg := err.Error()
	if len(errMsg) > 2000 {
		errMsg = errMsg[:2000] + "... (truncated)"
	}
	b, _ := json.Marshal(map[string]string{
		"status": "error",
		"tool":   toolName,
		"error":  errMsg,
	})
	return string(b)
}

// parseToolArgs decodes the JSON arguments string from a tool call.
func parseToolArgs(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return args, nil
}

// formatToolOutput converts tool output to a string suitable for the LLM.
func formatToolOutput(output any) string {
	if output == nil {
		return "OK"
	}
	switch v := output.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case error:
		return fmt.Sprintf("Error: %v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
