// Package agent implements the tool-use loop that turns owner messages into
// outreach actions. llm.go is the chat completions client with function
// calling support, speaking the OpenAI-compatible API format so any
// compatible endpoint works.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emissary-bot/emissary/pkg/emissary/config"
)

// LLMClient handles communication with the LLM provider API.
type LLMClient struct {
	baseURL     string
	apiKey      string
	model       string
	callTimeout time.Duration
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewLLMClient creates an LLM client from config.
func NewLLMClient(cfg *config.Config, logger *slog.Logger) *LLMClient {
	baseURL := cfg.API.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := time.Duration(cfg.Agent.LLMCallTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &LLMClient{
		baseURL:     baseURL,
		apiKey:      cfg.API.APIKey,
		model:       cfg.Model,
		callTimeout: timeout,
		httpClient: &http.Client{
			// No global timeout. Each call gets context.WithTimeout so a slow
			// completion cannot pin the client forever while short calls stay
			// snappy.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 180 * time.Second,
			},
		},
		logger: logger.With("component", "llm"),
	}
}

// resolveAPIKey returns the key from config or the OPENAI_API_KEY env var.
func (c *LLMClient) resolveAPIKey() string {
	if c.apiKey != "" {
		return c.apiKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// ---------- Wire Types ----------

// chatMessage is a message in the OpenAI chat format. Supports user, system,
// assistant (with optional tool_calls), and tool result messages.
type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// chatRequest is the OpenAI-compatible chat completions request.
type chatRequest struct {
	Model    string           `json:"model"`
	Messages []chatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// chatResponse is the OpenAI-compatible chat completions response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ToolDefinition is an OpenAI-compatible tool definition for function calling.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function exposed to the LLM.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and serialized arguments from the LLM.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// LLMResponse holds the parsed response from a chat completion.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        LLMUsage
}

// LLMUsage holds token usage from the API response.
type LLMUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ---------- Error Classification ----------

// LLMErrorKind classifies API errors for retry decisions.
type LLMErrorKind int

const (
	LLMErrorRetryable LLMErrorKind = iota // transient 5xx
	LLMErrorRateLimit                     // 429, should respect Retry-After
	LLMErrorTimeout                       // request timeout / deadline exceeded
	LLMErrorAuth                          // 401, 403
	LLMErrorFatal                         // everything else
)

// IsRetryableKind reports whether the kind warrants another attempt.
func (k LLMErrorKind) IsRetryableKind() bool {
	return k == LLMErrorRetryable || k == LLMErrorRateLimit || k == LLMErrorTimeout
}

// apiError captures HTTP status, body, and optional Retry-After for 429.
type apiError struct {
	statusCode    int
	body          string
	retryAfterSec int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.statusCode, truncate(e.body, 200))
}

// classifyAPIError determines the error kind from status code and body.
func classifyAPIError(statusCode int, body string) LLMErrorKind {
	bodyLower := strings.ToLower(body)

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return LLMErrorRateLimit
	}
	if strings.Contains(bodyLower, "timeout") ||
		strings.Contains(bodyLower, "deadline") ||
		strings.Contains(bodyLower, "timed out") {
		return LLMErrorTimeout
	}

	switch statusCode {
	case 401, 403:
		return LLMErrorAuth
	case 500, 502, 503, 521, 522, 523, 524, 529:
		return LLMErrorRetryable
	default:
		if statusCode >= 500 {
			return LLMErrorRetryable
		}
		return LLMErrorFatal
	}
}

// ---------- Public Methods ----------

// completer abstracts the LLM call so the loop can be tested with a script.
type completer interface {
	CompleteWithTools(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error)
}

// CompleteWithTools sends a chat completion request with optional tool
// definitions and retries transient failures twice with a short backoff.
func (c *LLMClient) CompleteWithTools(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error) {
	if c.resolveAPIKey() == "" {
		return nil, fmt.Errorf("API key not configured. Set OPENAI_API_KEY or run emissary setup")
	}

	const maxAttempts = 3
	retryDelay := 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.completeOnce(ctx, messages, tools)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		apierr, ok := err.(*apiError)
		if !ok {
			break
		}
		kind := classifyAPIError(apierr.statusCode, apierr.body)
		if !kind.IsRetryableKind() || attempt == maxAttempts {
			break
		}

		delay := retryDelay
		if apierr.retryAfterSec > 0 {
			delay = time.Duration(apierr.retryAfterSec) * time.Second
		}
		c.logger.Warn("transient API error, retrying",
			"attempt", attempt, "status", apierr.statusCode, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
		retryDelay *= 2
	}
	return nil, lastErr
}

// completeOnce performs a single chat completion request. Returns *apiError on
// HTTP errors so the caller can classify and decide on a retry.
func (c *LLMClient) completeOnce(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*LLMResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
	}
	if len(tools) > 0 {
		reqBody.Tools = tools
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.resolveAPIKey())

	c.logger.Debug("sending chat completion",
		"model", c.model,
		"messages", len(messages),
		"tools", len(tools),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode != http.StatusOK {
		apierr := &apiError{statusCode: resp.StatusCode, body: bodyStr}
		if resp.StatusCode == 429 {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, err := strconv.Atoi(ra); err == nil && sec > 0 {
					apierr.retryAfterSec = sec
				}
			}
		}
		c.logger.Error("API error",
			"status", resp.StatusCode,
			"body", truncate(bodyStr, 500),
		)
		return nil, apierr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	choice := chatResp.Choices[0]
	c.logger.Info("chat completion done",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls),
	)

	return &LLMResponse{
		Content:      strings.TrimSpace(choice.Message.Content),
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage: LLMUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// truncate shortens s to at most n runes for log output.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
