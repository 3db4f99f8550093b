package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestExecutorRunsCallsInRequestOrder(t *testing.T) {
	e := NewToolExecutor(testLogger())

	var ran []string
	for _, name := range []string{"alpha", "beta", "gamma"} {
		name := name
		def, _ := echoTool(name)
		e.Register(def, func(ctx context.Context, args map[string]any) (any, error) {
			ran = append(ran, name)
			return name, nil
		})
	}

	// Request order deliberately differs from registration order.
	results := e.Execute(context.Background(), []ToolCall{
		toolCall("c1", "gamma"),
		toolCall("c2", "alpha"),
		toolCall("c3", "beta"),
	})

	if got := strings.Join(ran, ","); got != "gamma,alpha,beta" {
		t.Errorf("execution order = %s, want gamma,alpha,beta", got)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d", len(results))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if results[i].ToolCallID != want {
			t.Errorf("results[%d].ToolCallID = %q, want %q", i, results[i].ToolCallID, want)
		}
	}
}

func TestExecutorFailureDoesNotStopBatch(t *testing.T) {
	e := NewToolExecutor(testLogger())

	okDef, okHandler := echoTool("works")
	e.Register(okDef, okHandler)

	failDef, _ := echoTool("fails")
	e.Register(failDef, func(ctx context.Context, args map[string]any) (any, error) {
		return nil, fmt.Errorf("boom")
	})

	results := e.Execute(context.Background(), []ToolCall{
		toolCall("c1", "fails"),
		toolCall("c2", "works"),
	})

	if results[0].Error == nil {
		t.Error("failing tool should carry its error")
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(results[0].Content), &payload); err != nil {
		t.Fatalf("error content is not JSON: %v", err)
	}
	if payload["status"] != "error" || payload["tool"] != "fails" {
		t.Errorf("structured error = %+v", payload)
	}

	if results[1].Error != nil {
		t.Errorf("second call should still run, got error %v", results[1].Error)
	}
	if results[1].Content != "echo:works" {
		t.Errorf("second call content = %q", results[1].Content)
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	e := NewToolExecutor(testLogger())

	results := e.Execute(context.Background(), []ToolCall{toolCall("c1", "nope")})
	if results[0].Error == nil {
		t.Error("unknown tool should error")
	}
	if !strings.Contains(results[0].Content, "unknown tool") {
		t.Errorf("content = %q, want unknown-tool message", results[0].Content)
	}
}

func TestExecutorBadArguments(t *testing.T) {
	e := NewToolExecutor(testLogger())
	def, handler := echoTool("echo")
	e.Register(def, handler)

	call := toolCall("c1", "echo")
	call.Function.Arguments = "{not json"

	results := e.Execute(context.Background(), []ToolCall{call})
	if results[0].Error == nil {
		t.Error("invalid arguments should error")
	}
	if !strings.Contains(results[0].Content, "parsing arguments") {
		t.Errorf("content = %q", results[0].Content)
	}
}

func TestExecutorToolsInRegistrationOrder(t *testing.T) {
	e := NewToolExecutor(testLogger())
	for _, name := range []string{"one", "two", "three"} {
		def, handler := echoTool(name)
		e.Register(def, handler)
	}

	defs := e.Tools()
	if len(defs) != 3 {
		t.Fatalf("len = %d", len(defs))
	}
	for i, want := range []string{"one", "two", "three"} {
		if defs[i].Function.Name != want {
			t.Errorf("defs[%d] = %q, want %q", i, defs[i].Function.Name, want)
		}
	}
	if !e.HasTool("two") || e.HasTool("four") {
		t.Error("HasTool mismatch")
	}
}

func TestFormatToolOutput(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   any
		want string
	}{
		{"nil is OK", nil, "OK"},
		{"string passthrough", "hello", "hello"},
		{"bytes passthrough", []byte("raw"), "raw"},
		{"map marshals", map[string]int{"n": 2}, `{"n":2}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatToolOutput(tc.in); got != tc.want {
				t.Errorf("formatToolOutput(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
