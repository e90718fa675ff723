package agent

import (
	"context"
	"testing"

	"google.golang.org/genai"

	"github.com/autowealth/treasury-agent/internal/backend"
)

func TestRunToolLoopStopsWhenModelStopsCalling(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend(t)
	fb.on("GET", "/api/treasury/balance", 200, map[string]any{"amount": "25.00"})
	registry := newTestRegistry(t, fb, nil)

	provider := &fakeProvider{responses: []*genai.GenerateContentResponse{
		callResponse("get_treasury_balance", map[string]any{}),
		textResponse("You have 25 USDC."),
	}}

	res, err := runToolLoop(context.Background(), provider, "m",
		[]*genai.Content{genai.NewContentFromText("balance?", genai.RoleUser)},
		&genai.GenerateContentConfig{}, registry, "user_1", 12, loopHooks{})
	if err != nil {
		t.Fatalf("runToolLoop: %v", err)
	}

	if provider.genCalls != 2 {
		t.Fatalf("expected 2 model calls, got %d", provider.genCalls)
	}
	if len(res.executed) != 1 || res.executed[0].Name != "get_treasury_balance" {
		t.Fatalf("unexpected executed tools: %+v", res.executed)
	}
	if !res.executed[0].Result.OK {
		t.Fatalf("tool result not ok: %+v", res.executed[0].Result)
	}
	if got := extractText(res.last); got != "You have 25 USDC." {
		t.Fatalf("unexpected final text: %q", got)
	}
	// user turn + model call turn + tool turn
	if len(res.contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(res.contents))
	}
	if res.contents[2].Role != "tool" {
		t.Fatalf("expected synthetic tool turn, got role %q", res.contents[2].Role)
	}
}

func TestRunToolLoopRespectsBudget(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend(t)
	fb.on("GET", "/api/vendors", 200, map[string]any{"vendors": []any{}})
	registry := newTestRegistry(t, fb, nil)

	// Model never stops asking for tools.
	provider := &fakeProvider{responses: []*genai.GenerateContentResponse{
		callResponse("list_vendors", map[string]any{}),
	}}

	res, err := runToolLoop(context.Background(), provider, "m",
		[]*genai.Content{genai.NewContentFromText("go", genai.RoleUser)},
		&genai.GenerateContentConfig{}, registry, "user_1", 3, loopHooks{})
	if err != nil {
		t.Fatalf("runToolLoop: %v", err)
	}
	if provider.genCalls != 3 {
		t.Fatalf("expected exactly 3 model calls, got %d", provider.genCalls)
	}
	if len(res.executed) != 3 {
		t.Fatalf("expected 3 tool executions, got %d", len(res.executed))
	}
	if res.last == nil {
		t.Fatal("expected last response to be kept on budget exhaustion")
	}
}

func TestRunToolLoopEmptyResponseEndsLoop(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, newFakeBackend(t), nil)
	provider := &fakeProvider{responses: []*genai.GenerateContentResponse{{}}}

	res, err := runToolLoop(context.Background(), provider, "m",
		[]*genai.Content{genai.NewContentFromText("hi", genai.RoleUser)},
		&genai.GenerateContentConfig{}, registry, "user_1", 12, loopHooks{})
	if err != nil {
		t.Fatalf("runToolLoop: %v", err)
	}
	if provider.genCalls != 1 {
		t.Fatalf("expected 1 model call, got %d", provider.genCalls)
	}
	if len(res.executed) != 0 {
		t.Fatalf("expected no executions, got %+v", res.executed)
	}
}

func TestRunToolLoopHooksObserveCalls(t *testing.T) {
	t.Parallel()

	fb := newFakeBackend(t)
	fb.on("GET", "/api/payments/x402/status", 200, map[string]any{"enabled": true})
	registry := newTestRegistry(t, fb, nil)

	provider := &fakeProvider{responses: []*genai.GenerateContentResponse{
		callResponse("get_x402_status", map[string]any{}),
		textResponse("enabled"),
	}}

	var calls, results []string
	hooks := loopHooks{
		onToolCall:   func(name string, _ map[string]any) { calls = append(calls, name) },
		onToolResult: func(name string, _ backend.Outcome) { results = append(results, name) },
	}

	if _, err := runToolLoop(context.Background(), provider, "m",
		[]*genai.Content{genai.NewContentFromText("x402?", genai.RoleUser)},
		&genai.GenerateContentConfig{}, registry, "user_1", 12, hooks); err != nil {
		t.Fatalf("runToolLoop: %v", err)
	}
	if len(calls) != 1 || calls[0] != "get_x402_status" {
		t.Fatalf("unexpected call hook sequence: %v", calls)
	}
	if len(results) != 1 || results[0] != "get_x402_status" {
		t.Fatalf("unexpected result hook sequence: %v", results)
	}
}
