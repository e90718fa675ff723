package agent

import (
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/autowealth/treasury-agent/internal/backend"
)

func TestExtractTextJoinsParts(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Hello "},
				{FunctionCall: &genai.FunctionCall{Name: "noop"}},
				{Text: "world."},
			}},
		}},
	}
	if got := extractText(resp); got != "Hello world." {
		t.Fatalf("extractText = %q", got)
	}
	if got := extractText(nil); got != "" {
		t.Fatalf("extractText(nil) = %q", got)
	}
	if got := extractText(&genai.GenerateContentResponse{}); got != "" {
		t.Fatalf("extractText(empty) = %q", got)
	}
}

func TestExtractMetadata(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			GroundingMetadata: &genai.GroundingMetadata{
				WebSearchQueries: []string{"usdc price"},
				GroundingChunks: []*genai.GroundingChunk{
					{Web: &genai.GroundingChunkWeb{URI: "https://example.com", Title: "Example"}},
				},
			},
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking about it", Thought: true},
				{FunctionCall: &genai.FunctionCall{Name: "list_vendors", Args: map[string]any{}}},
			}},
		}},
	}

	md := extractMetadata(resp, true)
	if len(md.Sources) != 1 || md.Sources[0].URI != "https://example.com" {
		t.Fatalf("sources: %+v", md.Sources)
	}
	if len(md.ToolCalls) != 2 || md.ToolCalls[0].Tool != "google_search" || md.ToolCalls[1].Tool != "list_vendors" {
		t.Fatalf("tool calls: %+v", md.ToolCalls)
	}
	if len(md.Thoughts) != 1 {
		t.Fatalf("thoughts: %+v", md.Thoughts)
	}

	// Thoughts excluded when not requested.
	md = extractMetadata(resp, false)
	if len(md.Thoughts) != 0 {
		t.Fatalf("thoughts should be dropped: %+v", md.Thoughts)
	}
}

func TestSanitizeVisibleText(t *testing.T) {
	t.Parallel()

	text, thoughts := sanitizeVisibleText("Plan: first I will check the balance")
	if text != "" || len(thoughts) != 1 {
		t.Fatalf("plan text not redirected: %q %v", text, thoughts)
	}
	text, thoughts = sanitizeVisibleText("Your balance is 25 USDC.")
	if text != "Your balance is 25 USDC." || len(thoughts) != 0 {
		t.Fatalf("normal text altered: %q %v", text, thoughts)
	}
	if text, _ := sanitizeVisibleText("   "); text != "   " {
		t.Fatalf("whitespace text altered: %q", text)
	}
}

func TestBuildToolFallback(t *testing.T) {
	t.Parallel()

	if got := buildToolFallback(nil); got != "" {
		t.Fatalf("empty trail produced %q", got)
	}

	executed := []ExecutedTool{
		{
			Name:   "purchase_product",
			Result: backend.Blocked("Amount $12.00 exceeds hard limit of $10.00", "System Safety Limit"),
		},
		{
			Name:   "get_treasury_balance",
			Result: backend.Ok(map[string]any{"amount": "25.00"}),
		},
		{
			Name:   "get_vendor",
			Result: backend.Fail("connection refused"),
		},
	}
	got := buildToolFallback(executed)
	if !strings.Contains(got, "⚠️ Action blocked: Policy blocked: Amount $12.00 exceeds hard limit of $10.00") {
		t.Fatalf("blocked line missing:\n%s", got)
	}
	if !strings.Contains(got, "❌ get_vendor failed: connection refused") {
		t.Fatalf("failure line missing:\n%s", got)
	}
	if !strings.Contains(got, "💰 Balance: **25.00 USDC**") {
		t.Fatalf("balance line missing:\n%s", got)
	}

	purchase := []ExecutedTool{{
		Name: "purchase_product",
		Result: backend.Ok(map[string]any{
			"success": true,
			"order": map[string]any{
				"vendor":  "DataCo",
				"product": map[string]any{"name": "Market Feed", "price": 1.25},
			},
		}),
	}}
	got = buildToolFallback(purchase)
	if got != "✅ Purchased **Market Feed** for **1.25 USDC** from DataCo" {
		t.Fatalf("purchase line: %q", got)
	}

	generic := []ExecutedTool{
		{Name: "get_x402_status", Result: backend.Ok(map[string]any{"enabled": true})},
		{Name: "list_orders", Result: backend.Ok(map[string]any{"orders": []any{}})},
	}
	got = buildToolFallback(generic)
	if got != "Completed: get_x402_status, list_orders. Expand '🔧 tools executed' for details." {
		t.Fatalf("generic summary: %q", got)
	}
}

func TestPlanFilterPassesNormalText(t *testing.T) {
	t.Parallel()

	var f planFilter
	var out strings.Builder
	for _, chunk := range []string{"He", "llo", " there, the balance is 25."} {
		out.WriteString(f.feed(chunk))
	}
	visible, plan := f.flush()
	out.WriteString(visible)
	if out.String() != "Hello there, the balance is 25." {
		t.Fatalf("visible = %q", out.String())
	}
	if plan != "" {
		t.Fatalf("unexpected plan: %q", plan)
	}
}

func TestPlanFilterCapturesPlanMode(t *testing.T) {
	t.Parallel()

	var f planFilter
	var out strings.Builder
	for _, chunk := range []string{"Pl", "an: ", "check balance", " then buy"} {
		out.WriteString(f.feed(chunk))
	}
	visible, plan := f.flush()
	out.WriteString(visible)
	if out.String() != "" {
		t.Fatalf("plan text leaked: %q", out.String())
	}
	if plan != "Plan: check balance then buy" {
		t.Fatalf("plan = %q", plan)
	}
}

func TestPlanFilterShortStreamFlushes(t *testing.T) {
	t.Parallel()

	var f planFilter
	if got := f.feed("Hi."); got != "" {
		t.Fatalf("undecided filter emitted %q", got)
	}
	visible, plan := f.flush()
	if visible != "Hi." || plan != "" {
		t.Fatalf("flush = %q, %q", visible, plan)
	}
}

func TestPlanFilterNewlineDecides(t *testing.T) {
	t.Parallel()

	var f planFilter
	if got := f.feed("Ok\n"); got != "Ok\n" {
		t.Fatalf("newline did not force decision: %q", got)
	}
	if got := f.feed("more"); got != "more" {
		t.Fatalf("post-decision chunk held back: %q", got)
	}
}
