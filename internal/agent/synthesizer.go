package agent

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/autowealth/treasury-agent/internal/policy"
)

// clarifyFallback is the terminal reply when neither the model nor the
// tool trail produced any user-visible text.
const clarifyFallback = "I can proceed if you confirm. What would you like me to do next?"

// Metadata is the assistant message envelope stored alongside the content
// and returned to the frontend.
type Metadata struct {
	ToolCalls     []ToolCallMeta `json:"tool_calls,omitempty"`
	Thoughts      []string       `json:"thoughts,omitempty"`
	Sources       []Source       `json:"sources,omitempty"`
	ExecutedTools []ExecutedTool `json:"executed_tools,omitempty"`
}

func (m *Metadata) empty() bool {
	return m == nil ||
		(len(m.ToolCalls) == 0 && len(m.Thoughts) == 0 && len(m.Sources) == 0 && len(m.ExecutedTools) == 0)
}

// ToolCallMeta describes a call the model requested (not necessarily
// executed locally; google_search runs inside the model).
type ToolCallMeta struct {
	Tool    string         `json:"tool"`
	Queries []string       `json:"queries,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}

// Source is one grounding citation from search mode.
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// extractMetadata pulls tool calls, thoughts and grounding sources out of
// a model response.
func extractMetadata(resp *genai.GenerateContentResponse, includeThoughts bool) Metadata {
	var md Metadata
	if resp == nil || len(resp.Candidates) == 0 {
		return md
	}
	candidate := resp.Candidates[0]

	if gm := candidate.GroundingMetadata; gm != nil {
		if len(gm.WebSearchQueries) > 0 {
			md.ToolCalls = append(md.ToolCalls, ToolCallMeta{
				Tool:    "google_search",
				Queries: gm.WebSearchQueries,
			})
		}
		for _, chunk := range gm.GroundingChunks {
			if chunk != nil && chunk.Web != nil {
				md.Sources = append(md.Sources, Source{URI: chunk.Web.URI, Title: chunk.Web.Title})
			}
		}
	}

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if includeThoughts && part.Thought && part.Text != "" {
				md.Thoughts = append(md.Thoughts, part.Text)
			}
			if part.FunctionCall != nil {
				md.ToolCalls = append(md.ToolCalls, ToolCallMeta{
					Tool: part.FunctionCall.Name,
					Args: normalizeArgs(part.FunctionCall.Args),
				})
			}
		}
	}
	return md
}

// sanitizeVisibleText strips leaked planning monologue. A reply that is
// entirely a "plan:" block moves to thoughts and leaves no visible text.
func sanitizeVisibleText(text string) (string, []string) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return text, nil
	}
	if strings.HasPrefix(strings.ToLower(cleaned), "plan:") {
		return "", []string{cleaned}
	}
	return text, nil
}

// buildToolFallback renders a readable summary of the tool trail for when
// the model produced no prose of its own.
func buildToolFallback(executed []ExecutedTool) string {
	if len(executed) == 0 {
		return ""
	}

	var parts []string
	for _, tool := range executed {
		if tool.Result.OK {
			continue
		}
		errText := tool.Result.ErrorText()
		if errText == "" {
			errText = "Unknown error"
		}
		lower := strings.ToLower(errText)
		if strings.Contains(lower, "policy") || strings.Contains(lower, "blocked") {
			parts = append(parts, "⚠️ Action blocked: "+errText)
		} else {
			parts = append(parts, fmt.Sprintf("❌ %s failed: %s", tool.Name, errText))
		}
	}

	for _, tool := range executed {
		if !tool.Result.OK {
			continue
		}
		data := tool.Result.DataMap()
		if data == nil {
			continue
		}

		switch tool.Name {
		case "purchase_product":
			if truthy(data["success"]) {
				order, _ := data["order"].(map[string]any)
				product, _ := order["product"].(map[string]any)
				parts = append(parts, fmt.Sprintf("✅ Purchased **%s** for **%s USDC** from %s",
					fieldOr(product, "name", "item"),
					fieldOr(product, "price", "?"),
					fieldOr(order, "vendor", "vendor")))
			} else if truthy(data["paymentMade"]) {
				parts = append(parts, fmt.Sprintf("✅ Payment of %s USDC completed",
					fieldOr(data, "paymentAmount", "?")))
			}
		case "get_treasury_balance":
			amount := data["amount"]
			if amount == nil {
				amount = data["available"]
			}
			if truthy(amount) {
				parts = append(parts, fmt.Sprintf("💰 Balance: **%v USDC**", amount))
			}
		case "list_vendors":
			if vendors, ok := data["vendors"].([]any); ok && len(vendors) > 0 {
				parts = append(parts, fmt.Sprintf("📋 Found %d vendors available", len(vendors)))
			}
		case "create_policy":
			parts = append(parts, "✅ Policy created: "+policyNameFromData(data))
		case "delete_policy":
			parts = append(parts, "✅ Policy deleted successfully")
		case "update_policy":
			parts = append(parts, "✅ Policy updated: "+policyNameFromData(data))
		}
	}

	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}

	names := make([]string, 0, len(executed))
	for _, tool := range executed {
		names = append(names, tool.Name)
	}
	return fmt.Sprintf("Completed: %s. Expand '🔧 tools executed' for details.", strings.Join(names, ", "))
}

func policyNameFromData(data map[string]any) string {
	if name, ok := data["name"].(string); ok && name != "" {
		return name
	}
	switch p := data["policy"].(type) {
	case policy.Policy:
		if p.Name != "" {
			return p.Name
		}
	case map[string]any:
		if name, ok := p["name"].(string); ok && name != "" {
			return name
		}
	}
	return "unnamed"
}

func fieldOr(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if v, ok := m[key]; ok && v != nil {
		s := fmt.Sprintf("%v", v)
		if s != "" {
			return s
		}
	}
	return fallback
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
