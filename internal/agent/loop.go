package agent

import (
	"context"

	"google.golang.org/genai"

	"github.com/autowealth/treasury-agent/internal/backend"
)

// ExecutedTool records one dispatched call for message metadata and
// fallback rendering.
type ExecutedTool struct {
	Name   string          `json:"name"`
	Args   map[string]any  `json:"args"`
	Result backend.Outcome `json:"result"`
}

type loopState int

const (
	stateAwaitingModel loopState = iota
	stateExecutingTools
	stateDone
)

// loopHooks lets the streaming adapter observe the loop as it runs. Nil
// fields are skipped; the non-streaming path passes the zero value.
type loopHooks struct {
	onThought    func(text string)
	onToolCall   func(name string, args map[string]any)
	onToolResult func(name string, result backend.Outcome)
}

type loopResult struct {
	last     *genai.GenerateContentResponse
	executed []ExecutedTool
	contents []*genai.Content
}

// runToolLoop drives the model/tool conversation until the model stops
// requesting calls or the step budget runs out. On exhaustion the last
// model response is returned as-is; the synthesizer degrades from there.
func runToolLoop(
	ctx context.Context,
	provider Provider,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
	registry *Registry,
	userID string,
	maxSteps int,
	hooks loopHooks,
) (loopResult, error) {
	res := loopResult{contents: contents}
	state := stateAwaitingModel

	for step := 0; step < maxSteps && state != stateDone; step++ {
		state = stateAwaitingModel

		resp, err := provider.Generate(ctx, model, res.contents, cfg)
		if err != nil {
			return res, err
		}
		res.last = resp

		if len(resp.Candidates) == 0 {
			state = stateDone
			break
		}
		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			state = stateDone
			break
		}

		if hooks.onThought != nil {
			for _, part := range candidate.Content.Parts {
				if part.Thought && part.Text != "" {
					hooks.onThought(part.Text)
				}
			}
		}

		var calls []*genai.FunctionCall
		for _, part := range candidate.Content.Parts {
			if part.FunctionCall != nil {
				calls = append(calls, part.FunctionCall)
			}
		}
		if len(calls) == 0 {
			state = stateDone
			break
		}

		res.contents = append(res.contents, candidate.Content)

		state = stateExecutingTools
		toolParts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			args := normalizeArgs(call.Args)
			if hooks.onToolCall != nil {
				hooks.onToolCall(call.Name, args)
			}
			result := registry.Dispatch(ctx, call.Name, args, userID)
			res.executed = append(res.executed, ExecutedTool{Name: call.Name, Args: args, Result: result})
			if hooks.onToolResult != nil {
				hooks.onToolResult(call.Name, result)
			}
			toolParts = append(toolParts, genai.NewPartFromFunctionResponse(call.Name, result.AsMap()))
		}
		// Each result goes back as its own synthetic tool turn so the order
		// of calls and responses stays aligned.
		for _, part := range toolParts {
			res.contents = append(res.contents, &genai.Content{
				Role:  "tool",
				Parts: []*genai.Part{part},
			})
		}
	}

	return res, nil
}
