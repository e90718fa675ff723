package agent

import (
	"strings"

	"github.com/autowealth/treasury-agent/internal/backend"
	"github.com/autowealth/treasury-agent/internal/store"
)

// Event is one streaming frame. Type is one of ack, tool_call,
// tool_result, thought, delta, done, error; the other fields are populated
// per type.
type Event struct {
	Type    string           `json:"type"`
	Message *store.Message   `json:"message,omitempty"`
	Text    string           `json:"text,omitempty"`
	Name    string           `json:"name,omitempty"`
	Args    map[string]any   `json:"args,omitempty"`
	Result  *backend.Outcome `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// EventSink receives streaming events in order. The HTTP layer implements
// it over SSE; tests implement it over a slice.
type EventSink interface {
	Send(Event) error
}

var planPrefixes = []string{"plan:", "thought:", "reasoning:", "analysis:"}

// planFilter decides, from the first few characters of a streamed reply,
// whether the whole reply is planning monologue. Classification is sticky:
// once a stream is plan-mode every later chunk goes to the plan buffer.
type planFilter struct {
	pending  string
	plan     strings.Builder
	decided  bool
	planMode bool
}

// feed consumes one chunk and returns the text that may be shown now.
func (f *planFilter) feed(text string) string {
	if f.decided {
		if f.planMode {
			f.plan.WriteString(text)
			return ""
		}
		return text
	}

	f.pending += text
	if len(f.pending) < 6 && !strings.Contains(f.pending, "\n") {
		return ""
	}

	f.decided = true
	trimmed := strings.ToLower(strings.TrimLeft(f.pending, " \t\r\n"))
	for _, prefix := range planPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			f.planMode = true
			break
		}
	}

	buffered := f.pending
	f.pending = ""
	if f.planMode {
		f.plan.WriteString(buffered)
		return ""
	}
	return buffered
}

// flush ends the stream: it returns any text still held back (only when
// the stream ended before classification) and the captured plan text.
func (f *planFilter) flush() (visible, plan string) {
	if !f.decided {
		visible = f.pending
		f.pending = ""
		return visible, ""
	}
	if f.planMode {
		return "", strings.TrimSpace(f.plan.String())
	}
	return "", ""
}
