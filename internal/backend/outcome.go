package backend

import "fmt"

// Outcome is the uniform envelope returned by every tool handler and by the
// backend gateway. Exactly one of Data/Error is meaningful depending on OK.
// Errors never cross this boundary as Go errors; they are folded into the
// envelope so the model can read them as a tool response.
type Outcome struct {
	OK     bool `json:"ok"`
	Data   any  `json:"data,omitempty"`
	Error  any  `json:"error,omitempty"`
	Status int  `json:"status,omitempty"`

	// PolicyBlocked distinguishes a policy denial from a generic tool
	// failure so the synthesizer can render a "blocked" message.
	PolicyBlocked bool   `json:"policyBlocked,omitempty"`
	BlockedBy     string `json:"blockedBy,omitempty"`
}

func Ok(data any) Outcome {
	return Outcome{OK: true, Data: data}
}

func Fail(err any) Outcome {
	return Outcome{OK: false, Error: err}
}

func Failf(format string, args ...any) Outcome {
	return Outcome{OK: false, Error: fmt.Sprintf(format, args...)}
}

// Blocked builds a policy-denied outcome.
func Blocked(reason string, blockedBy string) Outcome {
	return Outcome{
		OK:            false,
		Error:         "Policy blocked: " + reason,
		PolicyBlocked: true,
		BlockedBy:     blockedBy,
	}
}

// AsMap renders the envelope as the map shape sent back to the model in a
// function response turn.
func (o Outcome) AsMap() map[string]any {
	m := map[string]any{"ok": o.OK}
	if o.Data != nil {
		m["data"] = o.Data
	}
	if o.Error != nil {
		m["error"] = o.Error
	}
	if o.Status != 0 {
		m["status"] = o.Status
	}
	if o.PolicyBlocked {
		m["policyBlocked"] = true
	}
	if o.BlockedBy != "" {
		m["blockedBy"] = o.BlockedBy
	}
	return m
}

// DataMap returns Data as a map when it is one, else nil.
func (o Outcome) DataMap() map[string]any {
	if m, ok := o.Data.(map[string]any); ok {
		return m
	}
	return nil
}

// ErrorText renders Error as a readable string.
func (o Outcome) ErrorText() string {
	switch v := o.Error.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
