package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Pure-text heuristics for recognizing an implicit "create a spending policy"
// request and its confirmation. These run before the model sees the message
// and let the service execute the action deterministically.

var (
	policyNameRe = regexp.MustCompile(`policy\s+name\s+is\s+([\w\s\-]+)`)
	bareNameRe   = regexp.MustCompile(`name\s+is\s+([\w\s\-]+)`)
	limitRe      = regexp.MustCompile(`(?:limit|max(?:imum)?)(?:\s+per\s+transaction)?\s*(?:is|=)?\s*\$?(\d+(?:\.\d+)?)`)
	numberRe     = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	lineNameRe   = regexp.MustCompile(`(?i)policy name\s*(?:is)?\s*(.+)$`)
	categoryRe   = regexp.MustCompile(`(?i)category\s*(?:is|:)\s*([a-z0-9 _-]+)`)
)

var confirmationPhrases = []string{
	"yes", "confirm", "approved", "approve", "make it",
	"do it", "go ahead", "create it", "ok", "okay",
}

var approvalPhrases = []string{
	"yes", "approve", "approved", "make it", "create it",
	"create", "apply", "do it", "go ahead",
}

// ExtractDraft parses a single user message for a policy draft. A draft
// needs both a name and an amount; anything less is not actionable.
func ExtractDraft(text string) (Draft, bool) {
	lowered := strings.ToLower(text)
	if !strings.Contains(lowered, "policy") && !strings.Contains(lowered, "spending") {
		return Draft{}, false
	}

	var name string
	if m := policyNameRe.FindStringSubmatch(lowered); m != nil {
		name = strings.TrimSpace(m[1])
	} else if m := bareNameRe.FindStringSubmatch(lowered); m != nil {
		name = strings.TrimSpace(m[1])
	}

	var amount float64
	haveAmount := false
	if m := limitRe.FindStringSubmatch(lowered); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			amount = f
			haveAmount = true
		}
	}

	if name == "" || !haveAmount {
		return Draft{}, false
	}

	var rule Rule
	switch {
	case strings.Contains(lowered, "daily") && strings.Contains(lowered, "limit"):
		rule = Rule{Type: RuleDailyLimit, Params: map[string]any{"limit": amount}}
	case strings.Contains(lowered, "monthly") && (strings.Contains(lowered, "budget") || strings.Contains(lowered, "limit")):
		rule = Rule{Type: RuleMonthlyBudget, Params: map[string]any{"budget": amount}}
	default:
		rule = Rule{Type: RuleMaxPerTransaction, Params: map[string]any{"max": amount}}
	}

	return Draft{
		Name:        name,
		Description: fmt.Sprintf("User requested policy via chat (%s).", rule.Type),
		Rules:       []Rule{rule},
	}, true
}

// IsConfirmation reports whether the message reads as a go-ahead. The phrase
// set is intentionally permissive; false positives on short affirmations are
// an accepted tradeoff.
func IsConfirmation(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range confirmationPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// ExplicitlyApproves is the stricter phrase set used by the fast-path that
// creates a policy straight from recent-context extraction.
func ExplicitlyApproves(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range approvalPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func parseNumber(text string) (float64, bool) {
	m := numberRe.FindStringSubmatch(strings.ReplaceAll(text, ",", ""))
	if m == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ExtractFromContext scans recent conversation text line by line and
// assembles a multi-rule draft. Used when the user approves a policy that was
// negotiated across several turns.
func ExtractFromContext(text string) (Draft, bool) {
	if strings.TrimSpace(text) == "" {
		return Draft{}, false
	}

	var (
		name          string
		rules         []Rule
		categoryName  string
		categoryLimit float64
		haveCatLimit  bool
	)

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)

		if strings.Contains(lower, "policy name") || strings.HasPrefix(lower, "name:") {
			if idx := strings.Index(line, ":"); idx >= 0 {
				name = strings.TrimSpace(line[idx+1:])
			} else if m := lineNameRe.FindStringSubmatch(line); m != nil {
				name = strings.TrimSpace(m[1])
			}
		}
		if strings.Contains(lower, "max") && strings.Contains(lower, "transaction") {
			if amount, ok := parseNumber(line); ok {
				rules = append(rules, Rule{Type: RuleMaxPerTransaction, Params: map[string]any{"max": amount}})
			}
		}
		if strings.Contains(lower, "daily") && strings.Contains(lower, "limit") {
			if amount, ok := parseNumber(line); ok {
				rules = append(rules, Rule{Type: RuleDailyLimit, Params: map[string]any{"limit": amount}})
			}
		}
		if strings.Contains(lower, "monthly") && (strings.Contains(lower, "budget") || strings.Contains(lower, "limit")) {
			if amount, ok := parseNumber(line); ok {
				rules = append(rules, Rule{Type: RuleMonthlyBudget, Params: map[string]any{"budget": amount}})
			}
		}
		if strings.Contains(lower, "category") && (strings.Contains(lower, " is ") || strings.Contains(lower, ":")) {
			if m := categoryRe.FindStringSubmatch(line); m != nil {
				categoryName = strings.TrimSpace(m[1])
			}
		}
		if strings.Contains(lower, "category") && strings.Contains(lower, "limit") {
			if amount, ok := parseNumber(line); ok {
				categoryLimit = amount
				haveCatLimit = true
			}
		}
	}

	// A lone limit/max mention without a qualifier still counts as a per
	// transaction cap.
	if len(rules) == 0 {
		lower := strings.ToLower(text)
		if strings.Contains(lower, "limit") || strings.Contains(lower, "max") {
			if amount, ok := parseNumber(text); ok {
				rules = append(rules, Rule{Type: RuleMaxPerTransaction, Params: map[string]any{"max": amount}})
			}
		}
	}

	if categoryName != "" && haveCatLimit {
		rules = append(rules, Rule{Type: RuleCategoryLimit, Params: map[string]any{
			"limits": map[string]any{categoryName: categoryLimit},
		}})
	}

	if len(rules) == 0 {
		return Draft{}, false
	}

	if name == "" {
		name = "Custom Spending Policy"
	}
	return Draft{
		Name:        name,
		Description: "Created from chat approval.",
		Rules:       rules,
	}, true
}
