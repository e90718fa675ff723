package policy

import "fmt"

// Rule types understood by the validator. Unknown types are preserved on the
// policy but not enforced.
const (
	RuleMaxPerTransaction = "maxPerTransaction"
	RuleDailyLimit        = "dailyLimit"
	RuleMonthlyBudget     = "monthlyBudget"
	RuleVendorWhitelist   = "vendorWhitelist"
	RuleCategoryLimit     = "categoryLimit"
)

// Rule is one constraint inside a spending policy.
type Rule struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Policy is a named set of spending rules constraining payment execution.
type Policy struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Rules       []Rule `json:"rules"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// Draft is an unconfirmed policy parsed from chat text. It lives in the
// per-chat pending slot until confirmed or superseded.
type Draft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rules       []Rule `json:"rules"`
}

// DescribeRule renders a rule for confirmation prompts.
func DescribeRule(r Rule) string {
	param := func(key string) any {
		if r.Params == nil {
			return "?"
		}
		if v, ok := r.Params[key]; ok {
			return v
		}
		return "?"
	}
	switch r.Type {
	case RuleMaxPerTransaction:
		return fmt.Sprintf("max per transaction %v USDC", param("max"))
	case RuleDailyLimit:
		return fmt.Sprintf("daily limit %v USDC", param("limit"))
	case RuleMonthlyBudget:
		return fmt.Sprintf("monthly budget %v USDC", param("budget"))
	default:
		return "custom rules"
	}
}

func ruleParamNumber(r Rule, key string) (float64, bool) {
	if r.Params == nil {
		return 0, false
	}
	switch v := r.Params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
