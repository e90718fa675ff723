package policy

import (
	"reflect"
	"testing"
)

func TestExtractDraftRoundTrip(t *testing.T) {
	t.Parallel()

	draft, ok := ExtractDraft("Create a spending policy, name is Lunch Money, max per transaction is $5")
	if !ok {
		t.Fatal("expected a draft")
	}
	if draft.Name != "lunch money" {
		t.Fatalf("name=%q, want %q", draft.Name, "lunch money")
	}
	want := []Rule{{Type: RuleMaxPerTransaction, Params: map[string]any{"max": 5.0}}}
	if !reflect.DeepEqual(draft.Rules, want) {
		t.Fatalf("rules=%v, want %v", draft.Rules, want)
	}
}

func TestExtractDraftClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		text     string
		ruleType string
		paramKey string
	}{
		{"daily", "policy name is groceries, daily limit is $20", RuleDailyLimit, "limit"},
		{"monthly", "spending policy name is ops, monthly budget max $100", RuleMonthlyBudget, "budget"},
		{"default_max", "policy name is small buys, limit $2", RuleMaxPerTransaction, "max"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			draft, ok := ExtractDraft(tc.text)
			if !ok {
				t.Fatalf("no draft from %q", tc.text)
			}
			if len(draft.Rules) != 1 || draft.Rules[0].Type != tc.ruleType {
				t.Fatalf("rules=%v, want single %s", draft.Rules, tc.ruleType)
			}
			if _, ok := draft.Rules[0].Params[tc.paramKey]; !ok {
				t.Fatalf("params=%v, missing %q", draft.Rules[0].Params, tc.paramKey)
			}
		})
	}
}

func TestExtractDraftRequiresNameAndAmount(t *testing.T) {
	t.Parallel()

	cases := []string{
		"please create a spending policy",              // no name, no amount
		"policy name is savings",                       // no amount
		"set a spending limit of $10",                  // no name
		"the weather is nice today, maximum sunshine",  // no policy token at all
	}
	for _, text := range cases {
		if _, ok := ExtractDraft(text); ok {
			t.Fatalf("unexpected draft from %q", text)
		}
	}
}

func TestIsConfirmation(t *testing.T) {
	t.Parallel()

	yes := []string{"yes", "Yes please", "OK", "okay then", "go ahead", "make it so", "confirm", "Approved!"}
	for _, text := range yes {
		if !IsConfirmation(text) {
			t.Fatalf("IsConfirmation(%q)=false, want true", text)
		}
	}
	no := []string{"no", "cancel that", "what does this policy do?"}
	for _, text := range no {
		if IsConfirmation(text) {
			t.Fatalf("IsConfirmation(%q)=true, want false", text)
		}
	}
}

func TestExtractFromContextMultiRule(t *testing.T) {
	t.Parallel()

	text := "Policy name: Team Spend\n" +
		"max per transaction 3\n" +
		"daily limit is 8\n" +
		"monthly budget of 50\n"
	draft, ok := ExtractFromContext(text)
	if !ok {
		t.Fatal("expected draft")
	}
	if draft.Name != "Team Spend" {
		t.Fatalf("name=%q", draft.Name)
	}
	types := make([]string, 0, len(draft.Rules))
	for _, r := range draft.Rules {
		types = append(types, r.Type)
	}
	want := []string{RuleMaxPerTransaction, RuleDailyLimit, RuleMonthlyBudget}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("rule types=%v, want %v", types, want)
	}
}

func TestExtractFromContextFallbackSingleLimit(t *testing.T) {
	t.Parallel()

	draft, ok := ExtractFromContext("keep my spend under a limit of 7 please")
	if !ok {
		t.Fatal("expected fallback draft")
	}
	if draft.Name != "Custom Spending Policy" {
		t.Fatalf("name=%q, want default", draft.Name)
	}
	if len(draft.Rules) != 1 || draft.Rules[0].Type != RuleMaxPerTransaction {
		t.Fatalf("rules=%v", draft.Rules)
	}
}

func TestDescribeRule(t *testing.T) {
	t.Parallel()

	got := DescribeRule(Rule{Type: RuleMaxPerTransaction, Params: map[string]any{"max": 5.0}})
	if got != "max per transaction 5 USDC" {
		t.Fatalf("describe=%q", got)
	}
	if DescribeRule(Rule{Type: "vendorWhitelist"}) != "custom rules" {
		t.Fatal("unknown rule should describe as custom rules")
	}
}
