package policy

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeStore struct {
	policies []Policy
	listErr  error
	spent    float64
	sumErr   error
}

func (f *fakeStore) ListEnabledPolicies(_ context.Context, _ string) ([]Policy, error) {
	return f.policies, f.listErr
}

func (f *fakeStore) SumTransactions(_ context.Context, _ string, _ time.Time) (float64, error) {
	return f.spent, f.sumErr
}

type recordingObserver struct {
	decisions []Decision
}

func (r *recordingObserver) PolicyDecision(_ context.Context, d Decision, _ string, _ float64, _ string) {
	r.decisions = append(r.decisions, d)
}

func newTestValidator(store Store, obs Observer) *Validator {
	return NewValidator(ValidatorOptions{Store: store, Observer: obs})
}

func TestValidateFailsClosedWithoutIdentity(t *testing.T) {
	t.Parallel()

	v := newTestValidator(&fakeStore{}, nil)
	d := v.ValidatePurchase(context.Background(), "", 1.0, "")
	if d.Approved {
		t.Fatal("approved without user identity")
	}
}

func TestValidateFailsClosedWhenStoreUnreachable(t *testing.T) {
	t.Parallel()

	v := newTestValidator(&fakeStore{listErr: errors.New("db locked")}, nil)
	d := v.ValidatePurchase(context.Background(), "user_1", 0.5, "")
	if d.Approved {
		t.Fatal("approved while policies unreadable")
	}
	if !strings.Contains(d.Reason, "Could not fetch policies") {
		t.Fatalf("reason=%q", d.Reason)
	}
}

func TestValidateFailsClosedWithNilStore(t *testing.T) {
	t.Parallel()

	v := NewValidator(ValidatorOptions{})
	if d := v.ValidatePurchase(context.Background(), "user_1", 0.5, ""); d.Approved {
		t.Fatal("approved with no policy store configured")
	}
}

func TestValidateNoPoliciesApproves(t *testing.T) {
	t.Parallel()

	v := newTestValidator(&fakeStore{}, nil)
	d := v.ValidatePurchase(context.Background(), "user_1", 2.0, "")
	if !d.Approved {
		t.Fatalf("blocked: %+v", d)
	}
}

func TestValidateMaxPerTransactionBlocks(t *testing.T) {
	t.Parallel()

	store := &fakeStore{policies: []Policy{{
		Name:    "Small Buys",
		Enabled: true,
		Rules:   []Rule{{Type: RuleMaxPerTransaction, Params: map[string]any{"max": 1.5}}},
	}}}
	obs := &recordingObserver{}
	v := newTestValidator(store, obs)

	d := v.ValidatePurchase(context.Background(), "user_1", 2.0, "vendor-purchase")
	if d.Approved {
		t.Fatal("expected block")
	}
	if d.BlockedBy != "Small Buys" {
		t.Fatalf("blockedBy=%q", d.BlockedBy)
	}
	if len(obs.decisions) != 1 || obs.decisions[0].Approved {
		t.Fatalf("observer decisions=%v", obs.decisions)
	}

	if d := v.ValidatePurchase(context.Background(), "user_1", 1.0, ""); !d.Approved {
		t.Fatalf("amount under limit blocked: %+v", d)
	}
}

func TestValidateHardCeilingOverridesPolicies(t *testing.T) {
	t.Parallel()

	// A generous policy must not defeat the circuit breaker.
	store := &fakeStore{policies: []Policy{{
		Name:    "Big Spender",
		Enabled: true,
		Rules:   []Rule{{Type: RuleMaxPerTransaction, Params: map[string]any{"max": 1000.0}}},
	}}}
	v := newTestValidator(store, nil)

	d := v.ValidatePurchase(context.Background(), "user_1", HardMaxPerTransaction+0.01, "")
	if d.Approved {
		t.Fatal("hard ceiling not enforced")
	}
	if d.BlockedBy != hardLimitName {
		t.Fatalf("blockedBy=%q, want %q", d.BlockedBy, hardLimitName)
	}
}

func TestValidateDailyLimitAggregatesSpend(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		policies: []Policy{{
			Name:    "Daily Cap",
			Enabled: true,
			Rules:   []Rule{{Type: RuleDailyLimit, Params: map[string]any{"limit": 5.0}}},
		}},
		spent: 4.5,
	}
	v := newTestValidator(store, nil)

	if d := v.ValidatePurchase(context.Background(), "user_1", 1.0, ""); d.Approved {
		t.Fatalf("4.5 spent + 1.0 over 5.0 daily limit approved: %+v", d)
	}
	store.spent = 1.0
	if d := v.ValidatePurchase(context.Background(), "user_1", 1.0, ""); !d.Approved {
		t.Fatalf("under daily limit blocked: %+v", d)
	}
}

func TestValidateWindowAggregateErrorFailsClosed(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		policies: []Policy{{
			Name:    "Monthly Cap",
			Enabled: true,
			Rules:   []Rule{{Type: RuleMonthlyBudget, Params: map[string]any{"budget": 100.0}}},
		}},
		sumErr: errors.New("aggregate query failed"),
	}
	v := newTestValidator(store, nil)
	if d := v.ValidatePurchase(context.Background(), "user_1", 1.0, ""); d.Approved {
		t.Fatal("approved while spend aggregate unreadable")
	}
}

func TestValidateUnknownRuleTypesIgnored(t *testing.T) {
	t.Parallel()

	store := &fakeStore{policies: []Policy{{
		Name:    "Whitelist Only",
		Enabled: true,
		Rules:   []Rule{{Type: RuleVendorWhitelist, Params: map[string]any{"addresses": []any{"0xabc"}}}},
	}}}
	v := newTestValidator(store, nil)
	if d := v.ValidatePurchase(context.Background(), "user_1", 1.0, ""); !d.Approved {
		t.Fatalf("unenforced rule type blocked: %+v", d)
	}
}

func TestValidateZeroAmountSkipsChecks(t *testing.T) {
	t.Parallel()

	v := newTestValidator(&fakeStore{listErr: errors.New("down")}, nil)
	if d := v.ValidatePurchase(context.Background(), "user_1", 0, ""); !d.Approved {
		t.Fatalf("zero amount blocked: %+v", d)
	}
}
