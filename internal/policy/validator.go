package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// HardMaxPerTransaction is the absolute per-purchase ceiling in USDC. It is a
// non-overridable circuit breaker applied regardless of configured policies.
const HardMaxPerTransaction = 10.0

const hardLimitName = "System Safety Limit"

// Store is the persistence surface the validator needs: the user's enabled
// policies and their historical spend for window rules.
type Store interface {
	ListEnabledPolicies(ctx context.Context, userID string) ([]Policy, error)
	SumTransactions(ctx context.Context, userID string, since time.Time) (float64, error)
}

// Observer receives every purchase decision for audit. This is a
// money-movement path; console logging alone is not enough.
type Observer interface {
	PolicyDecision(ctx context.Context, d Decision, userID string, amount float64, category string)
}

// Decision is the outcome of validating a prospective payment.
type Decision struct {
	Approved        bool     `json:"approved"`
	Reason          string   `json:"reason,omitempty"`
	BlockedBy       string   `json:"blockedBy,omitempty"`
	AppliedPolicies []string `json:"appliedPolicies,omitempty"`
}

// Validator evaluates spending policies ahead of payment execution.
//
// The decision fails closed: when policies cannot be read, or the actor has
// no identity, the purchase is blocked. "Unable to validate" must never mean
// "allow".
type Validator struct {
	log      *slog.Logger
	store    Store
	observer Observer
	now      func() time.Time
}

type ValidatorOptions struct {
	Logger   *slog.Logger
	Store    Store
	Observer Observer
}

func NewValidator(opts ValidatorOptions) *Validator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		log:      logger,
		store:    opts.Store,
		observer: opts.Observer,
		now:      time.Now,
	}
}

// ValidatePurchase runs the two-tier check: the user's enabled policies
// (soft) and the hard ceiling. Both must pass. Zero-amount purchases skip
// validation entirely.
func (v *Validator) ValidatePurchase(ctx context.Context, userID string, amount float64, category string) Decision {
	if amount <= 0 {
		return v.emit(ctx, Decision{Approved: true, Reason: "No charge"}, userID, amount, category)
	}

	soft := v.softCheck(ctx, userID, amount)
	if !soft.Approved {
		return v.emit(ctx, soft, userID, amount, category)
	}

	if amount > HardMaxPerTransaction {
		return v.emit(ctx, Decision{
			Approved:  false,
			Reason:    fmt.Sprintf("Amount $%.2f exceeds hard limit of $%.2f", amount, HardMaxPerTransaction),
			BlockedBy: hardLimitName,
		}, userID, amount, category)
	}

	return v.emit(ctx, soft, userID, amount, category)
}

func (v *Validator) softCheck(ctx context.Context, userID string, amount float64) Decision {
	if strings.TrimSpace(userID) == "" {
		return Decision{Approved: false, Reason: "User ID required for policy validation"}
	}
	if v.store == nil {
		return Decision{Approved: false, Reason: "Policy system unavailable - transaction blocked for safety"}
	}

	policies, err := v.store.ListEnabledPolicies(ctx, userID)
	if err != nil {
		v.log.Warn("policy fetch failed, blocking", "user_id", userID, "error", err)
		return Decision{Approved: false, Reason: fmt.Sprintf("Could not fetch policies: %v", err)}
	}
	if len(policies) == 0 {
		return Decision{Approved: true, Reason: "No active policies"}
	}

	applied := make([]string, 0, len(policies))
	for _, p := range policies {
		name := p.Name
		if strings.TrimSpace(name) == "" {
			name = "Unnamed Policy"
		}
		for _, rule := range p.Rules {
			if blocked, reason := v.checkRule(ctx, userID, amount, rule); blocked {
				return Decision{
					Approved:        false,
					Reason:          reason,
					BlockedBy:       name,
					AppliedPolicies: []string{name},
				}
			}
		}
		applied = append(applied, name)
	}
	return Decision{Approved: true, Reason: "All policies passed", AppliedPolicies: applied}
}

func (v *Validator) checkRule(ctx context.Context, userID string, amount float64, rule Rule) (bool, string) {
	switch rule.Type {
	case RuleMaxPerTransaction:
		max, ok := ruleParamNumber(rule, "max")
		if !ok {
			return false, ""
		}
		if amount > max {
			return true, fmt.Sprintf("Amount $%.2f exceeds max per transaction limit of $%.2f", amount, max)
		}
	case RuleDailyLimit:
		limit, ok := ruleParamNumber(rule, "limit")
		if !ok {
			return false, ""
		}
		return v.checkWindow(ctx, userID, amount, limit, startOfDay(v.now().UTC()), "daily limit")
	case RuleMonthlyBudget:
		budget, ok := ruleParamNumber(rule, "budget")
		if !ok {
			return false, ""
		}
		return v.checkWindow(ctx, userID, amount, budget, startOfMonth(v.now().UTC()), "monthly budget")
	default:
		// vendorWhitelist, categoryLimit and unknown types are accepted
		// but not enforced here.
	}
	return false, ""
}

func (v *Validator) checkWindow(ctx context.Context, userID string, amount, limit float64, since time.Time, label string) (bool, string) {
	spent, err := v.store.SumTransactions(ctx, userID, since)
	if err != nil {
		// Fail closed on an unreadable aggregate too.
		v.log.Warn("spend aggregation failed, blocking", "user_id", userID, "error", err)
		return true, fmt.Sprintf("Could not compute %s spend: %v", label, err)
	}
	if spent+amount > limit {
		return true, fmt.Sprintf("Amount $%.2f plus $%.2f already spent exceeds %s of $%.2f", amount, spent, label, limit)
	}
	return false, ""
}

func (v *Validator) emit(ctx context.Context, d Decision, userID string, amount float64, category string) Decision {
	if v.observer != nil {
		v.observer.PolicyDecision(ctx, d, userID, amount, category)
	}
	if d.Approved {
		v.log.Info("purchase approved", "user_id", userID, "amount", amount, "reason", d.Reason)
	} else {
		v.log.Info("purchase blocked", "user_id", userID, "amount", amount, "blocked_by", d.BlockedBy, "reason", d.Reason)
	}
	return d
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
