package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/autowealth/treasury-agent/internal/auditlog"
	"github.com/autowealth/treasury-agent/internal/backend"
	"github.com/autowealth/treasury-agent/internal/policy"
	"github.com/autowealth/treasury-agent/internal/store"
)

// PolicyStore is the slice of the persistence layer the registry writes
// through. Satisfied by *store.Store.
type PolicyStore interface {
	ListPolicies(ctx context.Context, userID string) ([]policy.Policy, error)
	InsertPolicy(ctx context.Context, p policy.Policy) error
	UpdatePolicy(ctx context.Context, policyID, userID string, upd store.PolicyUpdate) (policy.Policy, bool, error)
	DeletePolicy(ctx context.Context, policyID, userID string) (bool, error)
	InsertTransaction(ctx context.Context, t store.Transaction) (int64, error)
}

// Handler executes one tool call on behalf of a user and folds the result
// into the uniform Outcome envelope. Handlers never return Go errors.
type Handler func(ctx context.Context, args map[string]any, userID string) backend.Outcome

// Registry maps tool names to handlers. Every name declared to the model
// has a handler here; dispatching an undeclared name yields a structured
// failure for the model to read.
type Registry struct {
	log       *slog.Logger
	backend   *backend.Client
	store     PolicyStore
	validator *policy.Validator
	audit     *auditlog.Store

	handlers map[string]Handler
}

type RegistryOptions struct {
	Logger    *slog.Logger
	Backend   *backend.Client
	Store     PolicyStore
	Validator *policy.Validator
	Audit     *auditlog.Store
}

func NewRegistry(opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		log:       logger,
		backend:   opts.Backend,
		store:     opts.Store,
		validator: opts.Validator,
		audit:     opts.Audit,
	}
	r.handlers = map[string]Handler{
		"get_treasury_balance":   r.getTreasuryBalance,
		"get_treasury_history":   r.getTreasuryHistory,
		"get_wallet":             r.getWallet,
		"get_spending_analytics": r.getSpendingAnalytics,
		"list_policies":          r.listPolicies,
		"create_policy":          r.createPolicy,
		"create_spending_policy": r.createPolicy,
		"update_policy":          r.updatePolicy,
		"update_spending_policy": r.updatePolicy,
		"delete_policy":          r.deletePolicy,
		"delete_spending_policy": r.deletePolicy,
		"validate_payment":       r.validatePayment,
		"execute_payment":        r.executePayment,
		"x402_fetch":             r.x402Fetch,
		"get_x402_status":        r.x402Status,
		"list_vendors":           r.listVendors,
		"search_products":        r.searchProducts,
		"get_vendor":             r.getVendor,
		"list_vendor_products":   r.listVendorProducts,
		"get_product":            r.getProduct,
		"purchase_product":       r.purchaseProduct,
		"list_orders":            r.listOrders,
	}
	return r
}

// Dispatch runs the named tool. Unknown names are reported to the model,
// not treated as server errors.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any, userID string) backend.Outcome {
	handler, ok := r.handlers[name]
	if !ok {
		return backend.Failf("Unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	result := handler(ctx, args, userID)
	if r.audit != nil {
		r.audit.ToolCall(userID, "", name, result.OK, result.ErrorText())
	}
	return result
}

// normalizeArgs coerces whatever the model produced for arguments into a
// map. Unparseable values are preserved under "_raw" so nothing is lost.
func normalizeArgs(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			return parsed
		}
		return map[string]any{"_raw": v}
	default:
		return map[string]any{"_raw": fmt.Sprintf("%v", v)}
	}
}

func (r *Registry) getTreasuryBalance(ctx context.Context, _ map[string]any, userID string) backend.Outcome {
	return r.backend.Call(ctx, "GET", "/api/treasury/balance", nil, nil, nil, userID)
}

func (r *Registry) getTreasuryHistory(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	params := map[string]any{}
	if v, ok := args["limit"]; ok {
		params["limit"] = v
	}
	if v, ok := args["offset"]; ok {
		params["offset"] = v
	}
	return r.backend.Call(ctx, "GET", "/api/treasury/history", params, nil, nil, userID)
}

func (r *Registry) getWallet(ctx context.Context, _ map[string]any, userID string) backend.Outcome {
	return r.backend.Call(ctx, "GET", "/api/treasury/wallet", nil, nil, nil, userID)
}

func (r *Registry) getSpendingAnalytics(ctx context.Context, _ map[string]any, userID string) backend.Outcome {
	return r.backend.Call(ctx, "GET", "/api/treasury/analytics", nil, nil, nil, userID)
}

func (r *Registry) listPolicies(ctx context.Context, _ map[string]any, userID string) backend.Outcome {
	if r.store != nil && strings.TrimSpace(userID) != "" {
		policies, err := r.store.ListPolicies(ctx, userID)
		if err == nil {
			return backend.Ok(map[string]any{"policies": policies})
		}
		r.log.Warn("policy store list failed, falling back to backend", "error", err)
	}
	return r.backend.Call(ctx, "GET", "/api/policy", nil, nil, nil, userID)
}

func (r *Registry) createPolicy(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	name := argString(args, "name")
	rules := rulesFromArgs(args["rules"])
	if name == "" || len(rules) == 0 {
		return backend.Fail("name and rules are required")
	}

	if r.store != nil && strings.TrimSpace(userID) != "" {
		now := time.Now().UTC().Format(time.RFC3339)
		p := policy.Policy{
			ID:          "pol_" + uuid.NewString(),
			UserID:      userID,
			Name:        name,
			Description: argString(args, "description"),
			Enabled:     true,
			Rules:       rules,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := r.store.InsertPolicy(ctx, p)
		if err == nil {
			return backend.Ok(map[string]any{"policy": p})
		}
		r.log.Warn("policy store insert failed, falling back to backend", "error", err)
	}

	payload := map[string]any{
		"name":        name,
		"description": argString(args, "description"),
		"rules":       args["rules"],
	}
	return r.backend.Call(ctx, "POST", "/api/policy", nil, payload, nil, userID)
}

func (r *Registry) updatePolicy(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	policyID := argString(args, "policy_id")
	if policyID == "" {
		return backend.Fail("policy_id is required")
	}

	if r.store != nil && strings.TrimSpace(userID) != "" {
		upd := store.PolicyUpdate{UpdatedAt: time.Now().UTC().Format(time.RFC3339)}
		if v, ok := args["name"].(string); ok {
			upd.Name = &v
		}
		if v, ok := args["description"].(string); ok {
			upd.Description = &v
		}
		if v, ok := args["enabled"].(bool); ok {
			upd.Enabled = &v
		}
		if _, ok := args["rules"]; ok {
			upd.Rules = rulesFromArgs(args["rules"])
		}
		p, found, err := r.store.UpdatePolicy(ctx, policyID, userID, upd)
		if err == nil && found {
			return backend.Ok(map[string]any{"policy": p})
		}
		if err != nil {
			r.log.Warn("policy store update failed, falling back to backend", "error", err)
		}
	}

	payload := map[string]any{
		"name":        args["name"],
		"description": args["description"],
		"enabled":     args["enabled"],
		"rules":       args["rules"],
	}
	return r.backend.Call(ctx, "PUT", "/api/policy/"+policyID, nil, payload, nil, userID)
}

func (r *Registry) deletePolicy(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	policyID := argString(args, "policy_id")
	if policyID == "" {
		return backend.Fail("policy_id is required")
	}
	if r.store != nil && strings.TrimSpace(userID) != "" {
		deleted, err := r.store.DeletePolicy(ctx, policyID, userID)
		if err == nil && deleted {
			return backend.Ok(map[string]any{"deleted": true})
		}
		if err != nil {
			r.log.Warn("policy store delete failed, falling back to backend", "error", err)
		}
	}
	return r.backend.Call(ctx, "DELETE", "/api/policy/"+policyID, nil, nil, nil, userID)
}

func (r *Registry) validatePayment(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	amount := argString(args, "amount")
	recipient := argString(args, "recipient")
	if amount == "" || recipient == "" {
		return backend.Fail("amount and recipient are required")
	}
	payload := map[string]any{
		"amount":      amount,
		"recipient":   recipient,
		"category":    args["category"],
		"description": args["description"],
	}
	return r.backend.Call(ctx, "POST", "/api/policy/validate", nil, payload, nil, userID)
}

func (r *Registry) executePayment(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	recipient := argString(args, "recipient")
	amount := argString(args, "amount")
	if recipient == "" || amount == "" {
		return backend.Fail("recipient and amount are required")
	}
	payload := map[string]any{
		"recipient":   recipient,
		"amount":      amount,
		"category":    args["category"],
		"description": args["description"],
		"metadata":    args["metadata"],
	}
	return r.backend.Call(ctx, "POST", "/api/payments/execute", nil, payload, nil, userID)
}

func (r *Registry) x402Fetch(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	url := argString(args, "url")
	if url == "" {
		return backend.Fail("url is required")
	}
	method := argString(args, "method")
	if method == "" {
		method = "GET"
	}
	payload := map[string]any{
		"url":      url,
		"method":   method,
		"body":     args["body"],
		"headers":  args["headers"],
		"category": args["category"],
	}
	return r.backend.Call(ctx, "POST", "/api/payments/x402/fetch", nil, payload, nil, userID)
}

func (r *Registry) x402Status(ctx context.Context, _ map[string]any, userID string) backend.Outcome {
	return r.backend.Call(ctx, "GET", "/api/payments/x402/status", nil, nil, nil, userID)
}

func (r *Registry) listVendors(ctx context.Context, _ map[string]any, userID string) backend.Outcome {
	return r.backend.Call(ctx, "GET", "/api/vendors", nil, nil, nil, userID)
}

func (r *Registry) searchProducts(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	query := argString(args, "query")
	if query == "" {
		return backend.Fail("query is required")
	}
	return r.backend.Call(ctx, "GET", "/api/vendors/search", map[string]any{"q": query}, nil, nil, userID)
}

func (r *Registry) getVendor(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	vendorID := argString(args, "vendor_id")
	if vendorID == "" {
		return backend.Fail("vendor_id is required")
	}
	return r.backend.Call(ctx, "GET", "/api/vendors/"+vendorID, nil, nil, nil, userID)
}

func (r *Registry) listVendorProducts(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	vendorID := argString(args, "vendor_id")
	if vendorID == "" {
		return backend.Fail("vendor_id is required")
	}
	return r.backend.Call(ctx, "GET", "/api/vendors/"+vendorID+"/products", nil, nil, nil, userID)
}

func (r *Registry) getProduct(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	vendorID := argString(args, "vendor_id")
	productID := argString(args, "product_id")
	if vendorID == "" || productID == "" {
		return backend.Fail("vendor_id and product_id are required")
	}
	return r.backend.Call(ctx, "GET", "/api/vendors/"+vendorID+"/products/"+productID, nil, nil, nil, userID)
}

// purchaseProduct is the only money-moving path the model can trigger
// directly. Order of operations is fixed: resolve the product and price,
// validate against policies, pay via x402, then record the transaction
// whether or not the payment went through.
func (r *Registry) purchaseProduct(ctx context.Context, args map[string]any, userID string) backend.Outcome {
	vendorID := argString(args, "vendor_id")
	productID := argString(args, "product_id")
	if vendorID == "" || productID == "" {
		return backend.Fail("vendor_id and product_id are required")
	}
	category := argString(args, "category")
	if category == "" {
		category = "vendor-purchase"
	}

	productResult := r.backend.Call(ctx, "GET", "/api/vendors/"+vendorID+"/products/"+productID, nil, nil, nil, userID)
	if !productResult.OK {
		return backend.Fail("Could not fetch product details")
	}
	productData := productResult.DataMap()
	price := numberField(productData, "price")
	productName := stringField(productData, "name")
	if productName == "" {
		productName = "Unknown Product"
	}

	vendorResult := r.backend.Call(ctx, "GET", "/api/vendors/"+vendorID, nil, nil, nil, userID)
	vendorName := "Unknown Vendor"
	if vendorResult.OK {
		if n := stringField(vendorResult.DataMap(), "name"); n != "" {
			vendorName = n
		}
	}

	if price > 0 && r.validator != nil {
		decision := r.validator.ValidatePurchase(ctx, userID, price, category)
		if !decision.Approved {
			r.log.Info("purchase blocked by policy",
				"user_id", userID, "price", price, "blocked_by", decision.BlockedBy)
			return backend.Blocked(decision.Reason, decision.BlockedBy)
		}
	}

	purchaseURL := r.backend.BaseURL() + "/api/vendors/" + vendorID + "/purchase/" + productID
	payload := map[string]any{
		"url":      purchaseURL,
		"method":   "POST",
		"category": category,
	}
	result := r.backend.Call(ctx, "POST", "/api/payments/x402/fetch", nil, payload, nil, userID)

	if r.store != nil && strings.TrimSpace(userID) != "" {
		status := "failed"
		var policyResult map[string]any
		if result.OK {
			status = "confirmed"
			policyResult = map[string]any{"approved": true, "appliedPolicies": []any{}}
		}
		data := result.DataMap()
		orderID := stringField(data, "orderId")
		if orderID == "" {
			orderID = stringField(data, "order_id")
		}
		if _, err := r.store.InsertTransaction(ctx, store.Transaction{
			UserID:       userID,
			Amount:       price,
			ToAddress:    vendorID,
			Currency:     "USDC",
			Status:       status,
			Category:     category,
			Description:  fmt.Sprintf("Purchase: %s from %s", productName, vendorName),
			VendorName:   vendorName,
			ProductName:  productName,
			OrderID:      orderID,
			PolicyResult: policyResult,
		}); err != nil {
			r.log.Warn("transaction record failed", "error", err)
		}
	}

	return result
}

func (r *Registry) listOrders(ctx context.Context, _ map[string]any, userID string) backend.Outcome {
	return r.backend.Call(ctx, "GET", "/api/vendors/orders/all", nil, nil, nil, userID)
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func numberField(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f
		}
	}
	return 0
}

func rulesFromArgs(raw any) []policy.Rule {
	if raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var rules []policy.Rule
	if err := json.Unmarshal(b, &rules); err != nil {
		return nil
	}
	out := rules[:0]
	for _, rule := range rules {
		if strings.TrimSpace(rule.Type) != "" {
			out = append(out, rule)
		}
	}
	return out
}
