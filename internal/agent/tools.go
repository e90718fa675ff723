package agent

import "google.golang.org/genai"

func objectSchema(properties map[string]*genai.Schema, required ...string) *genai.Schema {
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: properties,
		Required:   required,
	}
}

// functionTool declares every backend capability the model may call.
// Names and parameter shapes are part of the model contract; changing them
// changes what the model emits.
func functionTool() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "get_treasury_balance",
				Description: "Get the current USDC treasury balance.",
				Parameters:  objectSchema(map[string]*genai.Schema{}),
			},
			{
				Name:        "get_treasury_history",
				Description: "Get USDC transaction history from the treasury.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"limit":  {Type: genai.TypeInteger, Description: "Max transactions to return."},
					"offset": {Type: genai.TypeInteger, Description: "Pagination offset."},
				}),
			},
			{
				Name:        "get_wallet",
				Description: "Get the current Circle wallet details.",
				Parameters:  objectSchema(map[string]*genai.Schema{}),
			},
			{
				Name:        "get_spending_analytics",
				Description: "Get spending analytics for the treasury wallet.",
				Parameters:  objectSchema(map[string]*genai.Schema{}),
			},
			{
				Name:        "list_policies",
				Description: "List active spending policies.",
				Parameters:  objectSchema(map[string]*genai.Schema{}),
			},
			{
				Name: "create_policy",
				Description: "Create a new spending policy with rules. " +
					"Valid rule types are: " +
					"'maxPerTransaction' (params: {max: number}), " +
					"'dailyLimit' (params: {limit: number}), " +
					"'monthlyBudget' (params: {budget: number}), " +
					"'vendorWhitelist' (params: {addresses: string[]}), " +
					"'categoryLimit' (params: {limits: {category: number}}). " +
					"Each rule must have 'type' and 'params' fields.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"name":        {Type: genai.TypeString, Description: "Name of the policy"},
					"description": {Type: genai.TypeString, Description: "Description of what the policy does"},
					"rules": {
						Type:        genai.TypeArray,
						Description: "Array of rule objects. Each rule must have 'type' (string) and 'params' (object) fields.",
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"type":   {Type: genai.TypeString, Description: "One of: maxPerTransaction, dailyLimit, monthlyBudget, vendorWhitelist, categoryLimit"},
								"params": {Type: genai.TypeObject, Description: "Parameters for the rule (e.g., {max: 0.15} for maxPerTransaction)"},
							},
						},
					},
				}, "name", "rules"),
			},
			{
				Name: "create_spending_policy",
				Description: "Alias of create_policy. Create a new spending policy with rules. " +
					"Valid rule types are: maxPerTransaction, dailyLimit, monthlyBudget, vendorWhitelist, categoryLimit.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"name":        {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
					"rules": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeObject},
					},
				}, "name", "rules"),
			},
			{
				Name:        "update_policy",
				Description: "Update an existing spending policy.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"policy_id":   {Type: genai.TypeString},
					"name":        {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
					"enabled":     {Type: genai.TypeBoolean},
					"rules": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeObject},
					},
				}, "policy_id"),
			},
			{
				Name:        "update_spending_policy",
				Description: "Alias of update_policy. Update an existing spending policy.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"policy_id":   {Type: genai.TypeString},
					"name":        {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
					"enabled":     {Type: genai.TypeBoolean},
					"rules": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeObject},
					},
				}, "policy_id"),
			},
			{
				Name:        "delete_policy",
				Description: "Delete a spending policy.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"policy_id": {Type: genai.TypeString},
				}, "policy_id"),
			},
			{
				Name:        "delete_spending_policy",
				Description: "Alias of delete_policy. Delete a spending policy.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"policy_id": {Type: genai.TypeString},
				}, "policy_id"),
			},
			{
				Name:        "validate_payment",
				Description: "Validate a payment against policies.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"amount":      {Type: genai.TypeString, Description: "USDC amount like '5.00'."},
					"recipient":   {Type: genai.TypeString},
					"category":    {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
				}, "amount", "recipient"),
			},
			{
				Name:        "execute_payment",
				Description: "Execute a payment from the treasury wallet.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"recipient":   {Type: genai.TypeString},
					"amount":      {Type: genai.TypeString},
					"category":    {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
					"metadata":    {Type: genai.TypeObject},
				}, "recipient", "amount"),
			},
			{
				Name: "x402_fetch",
				Description: "Call a paid API using x402 micropayments. " +
					"For demos, use http://localhost:3001/api/payments/x402/demo/paid-content - " +
					"this is the only working x402 endpoint. Do NOT use placeholder URLs like api.demo.com.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"url":      {Type: genai.TypeString, Description: "The x402 API URL. For demos use: http://localhost:3001/api/payments/x402/demo/paid-content"},
					"method":   {Type: genai.TypeString},
					"body":     {Type: genai.TypeObject},
					"headers":  {Type: genai.TypeObject},
					"category": {Type: genai.TypeString},
				}, "url"),
			},
			{
				Name:        "get_x402_status",
				Description: "Check if x402 payments are enabled.",
				Parameters:  objectSchema(map[string]*genai.Schema{}),
			},
			{
				Name:        "list_vendors",
				Description: "List available vendors in the marketplace.",
				Parameters:  objectSchema(map[string]*genai.Schema{}),
			},
			{
				Name:        "search_products",
				Description: "Search products across all vendors.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"query": {Type: genai.TypeString},
				}, "query"),
			},
			{
				Name:        "get_vendor",
				Description: "Get a vendor's details by ID.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"vendor_id": {Type: genai.TypeString},
				}, "vendor_id"),
			},
			{
				Name:        "list_vendor_products",
				Description: "List products for a vendor.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"vendor_id": {Type: genai.TypeString},
				}, "vendor_id"),
			},
			{
				Name:        "get_product",
				Description: "Get details for a specific product.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"vendor_id":  {Type: genai.TypeString},
					"product_id": {Type: genai.TypeString},
				}, "vendor_id", "product_id"),
			},
			{
				Name:        "purchase_product",
				Description: "Purchase a product using x402 micropayments.",
				Parameters: objectSchema(map[string]*genai.Schema{
					"vendor_id":  {Type: genai.TypeString},
					"product_id": {Type: genai.TypeString},
					"category":   {Type: genai.TypeString},
				}, "vendor_id", "product_id"),
			},
			{
				Name:        "list_orders",
				Description: "List all vendor orders (demo only).",
				Parameters:  objectSchema(map[string]*genai.Schema{}),
			},
		},
	}
}

func groundingTool() *genai.Tool {
	return &genai.Tool{GoogleSearch: &genai.GoogleSearch{}}
}
