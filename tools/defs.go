package tools

import (
	"encoding/json"
	"fmt"

	"github.com/robsonrrr/leads-100-sub007/models"
)

// Domain collaborators invoked by the tool handlers. Their internals
// (forecasting math, churn scoring, recommendation ranking, the pricing
// engine) live elsewhere in the platform; handlers only adapt their
// results into the tool output format.

// Forecaster produces revenue forecasts for a customer account.
type Forecaster interface {
	ForecastRevenue(userID, customerID string, horizonMonths int) (map[string]interface{}, error)
}

// ChurnScorer estimates how likely a customer is to stop buying.
type ChurnScorer interface {
	ChurnRisk(userID, customerID string) (map[string]interface{}, error)
}

// Recommender suggests products for a customer.
type Recommender interface {
	RecommendProducts(userID, customerID string, limit int) (map[string]interface{}, error)
}

// PricingEngine computes discounted prices. Access level gates how deep
// a discount the caller may quote.
type PricingEngine interface {
	DiscountPrice(userID, accessLevel, productID string, quantity int) (map[string]interface{}, error)
}

// ForecastRevenueTool returns the schema for the revenue forecast tool.
func ForecastRevenueTool() models.ToolDeclaration {
	return models.ToolDeclaration{
		Name:        "forecast_revenue",
		Description: "Forecast expected revenue for a customer account over the next months. Use when the user asks about projected sales, pipeline value, or growth for a specific customer.",
		Parameters: models.Parameters{
			Type: "object",
			Properties: map[string]interface{}{
				"customer_id": map[string]interface{}{
					"type":        "string",
					"description": "Identifier of the customer account",
				},
				"horizon_months": map[string]interface{}{
					"type":        "integer",
					"description": "Forecast horizon in months (default: 3)",
				},
			},
			Required: []string{"customer_id"},
		},
	}
}

// ChurnRiskTool returns the schema for the churn risk tool.
func ChurnRiskTool() models.ToolDeclaration {
	return models.ToolDeclaration{
		Name:        "churn_risk",
		Description: "Score the churn risk of a customer. Use when the user asks whether a customer is at risk of leaving or going quiet.",
		Parameters: models.Parameters{
			Type: "object",
			Properties: map[string]interface{}{
				"customer_id": map[string]interface{}{
					"type":        "string",
					"description": "Identifier of the customer account",
				},
			},
			Required: []string{"customer_id"},
		},
	}
}

// RecommendProductsTool returns the schema for the product recommendation tool.
func RecommendProductsTool() models.ToolDeclaration {
	return models.ToolDeclaration{
		Name:        "recommend_products",
		Description: "Recommend products a customer is likely to buy next, based on their purchase history. Use for cross-sell and upsell questions.",
		Parameters: models.Parameters{
			Type: "object",
			Properties: map[string]interface{}{
				"customer_id": map[string]interface{}{
					"type":        "string",
					"description": "Identifier of the customer account",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of recommendations (default: 5)",
				},
			},
			Required: []string{"customer_id"},
		},
	}
}

// DiscountPriceTool returns the schema for the discount pricing tool.
func DiscountPriceTool() models.ToolDeclaration {
	return models.ToolDeclaration{
		Name:        "discount_price",
		Description: "Compute the discounted unit price for a product at a given quantity. The discount depth is capped by the caller's access level.",
		Parameters: models.Parameters{
			Type: "object",
			Properties: map[string]interface{}{
				"product_id": map[string]interface{}{
					"type":        "string",
					"description": "Identifier of the product",
				},
				"quantity": map[string]interface{}{
					"type":        "integer",
					"description": "Order quantity (default: 1)",
				},
			},
			Required: []string{"product_id"},
		},
	}
}

// SalesCatalog wires the four domain tools against their collaborators.
func SalesCatalog(forecaster Forecaster, churn ChurnScorer, recommender Recommender, pricing PricingEngine) *Catalog {
	c := NewCatalog()

	c.Register(ForecastRevenueTool(), func(args map[string]interface{}) (string, error) {
		customerID, err := stringArg(args, "customer_id")
		if err != nil {
			return "", err
		}
		horizon := intArg(args, "horizon_months", 3)
		result, err := forecaster.ForecastRevenue(securityArgs(args), customerID, horizon)
		if err != nil {
			return "", fmt.Errorf("forecast_revenue: %w", err)
		}
		return marshalResult(result)
	})

	c.Register(ChurnRiskTool(), func(args map[string]interface{}) (string, error) {
		customerID, err := stringArg(args, "customer_id")
		if err != nil {
			return "", err
		}
		result, err := churn.ChurnRisk(securityArgs(args), customerID)
		if err != nil {
			return "", fmt.Errorf("churn_risk: %w", err)
		}
		return marshalResult(result)
	})

	c.Register(RecommendProductsTool(), func(args map[string]interface{}) (string, error) {
		customerID, err := stringArg(args, "customer_id")
		if err != nil {
			return "", err
		}
		limit := intArg(args, "limit", 5)
		result, err := recommender.RecommendProducts(securityArgs(args), customerID, limit)
		if err != nil {
			return "", fmt.Errorf("recommend_products: %w", err)
		}
		return marshalResult(result)
	})

	c.Register(DiscountPriceTool(), func(args map[string]interface{}) (string, error) {
		productID, err := stringArg(args, "product_id")
		if err != nil {
			return "", err
		}
		quantity := intArg(args, "quantity", 1)
		level, _ := args[ArgAccessLevel].(string)
		result, err := pricing.DiscountPrice(securityArgs(args), level, productID, quantity)
		if err != nil {
			return "", fmt.Errorf("discount_price: %w", err)
		}
		return marshalResult(result)
	})

	return c
}

// securityArgs extracts the injected caller identifier.
func securityArgs(args map[string]interface{}) string {
	userID, _ := args[ArgUserID].(string)
	return userID
}

// stringArg reads a required string argument. Numeric values are
// accepted and formatted, since models frequently send ids as numbers.
func stringArg(args map[string]interface{}, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument '%s'", key)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	default:
		return "", fmt.Errorf("invalid type for argument '%s': %T", key, raw)
	}
}

// intArg reads an optional integer argument with a default. JSON numbers
// arrive as float64.
func intArg(args map[string]interface{}, key string, fallback int) int {
	raw, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func marshalResult(result map[string]interface{}) (string, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return string(b), nil
}
