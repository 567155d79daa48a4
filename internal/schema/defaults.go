package schema

import (
	"affordability-pipeline/internal/model"

	"github.com/shopspring/decimal"
)

// Periods accepted by the financial "period" field.
const (
	PeriodMonthly = "monthly"
	PeriodAnnual  = "annual"
	PeriodWeekly  = "weekly"
)

// DefaultRules is the shipped rule set for financial and product data.
// Monetary fields carry no lower bound: a negative amount is a CRITICAL
// anomaly, not a per-record validation failure.
func DefaultRules() []model.SchemaRule {
	fin := model.KindFinancial
	prod := model.KindProduct
	zero, five := decimal.Zero, decimal.NewFromInt(5)

	return []model.SchemaRule{
		{Kind: fin, Field: "user_id", Required: true, Type: model.FieldString},
		{Kind: fin, Field: "income", Required: true, Type: model.FieldNumber, Monetary: true, Periodic: true},
		{Kind: fin, Field: "rent", Required: true, Type: model.FieldNumber, Monetary: true, Periodic: true},
		{Kind: fin, Field: "recurring_bills", Type: model.FieldNumber, Monetary: true, Periodic: true},
		{Kind: fin, Field: "discretionary_spending", Type: model.FieldNumber, Monetary: true, Periodic: true},
		{Kind: fin, Field: "debt", Type: model.FieldNumber, Monetary: true, Periodic: true},
		{Kind: fin, Field: "savings", Required: true, Type: model.FieldNumber, Monetary: true},
		{Kind: fin, Field: "period", Type: model.FieldString, Allowed: []string{PeriodMonthly, PeriodAnnual, PeriodWeekly}},
		{Kind: fin, Field: "employment_status", Type: model.FieldString},

		{Kind: prod, Field: "product_id", Required: true, Type: model.FieldString},
		{Kind: prod, Field: "user_id", Type: model.FieldString},
		{Kind: prod, Field: "product_name", Type: model.FieldString},
		{Kind: prod, Field: "category", Type: model.FieldString},
		{Kind: prod, Field: "price", Required: true, Type: model.FieldNumber, Monetary: true},
		{Kind: prod, Field: "rating", Type: model.FieldNumber, Min: &zero, Max: &five},
	}
}

// Default returns a registry over DefaultRules.
func Default() *Registry {
	reg, err := NewRegistry(DefaultRules()...)
	if err != nil {
		panic(err)
	}
	return reg
}
