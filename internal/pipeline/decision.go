package pipeline

import (
	"affordability-pipeline/internal/model"

	"github.com/shopspring/decimal"
)

// Verdict maps one feature record to its decision light. Rules are checked
// in order: Green when the purchase fits discretionary income and leaves at
// least GreenBuffer months of expenses in savings; Red when it does not fit
// or leaves less than RedEmergencyMonths; Yellow otherwise. Records without
// a product have no verdict.
//
// With zero monthly expenses the residual utility is unbounded: it counts
// as above every threshold when savings cover the price, below otherwise.
func Verdict(fr model.FeatureRecord, th model.Thresholds) model.Decision {
	if !fr.HasProduct() {
		return ""
	}
	score := *fr.AffordabilityScore
	rus := *fr.ResidualUtilityScore

	atLeast := func(bound decimal.Decimal) bool {
		if !rus.Defined {
			return fr.Savings.GreaterThanOrEqual(*fr.Price)
		}
		return rus.Value.GreaterThanOrEqual(bound)
	}

	switch {
	case !score.IsNegative() && atLeast(th.GreenBuffer):
		return model.DecisionGreen
	case score.IsNegative() || !atLeast(th.RedEmergencyMonths):
		return model.DecisionRed
	default:
		return model.DecisionYellow
	}
}
