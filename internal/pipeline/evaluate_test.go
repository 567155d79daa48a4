package pipeline

import (
	"testing"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateSingleRecord(t *testing.T) {
	fin := rec(model.KindFinancial,
		"user_id", "u1", "income", 60000, "rent", 18000, "recurring_bills", 3600,
		"savings", 10000, "debt", 2400, "period", "annual")
	prod := product("p1", "u1", 1200)

	fr, findings, err := Evaluate(schema.Default(), testThresholds(), fin, &prod)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Equal(t, "5000.00", fr.Income.StringFixed(2))
	assert.Equal(t, "3200.00", fr.DiscretionaryIncome.StringFixed(2))
	assert.Equal(t, "electronics", fr.Category)
	assert.Equal(t, model.DecisionGreen, fr.Decision)
}

func TestEvaluateRejectsInvalidRecord(t *testing.T) {
	fin := rec(model.KindFinancial, "user_id", "u1", "income", "many")
	_, _, err := Evaluate(schema.Default(), testThresholds(), fin, nil)

	var vf *model.ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, model.KindFinancial, vf.Kind)
	assert.Contains(t, vf.Violations, "financial.income:type")
	assert.Contains(t, vf.Violations, "financial.rent:required")
}

func TestEvaluateHaltsOnNegativeMoney(t *testing.T) {
	fin := financial("u1", 5000, 1500, 300, -1, 0)
	_, findings, err := Evaluate(schema.Default(), testThresholds(), fin, nil)

	var halt *model.AnomalyHalt
	require.ErrorAs(t, err, &halt)
	assert.Equal(t, model.SeverityCritical, Highest(findings))
}
