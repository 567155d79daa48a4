package pipeline

import (
	"fmt"
	"testing"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findingByRule(findings []model.AnomalyFinding, rule string) (model.AnomalyFinding, bool) {
	for _, f := range findings {
		if f.RuleID == rule {
			return f, true
		}
	}
	return model.AnomalyFinding{}, false
}

func newDetector() Detector {
	return Detector{Registry: schema.Default(), Thresholds: testThresholds()}
}

func TestDetectNegativeMonetaryIsCritical(t *testing.T) {
	records := []model.Record{
		financial("u1", 5000, 1500, 300, 10000, 200),
		financial("u2", 4000, 1000, 100, -50, 0),
	}
	findings := newDetector().Detect(records, model.KindFinancial)

	f, ok := findingByRule(findings, RuleNegativeMonetary)
	require.True(t, ok)
	assert.Equal(t, model.SeverityCritical, f.Severity)
	assert.Equal(t, []int{1}, f.RecordRefs)
	assert.Contains(t, f.Description, "savings")
	assert.Equal(t, model.ActionHalt, Decide(findings))
}

func TestPredicateSeverityBoundary(t *testing.T) {
	build := func(hits int) []model.Record {
		records := make([]model.Record, 0, 100)
		for i := 0; i < 100; i++ {
			debt := 100
			if i < hits {
				debt = 9000
			}
			records = append(records, financial(fmt.Sprintf("u%d", i), 5000, 1000, 200, 8000, debt))
		}
		return records
	}

	tests := []struct {
		hits int
		want model.Severity
	}{
		{1, model.SeverityInfo},
		{5, model.SeverityInfo}, // exactly the warning share is not above it
		{6, model.SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.hits), func(t *testing.T) {
			findings := newDetector().Detect(build(tt.hits), model.KindFinancial)
			f, ok := findingByRule(findings, RuleDebtExceedsIncome)
			require.True(t, ok)
			assert.Equal(t, tt.want, f.Severity)
			assert.Equal(t, tt.hits, f.Affected())
		})
	}
}

func TestDetectOutliers(t *testing.T) {
	var records []model.Record
	for i := 0; i < 20; i++ {
		records = append(records, product(fmt.Sprintf("p%d", i), "u", 100+i))
	}
	records = append(records, product("whale", "u", 100000))

	findings := newDetector().Detect(records, model.KindProduct)
	f, ok := findingByRule(findings, "iqr_outlier:price")
	require.True(t, ok)
	assert.Equal(t, []int{20}, f.RecordRefs)
	assert.Equal(t, model.SeverityInfo, f.Severity)
}

func TestDetectSkipsZeroSpread(t *testing.T) {
	var records []model.Record
	for i := 0; i < 10; i++ {
		records = append(records, product(fmt.Sprintf("p%d", i), "u", 50))
	}
	records = append(records, product("odd", "u", 5000))

	findings := newDetector().Detect(records, model.KindProduct)
	_, ok := findingByRule(findings, "iqr_outlier:price")
	assert.False(t, ok)
}

func TestDetectBatchMissingRequired(t *testing.T) {
	th := testThresholds()
	th.MinRecordsRequired = 10
	d := Detector{Registry: schema.Default(), Thresholds: th}

	records := []model.Record{
		financial("u1", 5000, 1500, 300, 10000, 200),
		rec(model.KindFinancial, "user_id", "u2", "rent", 10, "savings", 1),
		financial("u3", 4000, 1000, 100, 3000, 0),
	}
	outcome := Validate(model.NewBatch(model.KindFinancial, "t", fixedTime, records), schema.Default().RulesFor(model.KindFinancial))
	findings := d.DetectBatch(outcome)

	missing, ok := findingByRule(findings, RuleMissingRequired)
	require.True(t, ok)
	assert.Equal(t, model.SeverityCritical, missing.Severity, "1 of 3 is above the 10% missing share")
	assert.Equal(t, []int{1}, missing.RecordRefs)

	low, ok := findingByRule(findings, RuleLowRecordCount)
	require.True(t, ok)
	assert.Equal(t, model.SeverityWarning, low.Severity)
}

func TestDetectBatchMissingRequiredProductIsWarning(t *testing.T) {
	d := newDetector()
	records := []model.Record{
		rec(model.KindProduct, "product_id", "p1", "category", "Books"),
		rec(model.KindProduct, "product_id", "p2", "category", "Books"),
	}
	outcome := Validate(model.NewBatch(model.KindProduct, "t", fixedTime, records), schema.Default().RulesFor(model.KindProduct))
	findings := d.DetectBatch(outcome)

	missing, ok := findingByRule(findings, RuleMissingRequired)
	require.True(t, ok)
	assert.Equal(t, model.SeverityWarning, missing.Severity)
	assert.Equal(t, []int{0, 1}, missing.RecordRefs)
	assert.NotEqual(t, model.ActionHalt, Decide(findings))
	assert.True(t, d.Unusable(outcome))
}

func TestDecideAndHighest(t *testing.T) {
	info := model.AnomalyFinding{Severity: model.SeverityInfo}
	warn := model.AnomalyFinding{Severity: model.SeverityWarning}
	crit := model.AnomalyFinding{Severity: model.SeverityCritical}

	assert.Equal(t, model.ActionContinue, Decide(nil))
	assert.Equal(t, model.ActionContinue, Decide([]model.AnomalyFinding{info}))
	assert.Equal(t, model.ActionWarn, Decide([]model.AnomalyFinding{info, warn}))
	assert.Equal(t, model.ActionHalt, Decide([]model.AnomalyFinding{warn, crit, info}))

	assert.Equal(t, model.Severity(""), Highest(nil))
	assert.Equal(t, model.SeverityWarning, Highest([]model.AnomalyFinding{info, warn}))
	assert.Equal(t, model.SeverityCritical, Highest([]model.AnomalyFinding{crit, warn}))
}
