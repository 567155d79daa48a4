package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/schema"

	"github.com/shopspring/decimal"
)

// Anomaly rule identifiers.
const (
	RuleNegativeMonetary  = "negative_monetary"
	RuleMissingRequired   = "missing_required"
	RuleLowRecordCount    = "low_record_count"
	RuleRentExceedsIncome = "rent_exceeds_income"
	RuleDebtExceedsIncome = "debt_exceeds_income"
	RuleZeroPrice         = "zero_price"
	ruleOutlierPrefix     = "iqr_outlier:"
)

// predicateRule flags individual records; its severity depends on how much
// of the batch it hits.
type predicateRule struct {
	id    string
	kind  model.DatasetKind
	desc  string
	match func(rec model.Record) bool
}

var predicateRules = []predicateRule{
	{
		id:   RuleRentExceedsIncome,
		kind: model.KindFinancial,
		desc: "rent exceeds income",
		match: func(rec model.Record) bool {
			return greater(rec, "rent", "income")
		},
	},
	{
		id:   RuleDebtExceedsIncome,
		kind: model.KindFinancial,
		desc: "debt payments exceed income",
		match: func(rec model.Record) bool {
			return greater(rec, "debt", "income")
		},
	},
	{
		id:   RuleZeroPrice,
		kind: model.KindProduct,
		desc: "product price is zero",
		match: func(rec model.Record) bool {
			v, ok := rec.Get("price")
			return ok && v.IsNumber() && v.Num.IsZero()
		},
	},
}

func greater(rec model.Record, a, b string) bool {
	va, okA := rec.Get(a)
	vb, okB := rec.Get(b)
	return okA && okB && va.IsNumber() && vb.IsNumber() && va.Num.GreaterThan(vb.Num)
}

// Detector runs the statistical and rule-based checks over accepted records.
type Detector struct {
	Registry   *schema.Registry
	Thresholds model.Thresholds
}

// Detect returns the findings for accepted records of one kind. Record
// references index into records.
func (d Detector) Detect(records []model.Record, kind model.DatasetKind) []model.AnomalyFinding {
	var findings []model.AnomalyFinding
	if f, ok := d.negativeMonetary(records, kind); ok {
		findings = append(findings, f)
	}
	for _, rule := range predicateRules {
		if rule.kind != kind {
			continue
		}
		var refs []int
		for i, rec := range records {
			if rule.match(rec) {
				refs = append(refs, i)
			}
		}
		if len(refs) == 0 {
			continue
		}
		findings = append(findings, model.AnomalyFinding{
			Severity:    d.severityFor(len(refs), len(records)),
			RuleID:      rule.id,
			Kind:        kind,
			RecordRefs:  refs,
			Description: fmt.Sprintf("%d of %d %s records: %s", len(refs), len(records), kind, rule.desc),
		})
	}
	findings = append(findings, d.outliers(records, kind)...)
	return findings
}

// DetectBatch adds the batch-level rules, which need the validation
// outcome rather than just the accepted records, to Detect. References of
// batch-level findings index into the original batch.
func (d Detector) DetectBatch(outcome model.ValidationOutcome) []model.AnomalyFinding {
	var findings []model.AnomalyFinding
	if f, ok := d.missingRequired(outcome); ok {
		findings = append(findings, f)
	}
	if outcome.Total < d.Thresholds.MinRecordsRequired {
		findings = append(findings, model.AnomalyFinding{
			Severity: model.SeverityWarning,
			RuleID:   RuleLowRecordCount,
			Kind:     outcome.Kind,
			Description: fmt.Sprintf("%s batch has %d records, minimum is %d",
				outcome.Kind, outcome.Total, d.Thresholds.MinRecordsRequired),
		})
	}
	return append(findings, d.Detect(outcome.Accepted, outcome.Kind)...)
}

func (d Detector) negativeMonetary(records []model.Record, kind model.DatasetKind) (model.AnomalyFinding, bool) {
	fields := d.Registry.MonetaryFields(kind)
	var refs []int
	hit := make(map[string]bool)
	for i, rec := range records {
		negative := false
		for _, f := range fields {
			if v, ok := rec.Get(f); ok && v.IsNumber() && v.Num.IsNegative() {
				negative = true
				hit[f] = true
			}
		}
		if negative {
			refs = append(refs, i)
		}
	}
	if len(refs) == 0 {
		return model.AnomalyFinding{}, false
	}
	var names []string
	for _, f := range fields {
		if hit[f] {
			names = append(names, f)
		}
	}
	return model.AnomalyFinding{
		Severity:    model.SeverityCritical,
		RuleID:      RuleNegativeMonetary,
		Kind:        kind,
		RecordRefs:  refs,
		Description: fmt.Sprintf("%d %s records carry negative monetary values (%s)", len(refs), kind, strings.Join(names, ", ")),
	}, true
}

// missingRequired counts records quarantined because a required field was
// absent, null or not parseable as its declared type. Only a financial
// batch past MissingRequiredPct is CRITICAL; any other kind is capped at
// WARNING and the runner drops that source instead of halting.
func (d Detector) missingRequired(outcome model.ValidationOutcome) (model.AnomalyFinding, bool) {
	refs := d.missingRefs(outcome)
	if len(refs) == 0 || outcome.Total == 0 {
		return model.AnomalyFinding{}, false
	}
	sev := d.severityFor(len(refs), outcome.Total)
	if d.exceedsMissing(len(refs), outcome.Total) {
		sev = model.SeverityWarning
		if outcome.Kind == model.KindFinancial {
			sev = model.SeverityCritical
		}
	}
	return model.AnomalyFinding{
		Severity:    sev,
		RuleID:      RuleMissingRequired,
		Kind:        outcome.Kind,
		RecordRefs:  refs,
		Description: fmt.Sprintf("%d of %d %s records miss or corrupt a required field", len(refs), outcome.Total, outcome.Kind),
	}, true
}

// Unusable reports whether more than MissingRequiredPct of the batch was
// quarantined on a required field.
func (d Detector) Unusable(outcome model.ValidationOutcome) bool {
	return d.exceedsMissing(len(d.missingRefs(outcome)), outcome.Total)
}

func (d Detector) exceedsMissing(affected, total int) bool {
	return affected > 0 && share(affected, total).GreaterThan(d.Thresholds.MissingRequiredPct)
}

func (d Detector) missingRefs(outcome model.ValidationOutcome) []int {
	ids := make(map[string]bool)
	for _, rule := range d.Registry.RulesFor(outcome.Kind) {
		if rule.Required {
			ids[rule.RuleID(model.CheckRequired)] = true
			ids[rule.RuleID(model.CheckType)] = true
		}
	}
	var refs []int
	for _, q := range outcome.Quarantined {
		for _, v := range q.Violations {
			if ids[v] {
				refs = append(refs, q.Index)
				break
			}
		}
	}
	return refs
}

// outliers flags monetary values outside [Q1 - k*IQR, Q3 + k*IQR]. Fields
// with fewer than four values or zero spread are skipped.
func (d Detector) outliers(records []model.Record, kind model.DatasetKind) []model.AnomalyFinding {
	var findings []model.AnomalyFinding
	for _, field := range d.Registry.MonetaryFields(kind) {
		type point struct {
			idx int
			val decimal.Decimal
		}
		var pts []point
		for i, rec := range records {
			if v, ok := rec.Get(field); ok && v.IsNumber() {
				pts = append(pts, point{i, v.Num})
			}
		}
		if len(pts) < 4 {
			continue
		}
		sorted := make([]decimal.Decimal, len(pts))
		for i, p := range pts {
			sorted[i] = p.val
		}
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

		q1, q3 := quantile(sorted, 1), quantile(sorted, 3)
		iqr := q3.Sub(q1)
		if iqr.IsZero() {
			continue
		}
		fence := iqr.Mul(d.Thresholds.OutlierIQR)
		lower, upper := q1.Sub(fence), q3.Add(fence)

		var refs []int
		for _, p := range pts {
			if p.val.LessThan(lower) || p.val.GreaterThan(upper) {
				refs = append(refs, p.idx)
			}
		}
		if len(refs) == 0 {
			continue
		}
		findings = append(findings, model.AnomalyFinding{
			Severity:    d.severityFor(len(refs), len(records)),
			RuleID:      ruleOutlierPrefix + field,
			Kind:        kind,
			RecordRefs:  refs,
			Description: fmt.Sprintf("%d %s values outside [%s, %s]", len(refs), field, lower.StringFixed(2), upper.StringFixed(2)),
		})
	}
	return findings
}

// quantile returns the q-th quartile of sorted values using linear
// interpolation between closest ranks.
func quantile(sorted []decimal.Decimal, q int) decimal.Decimal {
	k := (len(sorted) - 1) * q
	idx, rem := k/4, k%4
	if rem == 0 {
		return sorted[idx]
	}
	step := sorted[idx+1].Sub(sorted[idx])
	return sorted[idx].Add(step.Mul(decimal.NewFromInt(int64(rem))).Div(decimal.NewFromInt(4)))
}

func share(affected, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(affected)).Div(decimal.NewFromInt(int64(total)))
}

// severityFor is WARNING when strictly more than WarningPct of the batch is
// affected, INFO otherwise.
func (d Detector) severityFor(affected, total int) model.Severity {
	if share(affected, total).GreaterThan(d.Thresholds.WarningPct) {
		return model.SeverityWarning
	}
	return model.SeverityInfo
}

// Decide folds the findings of one stage into a single flow action.
func Decide(findings []model.AnomalyFinding) model.Action {
	action := model.ActionContinue
	for _, f := range findings {
		switch f.Severity {
		case model.SeverityCritical:
			return model.ActionHalt
		case model.SeverityWarning:
			action = model.ActionWarn
		}
	}
	return action
}

// Highest returns the most severe finding level, or "" when there are none.
func Highest(findings []model.AnomalyFinding) model.Severity {
	var top model.Severity
	for _, f := range findings {
		if top == "" || !top.AtLeast(f.Severity) {
			top = f.Severity
		}
	}
	return top
}
