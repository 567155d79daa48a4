package pipeline

import (
	"affordability-pipeline/internal/model"
)

// Validator applies schema rules to batches.
type Validator struct {
	Workers int
}

// Validate partitions batch into accepted and quarantined records using
// DefaultWorkers.
func Validate(batch model.Batch, rules []model.SchemaRule) model.ValidationOutcome {
	return Validator{}.Validate(batch, rules)
}

// Validate checks every record against every rule. A record is accepted
// only with zero failures; otherwise it is quarantined with the full list
// of failed rule identifiers. Input order is preserved in both partitions.
func (v Validator) Validate(batch model.Batch, rules []model.SchemaRule) model.ValidationOutcome {
	violations, _ := mapOrdered("validate", v.Workers, batch.Records, func(_ int, rec model.Record) ([]string, error) {
		return validateRecord(rec, rules), nil
	})

	outcome := model.ValidationOutcome{
		Kind:        batch.Kind,
		Source:      batch.Source,
		Total:       batch.Count(),
		Accepted:    make([]model.Record, 0, batch.Count()),
		Quarantined: []model.QuarantinedRecord{},
	}
	for i, rec := range batch.Records {
		if len(violations[i]) == 0 {
			outcome.Accepted = append(outcome.Accepted, rec)
			continue
		}
		outcome.Quarantined = append(outcome.Quarantined, model.QuarantinedRecord{
			Index:      i,
			Record:     rec,
			Violations: violations[i],
		})
	}
	return outcome
}

// validateRecord returns the identifiers of every rule rec fails, in rule
// order. Required fields fail when absent or null; present fields fail on
// type, range or categorical mismatch. A null optional field never fails.
func validateRecord(rec model.Record, rules []model.SchemaRule) []string {
	var failed []string
	for _, rule := range rules {
		val, ok := rec.Get(rule.Field)
		if !ok || val.IsNull() {
			if rule.Required {
				failed = append(failed, rule.RuleID(model.CheckRequired))
			}
			continue
		}

		// Check type
		switch rule.Type {
		case model.FieldNumber:
			if !val.IsNumber() {
				failed = append(failed, rule.RuleID(model.CheckType))
				continue
			}
		case model.FieldString:
			// numeric cells are accepted by their lexical form ("1042" as an id)
		}

		// Check min/max values
		if val.IsNumber() && rule.Type == model.FieldNumber {
			if (rule.Min != nil && val.Num.LessThan(*rule.Min)) || (rule.Max != nil && val.Num.GreaterThan(*rule.Max)) {
				failed = append(failed, rule.RuleID(model.CheckRange))
			}
		}

		// Check categorical set
		if len(rule.Allowed) > 0 && !rule.Permits(val.Text()) {
			failed = append(failed, rule.RuleID(model.CheckAllowed))
		}
	}
	return failed
}
