package pipeline

import (
	"time"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/schema"
)

// Evaluate runs a single financial record and an optional product through
// the same stages as a batch run, without checkpoints: validation, anomaly
// checks, monthly conversion and feature derivation. It returns a
// ValidationFailure for a record the schema rejects and an AnomalyHalt for
// a CRITICAL finding.
func Evaluate(reg *schema.Registry, th model.Thresholds, fin model.Record, prod *model.Record) (model.FeatureRecord, []model.AnomalyFinding, error) {
	detector := Detector{Registry: reg, Thresholds: th}
	transformer := &RecordTransformer{Registry: reg, Workers: 1}

	check := func(rec model.Record, kind model.DatasetKind) (model.Record, []model.AnomalyFinding, error) {
		batch := model.NewBatch(kind, "evaluate", time.Time{}, []model.Record{rec})
		outcome := Validate(batch, reg.RulesFor(kind))
		if len(outcome.Quarantined) > 0 {
			return model.Record{}, nil, &model.ValidationFailure{Kind: kind, Violations: outcome.Quarantined[0].Violations}
		}
		findings := detector.Detect(outcome.Accepted, kind)
		if Decide(findings) == model.ActionHalt {
			return model.Record{}, findings, &model.AnomalyHalt{RunID: "evaluate", Findings: findings}
		}
		out, err := transformer.Transform(outcome.Accepted)
		if err != nil {
			return model.Record{}, findings, err
		}
		return out[0], findings, nil
	}

	finRec, findings, err := check(fin, model.KindFinancial)
	if err != nil {
		return model.FeatureRecord{}, findings, err
	}
	var prodRec *model.Record
	if prod != nil {
		p, pf, err := check(*prod, model.KindProduct)
		findings = append(findings, pf...)
		if err != nil {
			return model.FeatureRecord{}, findings, err
		}
		prodRec = &p
	}

	fr, err := Engine{Thresholds: th, Workers: 1}.Derive(finRec, prodRec)
	return fr, findings, err
}
