package pipeline

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/schema"

	"github.com/shopspring/decimal"
)

// Transformer normalizes accepted records into canonical monthly form.
type Transformer interface {
	Transform(records []model.Record) ([]model.Record, error)
}

var (
	weeklyFactor  = decimal.RequireFromString("4.33")
	monthsPerYear = decimal.NewFromInt(12)
)

// currencyPlaces is the declared precision of converted money.
const currencyPlaces = 2

// DefaultCategories maps normalized labels to canonical ones, per field.
// Keys are lowercased with "&" spelled "and" and runs of spaces, dashes and
// underscores collapsed to one space. Canonical labels map to themselves.
var DefaultCategories = map[string]map[string]string{
	"category": {
		"electronics":         "electronics",
		"electronic":          "electronics",
		"elec":                "electronics",
		"tech":                "electronics",
		"home kitchen":        "home_kitchen",
		"home and kitchen":    "home_kitchen",
		"kitchen":             "home_kitchen",
		"appliances":          "home_kitchen",
		"apparel":             "apparel",
		"clothing":            "apparel",
		"fashion":             "apparel",
		"books":               "books",
		"book":                "books",
		"grocery":             "grocery",
		"groceries":           "grocery",
		"toys games":          "toys_games",
		"toys and games":      "toys_games",
		"toys":                "toys_games",
		"sports outdoors":     "sports_outdoors",
		"sports and outdoors": "sports_outdoors",
		"sports":              "sports_outdoors",
		"beauty":              "beauty",
		"automotive":          "automotive",
		"auto":                "automotive",
		"personal care":       "beauty",
	},
	"employment_status": {
		"full time":     "full_time",
		"fulltime":      "full_time",
		"employed":      "full_time",
		"part time":     "part_time",
		"parttime":      "part_time",
		"self employed": "self_employed",
		"freelance":     "self_employed",
		"contractor":    "self_employed",
		"unemployed":    "unemployed",
		"student":       "student",
		"retired":       "retired",
	},
}

// normalizeLabel builds the lookup key for a category label.
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// RecordTransformer is the default Transformer. It converts periodic money
// to a monthly basis, canonicalizes categories and drops exact duplicates.
// It never fills in missing values.
type RecordTransformer struct {
	Registry   *schema.Registry
	Categories map[string]map[string]string // nil means DefaultCategories
	Workers    int
	Logger     *slog.Logger
}

type converted struct {
	rec      model.Record
	unmapped []string // "field=label"
}

// Transform returns the normalized records in input order, minus exact
// duplicates (first occurrence kept). Duplicates are judged on the records
// as received, so an annual and a monthly record that convert to the same
// amounts both survive. Converted values do not change on a second pass.
func (t *RecordTransformer) Transform(records []model.Record) ([]model.Record, error) {
	cats := t.Categories
	if cats == nil {
		cats = DefaultCategories
	}
	reg := t.Registry
	if reg == nil {
		reg = schema.Default()
	}
	out, err := mapOrdered("transform", t.Workers, records, func(_ int, rec model.Record) (converted, error) {
		return convertRecord(reg, rec, cats)
	})
	if err != nil {
		return nil, err
	}

	unmapped := make(map[string]int)
	seen := make(map[string]bool, len(out))
	result := make([]model.Record, 0, len(out))
	for i, c := range out {
		for _, u := range c.unmapped {
			unmapped[u]++
		}
		key, err := model.MarshalCanonical(records[i])
		if err != nil {
			return nil, fmt.Errorf("transform: encode record: %w", err)
		}
		k := string(records[i].Kind) + string(key)
		if seen[k] {
			continue
		}
		seen[k] = true
		result = append(result, c.rec)
	}

	if len(unmapped) > 0 && t.Logger != nil {
		labels := make([]string, 0, len(unmapped))
		for l := range unmapped {
			labels = append(labels, l)
		}
		sort.Strings(labels)
		for _, l := range labels {
			field, label, _ := strings.Cut(l, "=")
			t.Logger.Warn("unmapped category label passed through", "field", field, "label", label, "records", unmapped[l])
		}
	}
	if t.Logger != nil && len(result) < len(records) {
		t.Logger.Info("removed duplicate records", "count", len(records)-len(result))
	}
	return result, nil
}

func convertRecord(reg *schema.Registry, rec model.Record, cats map[string]map[string]string) (converted, error) {
	out := rec
	var unmapped []string

	if periodic := reg.PeriodicFields(rec.Kind); len(periodic) > 0 {
		period := schema.PeriodMonthly
		pv, hasPeriod := rec.Get("period")
		if hasPeriod && !pv.IsNull() {
			period = strings.ToLower(strings.TrimSpace(pv.Text()))
		}

		var conv func(decimal.Decimal) decimal.Decimal
		switch period {
		case schema.PeriodMonthly:
		case schema.PeriodWeekly:
			conv = func(d decimal.Decimal) decimal.Decimal { return d.Mul(weeklyFactor).Round(currencyPlaces) }
		case schema.PeriodAnnual:
			conv = func(d decimal.Decimal) decimal.Decimal { return d.Div(monthsPerYear).Round(currencyPlaces) }
		default:
			return converted{}, &model.InvariantError{Op: "transform", Detail: fmt.Sprintf("unknown period %q reached the transformer", pv.Text())}
		}

		if conv != nil {
			for _, f := range periodic {
				if v, ok := out.Get(f); ok && v.IsNumber() {
					out = out.With(f, model.Number(conv(v.Num)))
				}
			}
		}
		if hasPeriod && !pv.IsNull() {
			out = out.With("period", model.String(schema.PeriodMonthly))
		}
	}

	for field, lookup := range cats {
		v, ok := out.Get(field)
		if !ok || v.IsNull() {
			continue
		}
		if canon, ok := lookup[normalizeLabel(v.Text())]; ok {
			out = out.With(field, model.String(canon))
		} else {
			unmapped = append(unmapped, field+"="+v.Text())
		}
	}
	return converted{rec: out, unmapped: unmapped}, nil
}
