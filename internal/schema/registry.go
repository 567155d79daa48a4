// Package schema holds the per-dataset field rules the validator applies.
// A Registry is built once per process and never changes afterwards.
package schema

import (
	"fmt"
	"os"
	"sort"

	"affordability-pipeline/internal/model"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Registry is a read-only lookup of schema rules by dataset kind.
type Registry struct {
	rules map[model.DatasetKind][]model.SchemaRule
}

// NewRegistry validates and indexes rules. It fails with a ConfigError on
// a duplicate (kind, field) key or a range whose min exceeds its max.
func NewRegistry(rules ...model.SchemaRule) (*Registry, error) {
	reg := &Registry{rules: make(map[model.DatasetKind][]model.SchemaRule)}
	seen := make(map[string]bool)
	for _, r := range rules {
		if r.Kind == "" || r.Field == "" {
			return nil, &model.ConfigError{Field: "schema", Reason: "rule without kind or field"}
		}
		key := string(r.Kind) + "." + r.Field
		if seen[key] {
			return nil, &model.ConfigError{Field: key, Reason: "duplicate rule"}
		}
		seen[key] = true
		if r.Type == "" {
			r.Type = model.FieldString
		}
		if r.Type != model.FieldNumber && r.Type != model.FieldString {
			return nil, &model.ConfigError{Field: key, Reason: fmt.Sprintf("unknown type %q", r.Type)}
		}
		if r.Min != nil && r.Max != nil && r.Min.GreaterThan(*r.Max) {
			return nil, &model.ConfigError{Field: key, Reason: fmt.Sprintf("min %s > max %s", r.Min, r.Max)}
		}
		if (r.Monetary || r.Periodic) && r.Type != model.FieldNumber {
			return nil, &model.ConfigError{Field: key, Reason: "monetary fields must be numeric"}
		}
		r.Allowed = append([]string(nil), r.Allowed...)
		reg.rules[r.Kind] = append(reg.rules[r.Kind], r)
	}
	return reg, nil
}

// RulesFor returns the ordered rules for kind. The slice is a copy.
func (r *Registry) RulesFor(kind model.DatasetKind) []model.SchemaRule {
	src := r.rules[kind]
	out := make([]model.SchemaRule, len(src))
	copy(out, src)
	return out
}

// Kinds lists the dataset kinds with at least one rule, sorted.
func (r *Registry) Kinds() []model.DatasetKind {
	kinds := make([]model.DatasetKind, 0, len(r.rules))
	for k := range r.rules {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Field returns the rule for one field of kind.
func (r *Registry) Field(kind model.DatasetKind, field string) (model.SchemaRule, bool) {
	for _, rule := range r.rules[kind] {
		if rule.Field == field {
			return rule, true
		}
	}
	return model.SchemaRule{}, false
}

// MonetaryFields lists the monetary field names of kind in rule order.
func (r *Registry) MonetaryFields(kind model.DatasetKind) []string {
	var out []string
	for _, rule := range r.rules[kind] {
		if rule.Monetary {
			out = append(out, rule.Field)
		}
	}
	return out
}

// PeriodicFields lists the fields the transformer converts to monthly.
func (r *Registry) PeriodicFields(kind model.DatasetKind) []string {
	var out []string
	for _, rule := range r.rules[kind] {
		if rule.Periodic {
			out = append(out, rule.Field)
		}
	}
	return out
}

// fileRule is the YAML shape of a rule; bounds are strings or numbers
// parsed as decimals.
type fileRule struct {
	model.SchemaRule `yaml:",inline"`
	Min              *string `yaml:"min"`
	Max              *string `yaml:"max"`
}

// LoadFile builds a registry from a YAML document keyed by dataset kind:
//
//	financial:
//	  - field: income
//	    required: true
//	    type: number
//	    monetary: true
//	    periodic: true
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.ConfigError{Field: "schema.file", Reason: err.Error()}
	}
	return Parse(data)
}

// Parse is LoadFile over an in-memory document.
func Parse(data []byte) (*Registry, error) {
	var doc map[string][]fileRule
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &model.ConfigError{Field: "schema", Reason: err.Error()}
	}
	kinds := make([]string, 0, len(doc))
	for k := range doc {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var (
		rules []model.SchemaRule
		err   error
	)
	for _, k := range kinds {
		for _, fr := range doc[k] {
			rule := fr.SchemaRule
			rule.Kind = model.DatasetKind(k)
			if rule.Min, err = parseBound(fr.Min); err != nil {
				return nil, &model.ConfigError{Field: k + "." + rule.Field + ".min", Reason: err.Error()}
			}
			if rule.Max, err = parseBound(fr.Max); err != nil {
				return nil, &model.ConfigError{Field: k + "." + rule.Field + ".max", Reason: err.Error()}
			}
			rules = append(rules, rule)
		}
	}
	return NewRegistry(rules...)
}

func parseBound(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
