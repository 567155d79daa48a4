package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FieldType is the type a schema rule expects for a field
type FieldType string

const (
	FieldNumber FieldType = "number"
	FieldString FieldType = "string"
)

// SchemaRule defines the constraints for one (kind, field) pair
type SchemaRule struct {
	Kind     DatasetKind      `json:"kind" yaml:"-"`
	Field    string           `json:"field" yaml:"field"`
	Required bool             `json:"required" yaml:"required"`
	Type     FieldType        `json:"type" yaml:"type"`
	Min      *decimal.Decimal `json:"min,omitempty" yaml:"-"`
	Max      *decimal.Decimal `json:"max,omitempty" yaml:"-"`
	Allowed  []string         `json:"allowed,omitempty" yaml:"allowed"` // categorical set, matched case-insensitively
	Monetary bool             `json:"monetary,omitempty" yaml:"monetary"`
	Periodic bool             `json:"periodic,omitempty" yaml:"periodic"` // converted to a monthly basis by the transformer
}

// Nullable reports whether a null or absent value is acceptable
func (r SchemaRule) Nullable() bool { return !r.Required }

// RuleID builds the identifier reported for a failed check, e.g.
// "financial.income:required".
func (r SchemaRule) RuleID(check string) string {
	return fmt.Sprintf("%s.%s:%s", r.Kind, r.Field, check)
}

// Permits reports whether s is in the rule's categorical set.
func (r SchemaRule) Permits(s string) bool {
	if len(r.Allowed) == 0 {
		return true
	}
	s = strings.TrimSpace(s)
	for _, a := range r.Allowed {
		if strings.EqualFold(a, s) {
			return true
		}
	}
	return false
}

const (
	CheckRequired = "required"
	CheckType     = "type"
	CheckRange    = "range"
	CheckAllowed  = "allowed"
)

// QuarantinedRecord is a record that failed validation plus every rule it violated
type QuarantinedRecord struct {
	Index      int      `json:"index"` // position in the source batch
	Record     Record   `json:"record"`
	Violations []string `json:"violations"`
}

// ValidationOutcome partitions a batch into accepted and quarantined records
type ValidationOutcome struct {
	Kind        DatasetKind         `json:"kind"`
	Source      string              `json:"source"`
	Total       int                 `json:"total"`
	Accepted    []Record            `json:"accepted"`
	Quarantined []QuarantinedRecord `json:"quarantined"`
}

// PassRate is accepted / total, or 0 for an empty batch.
func (o ValidationOutcome) PassRate() float64 {
	if o.Total == 0 {
		return 0
	}
	return float64(len(o.Accepted)) / float64(o.Total)
}

// Severity ranks anomaly findings
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as o.
func (s Severity) AtLeast(o Severity) bool { return s.rank() >= o.rank() }

// AnomalyFinding is one rule that fired over a batch
type AnomalyFinding struct {
	Severity    Severity    `json:"severity"`
	RuleID      string      `json:"rule_id"`
	Kind        DatasetKind `json:"kind"`
	RecordRefs  []int       `json:"record_refs"` // indexes into the checked record slice
	Description string      `json:"description"`
}

// Affected is the number of records the finding refers to.
func (f AnomalyFinding) Affected() int { return len(f.RecordRefs) }

// Action is the flow decision taken once per anomaly stage.
type Action int

const (
	ActionContinue Action = iota
	ActionWarn
	ActionHalt
)

func (a Action) String() string {
	switch a {
	case ActionHalt:
		return "halt"
	case ActionWarn:
		return "warn"
	default:
		return "continue"
	}
}
