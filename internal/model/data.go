package model

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Measure is a decimal that may be undefined, such as a ratio whose
// denominator is zero. Undefined values serialize as null.
type Measure struct {
	Value   decimal.Decimal
	Defined bool
}

func Defined(d decimal.Decimal) Measure { return Measure{Value: d, Defined: true} }
func Undefined() Measure { return Measure{} }

// Equal treats two undefined measures as equal.
func (m Measure) Equal(o Measure) bool {
	if m.Defined != o.Defined {
		return false
	}
	return !m.Defined || m.Value.Equal(o.Value)
}

func (m Measure) String() string {
	if !m.Defined {
		return "undefined"
	}
	return m.Value.String()
}

func (m Measure) MarshalJSON() ([]byte, error) {
	if !m.Defined {
		return []byte("null"), nil
	}
	return m.Value.MarshalJSON()
}

func (m *Measure) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Undefined()
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*m = Defined(d)
	return nil
}

// Decision is the affordability light for one financial/product pair
type Decision string

const (
	DecisionGreen  Decision = "Green"
	DecisionYellow Decision = "Yellow"
	DecisionRed    Decision = "Red"
)

// FeatureRecord holds the canonical monthly inputs and derived features
// for one financial record and an optional product
type FeatureRecord struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id,omitempty"`
	Category  string `json:"category,omitempty"`

	// canonical monthly inputs
	Income                decimal.Decimal `json:"income"`
	Rent                  decimal.Decimal `json:"rent"`
	RecurringBills        decimal.Decimal `json:"recurring_bills"`
	DiscretionarySpending decimal.Decimal `json:"discretionary_spending"`
	Debt                  decimal.Decimal `json:"debt"`
	Savings               decimal.Decimal `json:"savings"`

	TotalFixedExpenses  decimal.Decimal `json:"total_fixed_expenses"`
	MonthlyExpenses     decimal.Decimal `json:"monthly_expenses"`
	DiscretionaryIncome decimal.Decimal `json:"discretionary_income"`
	DebtToIncomeRatio   Measure         `json:"debt_to_income_ratio"`
	SavingsRate         Measure         `json:"savings_rate"`
	ExpenseBurdenRatio  Measure         `json:"expense_burden_ratio"`
	EmergencyFundMonths Measure         `json:"emergency_fund_months"`

	// present only when a product is attached
	Price                *decimal.Decimal `json:"price,omitempty"`
	PriceToIncomeRatio   *Measure         `json:"price_to_income_ratio,omitempty"`
	AffordabilityScore   *decimal.Decimal `json:"affordability_score,omitempty"`
	ResidualUtilityScore *Measure         `json:"residual_utility_score,omitempty"`
	Decision             Decision         `json:"decision,omitempty"`

	IncomeInvalid   bool     `json:"income_invalid"`
	ExpensesInvalid bool     `json:"expenses_invalid"`
	Imputed         []string `json:"imputed,omitempty"` // optional inputs taken as zero
}

// HasProduct reports whether product features were derived.
func (f FeatureRecord) HasProduct() bool { return f.Price != nil }

// FeatureSummary is the mean and median of one feature within a slice
type FeatureSummary struct {
	Feature string  `json:"feature"`
	Count   int     `json:"count"` // records contributing a defined value
	Mean    Measure `json:"mean"`
	Median  Measure `json:"median"`
}

// SliceStat aggregates feature records falling into one cohort bucket
type SliceStat struct {
	Dimension   string           `json:"dimension"`
	Bucket      string           `json:"bucket"`
	RecordCount int              `json:"record_count"`
	Features    []FeatureSummary `json:"features"`
}

// FeatureSet is the payload of the features checkpoint and the only
// surface downstream model code reads.
type FeatureSet struct {
	Records []FeatureRecord `json:"records"`
}

// MarshalCanonical encodes v as compact JSON without HTML escaping so the
// bytes, and therefore content hashes, are stable.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
