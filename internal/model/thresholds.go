package model

import "github.com/shopspring/decimal"

// Thresholds is the immutable configuration passed into every stage call.
// Bracket bounds are monthly currency units or plain ratios.
type Thresholds struct {
	IncomeLow  decimal.Decimal // income < IncomeLow is Low
	IncomeHigh decimal.Decimal // income > IncomeHigh is High
	DebtLow    decimal.Decimal
	DebtHigh   decimal.Decimal
	BurdenLow  decimal.Decimal
	BurdenHigh decimal.Decimal

	WarningPct         decimal.Decimal // share of a batch above which a rule is WARNING
	MissingRequiredPct decimal.Decimal // share of missing required values above which the batch is CRITICAL
	OutlierIQR         decimal.Decimal // fence multiplier for the IQR outlier rule
	MinRecordsRequired int

	GreenBuffer        decimal.Decimal // residual utility months needed for Green
	RedEmergencyMonths decimal.Decimal // emergency fund months after purchase below which the verdict is Red
}

// DefaultThresholds returns the shipped defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IncomeLow:          decimal.NewFromInt(3000),
		IncomeHigh:         decimal.NewFromInt(7000),
		DebtLow:            decimal.RequireFromString("0.2"),
		DebtHigh:           decimal.RequireFromString("0.4"),
		BurdenLow:          decimal.RequireFromString("0.5"),
		BurdenHigh:         decimal.RequireFromString("0.8"),
		WarningPct:         decimal.RequireFromString("0.05"),
		MissingRequiredPct: decimal.RequireFromString("0.10"),
		OutlierIQR:         decimal.NewFromInt(3),
		MinRecordsRequired: 100,
		GreenBuffer:        decimal.RequireFromString("0.5"),
		RedEmergencyMonths: decimal.NewFromInt(1),
	}
}

// Validate returns a ConfigError for inverted brackets or out-of-range shares.
func (t Thresholds) Validate() error {
	pairs := []struct {
		name      string
		low, high decimal.Decimal
	}{
		{"income_brackets", t.IncomeLow, t.IncomeHigh},
		{"debt_brackets", t.DebtLow, t.DebtHigh},
		{"burden_brackets", t.BurdenLow, t.BurdenHigh},
	}
	for _, p := range pairs {
		if p.low.GreaterThan(p.high) {
			return &ConfigError{Field: p.name, Reason: "low bound exceeds high bound"}
		}
	}
	one := decimal.NewFromInt(1)
	shares := []struct {
		name string
		pct  decimal.Decimal
	}{
		{"warning_pct", t.WarningPct},
		{"missing_required_pct", t.MissingRequiredPct},
	}
	for _, s := range shares {
		if s.pct.IsNegative() || s.pct.GreaterThan(one) {
			return &ConfigError{Field: s.name, Reason: "must be within [0, 1]"}
		}
	}
	if !t.OutlierIQR.IsPositive() {
		return &ConfigError{Field: "outlier_iqr", Reason: "must be positive"}
	}
	if t.MinRecordsRequired < 0 {
		return &ConfigError{Field: "min_records_required", Reason: "must not be negative"}
	}
	return nil
}
