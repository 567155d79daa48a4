package utils

import (
	"strings"
	"time"

	"affordability-pipeline/internal/model"

	"github.com/shopspring/decimal"
)

// ParseDuration safely parses duration string like "5m", falling back to def
func ParseDuration(d string, def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	duration, err := time.ParseDuration(d)
	if err != nil {
		return def
	}
	return duration
}

// ParseValue turns a raw text cell into a typed value. Empty cells and the
// usual null spellings become null; anything that parses as a decimal
// becomes a number; everything else stays a string.
func ParseValue(s string) model.Value {
	// Trim whitespace first
	s = strings.TrimSpace(s)

	switch strings.ToLower(s) {
	case "", "null", "nan", "n/a", "na", "none":
		return model.Null()
	}
	// strip thousands separators from currency-looking cells: "1,200.50"
	if strings.Contains(s, ",") && !strings.ContainsAny(s, " ;") {
		if d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", "")); err == nil {
			return model.Number(d)
		}
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return model.Number(d)
	}
	return model.String(s)
}

// CleanHeader trims whitespace and removes all quotes from a CSV header cell
func CleanHeader(h string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ReplaceAll(h, `"`, "")
}
