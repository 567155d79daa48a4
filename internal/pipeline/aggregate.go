package pipeline

import (
	"fmt"
	"sort"

	"affordability-pipeline/internal/model"

	"github.com/shopspring/decimal"
)

// Slice dimensions.
const (
	DimIncomeBracket   = "income_bracket"
	DimDebtToIncome    = "debt_to_income"
	DimExpenseBurden   = "expense_burden"
	DimProductCategory = "product_category"
)

// Dimensions lists every slice dimension in report order.
var Dimensions = []string{DimIncomeBracket, DimDebtToIncome, DimExpenseBurden, DimProductCategory}

// Bucket labels.
const (
	BucketLow       = "Low"
	BucketMedium    = "Medium"
	BucketHigh      = "High"
	BucketUndefined = "Undefined"
	BucketNone      = "none"
)

var bandOrder = map[string]int{BucketLow: 0, BucketMedium: 1, BucketHigh: 2, BucketUndefined: 3}

// aggregatedFeatures are summarized in every slice, in this order.
var aggregatedFeatures = []string{
	"discretionary_income",
	"debt_to_income_ratio",
	"savings_rate",
	"expense_burden_ratio",
	"emergency_fund_months",
	"affordability_score",
}

// featureValue returns the value of a named feature and whether it is
// defined for fr. Undefined values are excluded from means and medians, as
// is every feature of a record flagged income_invalid or expenses_invalid;
// such records still count toward their bucket's RecordCount.
func featureValue(fr model.FeatureRecord, name string) (decimal.Decimal, bool) {
	if fr.IncomeInvalid || fr.ExpensesInvalid {
		return decimal.Zero, false
	}
	switch name {
	case "discretionary_income":
		return fr.DiscretionaryIncome, true
	case "debt_to_income_ratio":
		return fr.DebtToIncomeRatio.Value, fr.DebtToIncomeRatio.Defined
	case "savings_rate":
		return fr.SavingsRate.Value, fr.SavingsRate.Defined
	case "expense_burden_ratio":
		return fr.ExpenseBurdenRatio.Value, fr.ExpenseBurdenRatio.Defined
	case "emergency_fund_months":
		return fr.EmergencyFundMonths.Value, fr.EmergencyFundMonths.Defined
	case "affordability_score":
		if fr.AffordabilityScore == nil {
			return decimal.Zero, false
		}
		return *fr.AffordabilityScore, true
	default:
		return decimal.Zero, false
	}
}

// band places v against [low, high]: below low is Low, above high is High.
func band(v model.Measure, low, high decimal.Decimal) string {
	switch {
	case !v.Defined:
		return BucketUndefined
	case v.Value.LessThan(low):
		return BucketLow
	case v.Value.GreaterThan(high):
		return BucketHigh
	default:
		return BucketMedium
	}
}

func bucketOf(fr model.FeatureRecord, dimension string, th model.Thresholds) (string, error) {
	switch dimension {
	case DimIncomeBracket:
		return band(model.Defined(fr.Income), th.IncomeLow, th.IncomeHigh), nil
	case DimDebtToIncome:
		return band(fr.DebtToIncomeRatio, th.DebtLow, th.DebtHigh), nil
	case DimExpenseBurden:
		return band(fr.ExpenseBurdenRatio, th.BurdenLow, th.BurdenHigh), nil
	case DimProductCategory:
		if fr.Category == "" {
			return BucketNone, nil
		}
		return fr.Category, nil
	default:
		return "", fmt.Errorf("unknown slice dimension %q", dimension)
	}
}

// Aggregate partitions features into the buckets of one dimension and
// summarizes each bucket. Only non-empty buckets are returned: banded
// dimensions in Low, Medium, High, Undefined order, categories sorted by
// label. Reduction is a single pass in input order, so identical input
// gives identical output.
func Aggregate(features []model.FeatureRecord, dimension string, th model.Thresholds) ([]model.SliceStat, error) {
	members := make(map[string][]int)
	for i, fr := range features {
		b, err := bucketOf(fr, dimension, th)
		if err != nil {
			return nil, err
		}
		members[b] = append(members[b], i)
	}

	buckets := make([]string, 0, len(members))
	for b := range members {
		buckets = append(buckets, b)
	}
	SortBuckets(dimension, buckets)

	stats := make([]model.SliceStat, 0, len(buckets))
	for _, b := range buckets {
		stat := model.SliceStat{Dimension: dimension, Bucket: b, RecordCount: len(members[b])}
		for _, name := range aggregatedFeatures {
			var vals []decimal.Decimal
			for _, i := range members[b] {
				if v, ok := featureValue(features[i], name); ok {
					vals = append(vals, v)
				}
			}
			stat.Features = append(stat.Features, summarize(name, vals))
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

// AggregateAll runs Aggregate for every dimension in Dimensions.
func AggregateAll(features []model.FeatureRecord, th model.Thresholds) ([]model.SliceStat, error) {
	var all []model.SliceStat
	for _, dim := range Dimensions {
		stats, err := Aggregate(features, dim, th)
		if err != nil {
			return nil, err
		}
		all = append(all, stats...)
	}
	return all, nil
}

// SortBuckets orders bucket labels for a dimension in place.
func SortBuckets(dimension string, buckets []string) {
	if dimension == DimProductCategory {
		sort.Strings(buckets)
		return
	}
	sort.Slice(buckets, func(i, j int) bool { return bandOrder[buckets[i]] < bandOrder[buckets[j]] })
}

func summarize(name string, vals []decimal.Decimal) model.FeatureSummary {
	s := model.FeatureSummary{Feature: name, Count: len(vals)}
	if len(vals) == 0 {
		return s
	}
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
	}
	s.Mean = model.Defined(sum.DivRound(decimal.NewFromInt(int64(len(vals))), ratioPlaces))

	sorted := make([]decimal.Decimal, len(vals))
	copy(sorted, vals)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		s.Median = model.Defined(sorted[mid])
	} else {
		s.Median = model.Defined(sorted[mid-1].Add(sorted[mid]).DivRound(decimal.NewFromInt(2), ratioPlaces))
	}
	return s
}
