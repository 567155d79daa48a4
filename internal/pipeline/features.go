package pipeline

import (
	"fmt"
	"log/slog"

	"affordability-pipeline/internal/model"

	"github.com/shopspring/decimal"
)

// FeatureEngine derives feature records from transformed records.
type FeatureEngine interface {
	DeriveAll(financial, products []model.Record) ([]model.FeatureRecord, error)
}

// ratioPlaces is the declared precision of derived ratios.
const ratioPlaces = 4

// Engine is the default FeatureEngine.
type Engine struct {
	Thresholds model.Thresholds
	Workers    int
	Logger     *slog.Logger
}

// DeriveAll pairs each financial record with the products sharing its
// user_id and derives one feature record per pair. A financial record with
// no product yields a record without product features. Output follows
// financial order, then product order within a user.
func (e Engine) DeriveAll(financial, products []model.Record) ([]model.FeatureRecord, error) {
	byUser := make(map[string][]int)
	for i, p := range products {
		uid := p.Text("user_id")
		byUser[uid] = append(byUser[uid], i)
	}

	type pair struct {
		fin  model.Record
		prod *model.Record
	}
	var pairs []pair
	matched := make(map[string]bool)
	for _, f := range financial {
		uid := f.Text("user_id")
		idx := byUser[uid]
		if uid == "" || len(idx) == 0 {
			pairs = append(pairs, pair{fin: f})
			continue
		}
		matched[uid] = true
		for _, i := range idx {
			p := products[i]
			pairs = append(pairs, pair{fin: f, prod: &p})
		}
	}

	if e.Logger != nil {
		orphaned := 0
		for uid, idx := range byUser {
			if !matched[uid] {
				orphaned += len(idx)
			}
		}
		if orphaned > 0 {
			e.Logger.Warn("products without a matching financial record", "count", orphaned)
		}
	}

	return mapOrdered("features", e.Workers, pairs, func(_ int, p pair) (model.FeatureRecord, error) {
		return e.Derive(p.fin, p.prod)
	})
}

// Derive computes the features for one financial record and an optional
// product. Inputs must already be monthly. Missing optional amounts are
// taken as zero and listed in Imputed. A missing required amount or a
// negative amount means an upstream stage let bad data through and is
// reported as an InvariantError.
func (e Engine) Derive(fin model.Record, prod *model.Record) (model.FeatureRecord, error) {
	if fin.Kind != model.KindFinancial {
		return model.FeatureRecord{}, &model.InvariantError{Op: "derive", Detail: fmt.Sprintf("expected financial record, got %q", fin.Kind)}
	}
	fr := model.FeatureRecord{UserID: fin.Text("user_id")}

	var err error
	amounts := []struct {
		field    string
		required bool
		dst      *decimal.Decimal
	}{
		{"income", true, &fr.Income},
		{"rent", true, &fr.Rent},
		{"recurring_bills", false, &fr.RecurringBills},
		{"discretionary_spending", false, &fr.DiscretionarySpending},
		{"debt", false, &fr.Debt},
		{"savings", true, &fr.Savings},
	}
	for _, a := range amounts {
		var imputed bool
		if *a.dst, imputed, err = amount(fin, a.field, a.required); err != nil {
			return model.FeatureRecord{}, err
		}
		if imputed {
			fr.Imputed = append(fr.Imputed, a.field)
		}
	}

	fr.TotalFixedExpenses = fr.Rent.Add(fr.RecurringBills).Round(currencyPlaces)
	fr.MonthlyExpenses = fr.TotalFixedExpenses.Add(fr.Debt).Add(fr.DiscretionarySpending).Round(currencyPlaces)
	fr.DiscretionaryIncome = fr.Income.Sub(fr.TotalFixedExpenses).Round(currencyPlaces)

	fr.IncomeInvalid = fr.Income.IsZero()
	fr.ExpensesInvalid = fr.MonthlyExpenses.IsZero()
	fr.DebtToIncomeRatio = ratio(fr.Debt, fr.Income)
	fr.SavingsRate = ratio(fr.Savings, fr.Income)
	fr.ExpenseBurdenRatio = ratio(fr.MonthlyExpenses, fr.Income)
	fr.EmergencyFundMonths = ratio(fr.Savings, fr.MonthlyExpenses)

	if prod != nil {
		price, _, err := amount(*prod, "price", true)
		if err != nil {
			return model.FeatureRecord{}, err
		}
		fr.ProductID = prod.Text("product_id")
		fr.Category = prod.Text("category")
		fr.Price = &price

		pti := ratio(price, fr.Income)
		score := fr.DiscretionaryIncome.Sub(price).Round(currencyPlaces)
		rus := ratio(fr.Savings.Sub(price), fr.MonthlyExpenses)
		fr.PriceToIncomeRatio = &pti
		fr.AffordabilityScore = &score
		fr.ResidualUtilityScore = &rus
		fr.Decision = Verdict(fr, e.Thresholds)
	}
	return fr, nil
}

// amount reads a monetary field. Absent or null optional fields come back
// as zero with imputed set.
func amount(rec model.Record, field string, required bool) (d decimal.Decimal, imputed bool, err error) {
	v, ok := rec.Get(field)
	if !ok || v.IsNull() {
		if required {
			return decimal.Zero, false, &model.InvariantError{Op: "derive", Detail: fmt.Sprintf("required %s %s is missing", rec.Kind, field)}
		}
		return decimal.Zero, true, nil
	}
	if !v.IsNumber() {
		return decimal.Zero, false, &model.InvariantError{Op: "derive", Detail: fmt.Sprintf("%s %s is not numeric", rec.Kind, field)}
	}
	if v.Num.IsNegative() {
		return decimal.Zero, false, &model.InvariantError{Op: "derive", Detail: fmt.Sprintf("negative %s %s reached feature derivation", rec.Kind, field)}
	}
	return v.Num, false, nil
}

// ratio divides to ratioPlaces, or returns the undefined sentinel for a
// zero denominator.
func ratio(num, den decimal.Decimal) model.Measure {
	if den.IsZero() {
		return model.Undefined()
	}
	return model.Defined(num.DivRound(den, ratioPlaces))
}
