package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/pkg/utils"

	"github.com/shopspring/decimal"
)

// ExportResult represents the result of an export operation
type ExportResult struct {
	Type        string    `json:"type"` // "csv" or "json"
	Path        string    `json:"path"`
	RecordCount int       `json:"record_count"`
	Bytes       int64     `json:"bytes"`
	ExportedAt  time.Time `json:"exported_at"`
}

// featureColumns is the fixed CSV layout of a feature export. Undefined
// measures and absent product features are written as empty cells.
var featureColumns = []string{
	"user_id", "product_id", "category",
	"income", "rent", "recurring_bills", "discretionary_spending", "debt", "savings",
	"total_fixed_expenses", "monthly_expenses", "discretionary_income",
	"debt_to_income_ratio", "savings_rate", "expense_burden_ratio", "emergency_fund_months",
	"price", "price_to_income_ratio", "affordability_score", "residual_utility_score", "decision",
	"income_invalid", "expenses_invalid",
}

// ExportFeatures writes a feature checkpoint to
// <output dir>/features-v<version>/features.<format>.
func ExportFeatures(om *utils.OutputManager, fs model.FeatureSet, cp model.Checkpoint, format string) (ExportResult, error) {
	write := func(w io.Writer, format string) error {
		if format == utils.FormatCSV {
			return writeFeatureCSV(w, fs.Records)
		}
		return writeExportJSON(w, map[string]any{
			"export_info": map[string]any{
				"stage":        cp.Stage,
				"version":      cp.Version,
				"hash":         cp.Hash,
				"exported_at":  time.Now().UTC(),
				"record_count": len(fs.Records),
				"export_type":  "feature_records",
			},
			"data": fs.Records,
		})
	}
	return export(om, fmt.Sprintf("features-v%d", cp.Version), "features", format, len(fs.Records), write)
}

// ExportSlices writes the slice statistics of a run as
// <output dir>/<run id>/slices.<format>.
func ExportSlices(om *utils.OutputManager, m model.RunManifest, format string) (ExportResult, error) {
	write := func(w io.Writer, format string) error {
		if format == utils.FormatCSV {
			return writeSliceCSV(w, m.Slices)
		}
		return writeExportJSON(w, map[string]any{
			"export_info": map[string]any{
				"run_id":       m.RunID,
				"status":       m.Status,
				"exported_at":  time.Now().UTC(),
				"record_count": len(m.Slices),
				"export_type":  "slice_statistics",
			},
			"data": m.Slices,
		})
	}
	return export(om, m.RunID, "slices", format, len(m.Slices), write)
}

func export(om *utils.OutputManager, group, base, format string, n int, write func(io.Writer, string) error) (ExportResult, error) {
	name := base + "." + strings.ToLower(format)
	kind := utils.FormatOf(name)
	if kind == "" {
		return ExportResult{}, fmt.Errorf("unsupported export format %q", format)
	}
	path, err := om.ExportPath(group, name)
	if err != nil {
		return ExportResult{}, err
	}
	size, err := om.WriteAtomic(path, func(w io.Writer) error { return write(w, kind) })
	if err != nil {
		return ExportResult{}, err
	}
	return ExportResult{
		Type:        kind,
		Path:        path,
		RecordCount: n,
		Bytes:       size,
		ExportedAt:  time.Now().UTC(),
	}, nil
}

func writeFeatureCSV(w io.Writer, records []model.FeatureRecord) error {
	rows := make([][]string, 0, len(records))
	for _, fr := range records {
		rows = append(rows, []string{
			fr.UserID, fr.ProductID, fr.Category,
			fr.Income.StringFixed(2), fr.Rent.StringFixed(2), fr.RecurringBills.StringFixed(2),
			fr.DiscretionarySpending.StringFixed(2), fr.Debt.StringFixed(2), fr.Savings.StringFixed(2),
			fr.TotalFixedExpenses.StringFixed(2), fr.MonthlyExpenses.StringFixed(2), fr.DiscretionaryIncome.StringFixed(2),
			measureCell(&fr.DebtToIncomeRatio), measureCell(&fr.SavingsRate),
			measureCell(&fr.ExpenseBurdenRatio), measureCell(&fr.EmergencyFundMonths),
			decimalCell(fr.Price), measureCell(fr.PriceToIncomeRatio),
			decimalCell(fr.AffordabilityScore), measureCell(fr.ResidualUtilityScore), string(fr.Decision),
			strconv.FormatBool(fr.IncomeInvalid), strconv.FormatBool(fr.ExpensesInvalid),
		})
	}
	return writeCSV(w, featureColumns, rows)
}

func writeSliceCSV(w io.Writer, stats []model.SliceStat) error {
	header := []string{"dimension", "bucket", "record_count", "feature", "count", "mean", "median"}
	var rows [][]string
	for _, s := range stats {
		for _, f := range s.Features {
			rows = append(rows, []string{
				s.Dimension, s.Bucket, strconv.Itoa(s.RecordCount),
				f.Feature, strconv.Itoa(f.Count), measureCell(&f.Mean), measureCell(&f.Median),
			})
		}
	}
	return writeCSV(w, header, rows)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

func writeExportJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func measureCell(m *model.Measure) string {
	if m == nil || !m.Defined {
		return ""
	}
	return m.Value.String()
}

func decimalCell(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
