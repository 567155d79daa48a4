package pipeline

import (
	"testing"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformConvertsPeriods(t *testing.T) {
	tr := &RecordTransformer{Registry: schema.Default(), Workers: 2}
	in := []model.Record{
		rec(model.KindFinancial, "user_id", "w", "income", 1000, "rent", 250, "savings", 5000, "period", "Weekly"),
		rec(model.KindFinancial, "user_id", "a", "income", 60000, "rent", 18000, "debt", 1000, "savings", 5000, "period", "annual"),
		rec(model.KindFinancial, "user_id", "m", "income", 4000, "rent", 1200, "savings", 100),
	}

	out, err := tr.Transform(in)
	require.NoError(t, err)
	require.Len(t, out, 3)

	weekly := out[0]
	assert.Equal(t, "4330", weekly.Text("income"))
	assert.Equal(t, "1082.5", weekly.Text("rent"))
	assert.Equal(t, "5000", weekly.Text("savings"), "savings is a balance, not a flow")
	assert.Equal(t, "monthly", weekly.Text("period"))

	annual := out[1]
	assert.Equal(t, "5000", annual.Text("income"))
	assert.Equal(t, "1500", annual.Text("rent"))
	assert.Equal(t, "83.33", annual.Text("debt"))

	assert.True(t, in[2].Equal(out[2]), "monthly records pass through unchanged")
	_, hasPeriod := out[2].Get("period")
	assert.False(t, hasPeriod, "missing values are never filled in")
}

func TestTransformIsIdempotent(t *testing.T) {
	tr := &RecordTransformer{Registry: schema.Default()}
	in := []model.Record{
		rec(model.KindFinancial, "user_id", "w", "income", 1000, "rent", 250, "savings", 5000, "period", "weekly", "employment_status", "Full-Time"),
		rec(model.KindProduct, "product_id", "p1", "price", 20, "category", "Home & Kitchen"),
	}

	once, err := tr.Transform(in)
	require.NoError(t, err)
	twice, err := tr.Transform(once)
	require.NoError(t, err)

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Truef(t, once[i].Equal(twice[i]), "record %d changed on second pass: %v -> %v", i, once[i], twice[i])
	}
	assert.Equal(t, "full_time", once[0].Text("employment_status"))
	assert.Equal(t, "home_kitchen", once[1].Text("category"))
}

func TestTransformDropsExactDuplicates(t *testing.T) {
	tr := &RecordTransformer{Logger: quietLogger()}
	a := product("p1", "u1", 100)
	b := product("p2", "u1", 100)

	out, err := tr.Transform([]model.Record{a, b, a, product("P1", "u1", 100)})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "p1", out[0].Text("product_id"))
	assert.Equal(t, "p2", out[1].Text("product_id"))
	assert.Equal(t, "P1", out[2].Text("product_id"))
}

func TestTransformKeepsRecordsEqualOnlyAfterConversion(t *testing.T) {
	tr := &RecordTransformer{Logger: quietLogger()}
	annual := rec(model.KindFinancial, "user_id", "u1", "income", 60000, "rent", 18000, "savings", 100, "period", "annual")
	monthly := rec(model.KindFinancial, "user_id", "u1", "income", 5000, "rent", 1500, "savings", 100, "period", "monthly")

	out, err := tr.Transform([]model.Record{annual, monthly, monthly})
	require.NoError(t, err)
	require.Len(t, out, 2, "only the repeated monthly record is an exact duplicate")
	first, err := model.MarshalCanonical(out[0])
	require.NoError(t, err)
	second, err := model.MarshalCanonical(out[1])
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second), "both convert to the same monthly record")
	assert.Equal(t, "5000", out[0].Text("income"))
}

func TestTransformKeepsUnmappedCategories(t *testing.T) {
	tr := &RecordTransformer{Logger: quietLogger()}
	out, err := tr.Transform([]model.Record{rec(model.KindProduct, "product_id", "p", "price", 1, "category", "Garden Gnomes")})
	require.NoError(t, err)
	assert.Equal(t, "Garden Gnomes", out[0].Text("category"))
}

func TestTransformRejectsUnknownPeriod(t *testing.T) {
	tr := &RecordTransformer{}
	_, err := tr.Transform([]model.Record{rec(model.KindFinancial, "user_id", "u", "income", 1, "rent", 1, "savings", 1, "period", "hourly")})
	var inv *model.InvariantError
	assert.ErrorAs(t, err, &inv)
}

func TestNormalizeLabel(t *testing.T) {
	tests := map[string]string{
		"  Home & Kitchen ": "home and kitchen",
		"toys_and-games":    "toys and games",
		"ELECTRONICS":       "electronics",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeLabel(in), in)
	}
}
