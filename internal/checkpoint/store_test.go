package checkpoint

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	root := filepath.Join(dir, "blobs")
	return New(db, &FileBlobStore{Root: root}, slog.New(slog.NewTextHandler(io.Discard, nil))), root
}

func sampleBatch() model.Batch {
	return model.NewBatch(model.KindFinancial, "static:test", time.Time{}, []model.Record{
		model.NewRecord("",
			model.Field{Name: "user_id", Value: model.String("u1")},
			model.Field{Name: "income", Value: model.Int(5000)},
		),
	})
}

func TestSaveLoadRoundTripIsByteIdentical(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	want, err := model.MarshalCanonical(sampleBatch())
	require.NoError(t, err)

	cp, err := s.SaveBytes(ctx, StageRaw, want)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Version)
	assert.Equal(t, Hash(want), cp.Hash)

	got, loaded, err := s.Load(ctx, StageRaw, cp.Version)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, cp.Hash, loaded.Hash)
}

func TestIdenticalPayloadGetsNewVersionSameBlob(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()

	a, err := s.Save(ctx, StageRaw, sampleBatch())
	require.NoError(t, err)
	b, err := s.Save(ctx, StageRaw, sampleBatch())
	require.NoError(t, err)

	assert.Equal(t, 1, a.Version)
	assert.Equal(t, 2, b.Version)
	assert.Equal(t, a.Hash, b.Hash)
	assert.Equal(t, a.Location, b.Location)

	entries, err := os.ReadDir(filepath.Join(root, StageRaw))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	list, err := s.List(ctx, StageRaw)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestLoadMissingVersion(t *testing.T) {
	s, _ := newTestStore(t)
	_, _, err := s.Load(context.Background(), StageProcessed, 3)
	assert.True(t, model.IsNotFound(err))

	_, _, err = s.LoadLatest(context.Background(), StageProcessed)
	assert.True(t, model.IsNotFound(err), "latest of an empty stage")
}

func TestVersionZeroIsNotLatest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	saved, err := s.Save(ctx, StageRaw, sampleBatch())
	require.NoError(t, err)

	_, _, err = s.Load(ctx, StageRaw, 0)
	assert.True(t, model.IsNotFound(err))
	_, err = s.Lookup(ctx, StageRaw, -1)
	assert.True(t, model.IsNotFound(err))

	latest, err := s.Latest(ctx, StageRaw)
	require.NoError(t, err)
	assert.Equal(t, saved.Version, latest.Version)
	assert.Equal(t, saved.Hash, latest.Hash)
}

func TestLoadDetectsTamperedBlob(t *testing.T) {
	s, root := newTestStore(t)
	ctx := context.Background()

	cp, err := s.Save(ctx, StageProcessed, sampleBatch())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(cp.Location)), []byte(`{}`), 0o644))

	_, _, err = s.Load(ctx, StageProcessed, cp.Version)
	var inv *model.InvariantError
	assert.ErrorAs(t, err, &inv)
}

func TestLoadFeatureSetLatest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	score := decimal.NewFromInt(2000)
	first := model.FeatureSet{Records: []model.FeatureRecord{{UserID: "u1", DiscretionaryIncome: decimal.NewFromInt(3200)}}}
	second := model.FeatureSet{Records: []model.FeatureRecord{{
		UserID:             "u2",
		DebtToIncomeRatio:  model.Defined(decimal.RequireFromString("0.04")),
		AffordabilityScore: &score,
		Decision:           model.DecisionGreen,
	}}}
	_, err := s.Save(ctx, StageFeatures, first)
	require.NoError(t, err)
	_, err = s.Save(ctx, StageFeatures, second)
	require.NoError(t, err)

	got, cp, err := s.LatestFeatureSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Version)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "u2", got.Records[0].UserID)
	assert.True(t, got.Records[0].DebtToIncomeRatio.Equal(second.Records[0].DebtToIncomeRatio))
	assert.True(t, got.Records[0].AffordabilityScore.Equal(score))

	older, _, err := s.LoadFeatureSet(ctx, 1)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"u1"}, []string{older.Records[0].UserID}); diff != "" {
		t.Error(diff)
	}
}

func TestFileBlobStoreRejectsEscapingLocation(t *testing.T) {
	b := &FileBlobStore{Root: t.TempDir()}
	_, err := b.Get(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
}
