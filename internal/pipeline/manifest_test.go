package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"affordability-pipeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) SaveRun(ctx context.Context, manifest model.RunManifest) error {
	args := m.Called(ctx, manifest)
	return args.Error(0)
}

func (m *MockRunStore) SaveQuarantine(ctx context.Context, runID string, kind model.DatasetKind, records []model.QuarantinedRecord) error {
	args := m.Called(ctx, runID, kind, records)
	return args.Error(0)
}

func stage(name string, to model.RunStatus) model.StageOutcome {
	return model.StageOutcome{Name: name, Status: model.StageOK, Transition: to}
}

func TestManifestHappyPath(t *testing.T) {
	store := new(MockRunStore)
	store.On("SaveRun", mock.Anything, mock.Anything).Return(nil)
	tr := NewManifestTracker("r1", store, quietLogger(), func() time.Time { return fixedTime })

	for _, s := range []model.StageOutcome{
		stage(StageIngest, model.StatusIngested),
		stage(StageValidate, model.StatusValidated),
		stage(StageAnomaly, model.StatusAnomalyChecked),
		stage(StageTransform, model.StatusTransformed),
		stage(StageFeatures, model.StatusFeatured),
		stage(StageSlices, model.StatusSliced),
	} {
		require.NoError(t, tr.Record(context.Background(), s))
	}
	m := tr.Finalize(context.Background(), nil)

	assert.Equal(t, model.StatusComplete, m.Status)
	assert.True(t, m.Finalized)
	assert.Equal(t, fixedTime, *m.FinishedAt)
	assert.Empty(t, m.Error)
	store.AssertNumberOfCalls(t, "SaveRun", 7)
	store.AssertCalled(t, "SaveRun", mock.Anything, mock.MatchedBy(func(got model.RunManifest) bool {
		return got.Status == model.StatusComplete && got.Finalized
	}))
}

func TestManifestRejectsIllegalTransitions(t *testing.T) {
	tr := NewManifestTracker("r1", nil, quietLogger(), nil)

	err := tr.Record(context.Background(), stage(StageTransform, model.StatusTransformed))
	var inv *model.InvariantError
	require.ErrorAs(t, err, &inv)
	assert.Contains(t, inv.Detail, "STARTED -> TRANSFORMED")
	assert.Empty(t, tr.Snapshot().Stages, "rejected outcomes are not recorded")

	require.NoError(t, tr.Record(context.Background(), stage(StageIngest, model.StatusIngested)))
	require.NoError(t, tr.Record(context.Background(), stage(StageValidate, model.StatusValidated)))
	require.NoError(t, tr.Record(context.Background(), model.StageOutcome{Name: StageAnomaly, Status: model.StageHalted, Transition: model.StatusHalted}))

	// HALTED is terminal
	assert.Error(t, tr.Record(context.Background(), stage(StageTransform, model.StatusFailed)))
	m := tr.Finalize(context.Background(), errors.New("halted"))
	assert.Equal(t, model.StatusHalted, m.Status)
	assert.Equal(t, "halted", m.Error)
}

func TestManifestFinalizeFailsUnfinishedRun(t *testing.T) {
	tr := NewManifestTracker("r1", nil, quietLogger(), nil)
	require.NoError(t, tr.Record(context.Background(), stage(StageIngest, model.StatusIngested)))

	m := tr.Finalize(context.Background(), context.Canceled)
	assert.Equal(t, model.StatusFailed, m.Status)
	assert.Equal(t, context.Canceled.Error(), m.Error)

	again := tr.Finalize(context.Background(), nil)
	assert.Equal(t, m.Status, again.Status, "finalizing twice is a no-op")
	assert.Equal(t, m.Error, again.Error)

	err := tr.Record(context.Background(), stage(StageValidate, model.StatusValidated))
	assert.Error(t, err, "a finalized manifest rejects writes")
}

func TestManifestPersistFailureIsNotFatal(t *testing.T) {
	store := new(MockRunStore)
	store.On("SaveRun", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	tr := NewManifestTracker("r1", store, quietLogger(), nil)

	assert.NoError(t, tr.Record(context.Background(), stage(StageIngest, model.StatusIngested)))
	assert.Equal(t, model.StatusIngested, tr.Snapshot().Status)
	store.AssertExpectations(t)
}

func TestManifestSnapshotIsACopy(t *testing.T) {
	tr := NewManifestTracker("r1", nil, nil, nil)
	require.NoError(t, tr.Record(context.Background(), stage(StageIngest, model.StatusIngested)))

	snap := tr.Snapshot()
	snap.Stages[0].Name = "mutated"
	assert.Equal(t, StageIngest, tr.Snapshot().Stages[0].Name)
}

func TestManifestConcurrentDegrade(t *testing.T) {
	tr := NewManifestTracker("r1", nil, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Degrade("src")
		}()
	}
	wg.Wait()
	assert.Len(t, tr.Snapshot().Degraded, 10)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(model.StatusValidated, model.StatusHalted))
	assert.True(t, canTransition(model.StatusFeatured, model.StatusFailed))
	assert.False(t, canTransition(model.StatusComplete, model.StatusFailed))
	assert.False(t, canTransition(model.StatusIngested, model.StatusAnomalyChecked))
}
