package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"affordability-pipeline/internal/model"
)

// RunStore persists run manifests and the records a run quarantined.
// *store.DB implements it.
type RunStore interface {
	SaveRun(ctx context.Context, m model.RunManifest) error
	SaveQuarantine(ctx context.Context, runID string, kind model.DatasetKind, records []model.QuarantinedRecord) error
}

// transitions is the run state machine. FAILED is reachable from every
// non-terminal state.
var transitions = map[model.RunStatus][]model.RunStatus{
	model.StatusStarted:        {model.StatusIngested},
	model.StatusIngested:       {model.StatusValidated},
	model.StatusValidated:      {model.StatusAnomalyChecked, model.StatusHalted},
	model.StatusAnomalyChecked: {model.StatusTransformed},
	model.StatusTransformed:    {model.StatusFeatured},
	model.StatusFeatured:       {model.StatusSliced},
	model.StatusSliced:         {model.StatusComplete},
}

func canTransition(from, to model.RunStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == model.StatusFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ManifestTracker owns the manifest of one run. Every recorded stage is
// persisted immediately so a crashed or halted run stays diagnosable; once
// finalized the manifest rejects further writes.
type ManifestTracker struct {
	mu       sync.Mutex
	manifest model.RunManifest
	store    RunStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewManifestTracker starts a manifest in STARTED state.
func NewManifestTracker(runID string, store RunStore, logger *slog.Logger, now func() time.Time) *ManifestTracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ManifestTracker{
		manifest: model.RunManifest{
			RunID:     runID,
			Status:    model.StatusStarted,
			StartedAt: now(),
			Stages:    []model.StageOutcome{},
		},
		store:  store,
		logger: logger,
		now:    now,
	}
}

// Record appends a stage outcome and moves the run to its transition state.
func (t *ManifestTracker) Record(ctx context.Context, out model.StageOutcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.manifest.Finalized {
		return &model.InvariantError{Op: "manifest.Record", Detail: fmt.Sprintf("run %s is finalized", t.manifest.RunID)}
	}
	if !canTransition(t.manifest.Status, out.Transition) {
		return &model.InvariantError{
			Op:     "manifest.Record",
			Detail: fmt.Sprintf("illegal transition %s -> %s at stage %s", t.manifest.Status, out.Transition, out.Name),
		}
	}
	t.manifest.Stages = append(t.manifest.Stages, out)
	t.manifest.Status = out.Transition
	t.persist(ctx)
	return nil
}

// Degrade notes a source that failed without failing the run.
func (t *ManifestTracker) Degrade(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manifest.Degraded = append(t.manifest.Degraded, source)
}

func (t *ManifestTracker) SetSlices(stats []model.SliceStat) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manifest.Slices = stats
}

// Finalize closes the manifest. A run that reached SLICED completes; a run
// still in a non-terminal state (cancelled between stages) fails with
// cause. Finalizing twice is a no-op.
func (t *ManifestTracker) Finalize(ctx context.Context, cause error) model.RunManifest {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.manifest.Finalized {
		return t.copyLocked()
	}
	switch {
	case t.manifest.Status == model.StatusSliced && cause == nil:
		t.manifest.Status = model.StatusComplete
	case !t.manifest.Status.Terminal():
		t.manifest.Status = model.StatusFailed
	}
	if cause != nil {
		t.manifest.Error = cause.Error()
	}
	finished := t.now()
	t.manifest.FinishedAt = &finished
	t.manifest.Finalized = true
	t.persist(ctx)
	return t.copyLocked()
}

// Snapshot returns a copy of the current manifest.
func (t *ManifestTracker) Snapshot() model.RunManifest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyLocked()
}

// Persist writes the current manifest.
func (t *ManifestTracker) Persist(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.persist(ctx)
}

func (t *ManifestTracker) copyLocked() model.RunManifest {
	m := t.manifest
	m.Stages = make([]model.StageOutcome, len(t.manifest.Stages))
	copy(m.Stages, t.manifest.Stages)
	m.Degraded = append([]string(nil), t.manifest.Degraded...)
	m.Slices = append([]model.SliceStat(nil), t.manifest.Slices...)
	return m
}

// persist failures are logged, not returned: the in-memory manifest is
// still handed back to the caller.
func (t *ManifestTracker) persist(ctx context.Context) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveRun(ctx, t.copyLocked()); err != nil && t.logger != nil {
		t.logger.Error("failed to persist run manifest", "run_id", t.manifest.RunID, "status", t.manifest.Status, "error", err)
	}
}
