package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"affordability-pipeline/internal/alert"
	"affordability-pipeline/internal/checkpoint"
	"affordability-pipeline/internal/metrics"
	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/schema"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage names recorded in run manifests.
const (
	StageIngest    = "ingest"
	StageValidate  = "validate"
	StageAnomaly   = "anomaly"
	StageTransform = "transform"
	StageFeatures  = "features"
	StageSlices    = "slices"
)

// CheckpointSaver is the write side of the checkpoint store.
type CheckpointSaver interface {
	Save(ctx context.Context, stage string, payload any) (model.Checkpoint, error)
}

// RawPayload is the content of the raw checkpoint. Product is nil when the
// run has no product source or the product fetch failed.
type RawPayload struct {
	Financial model.Batch  `json:"financial"`
	Product   *model.Batch `json:"product,omitempty"`
}

// ProcessedPayload is the content of the processed checkpoint.
type ProcessedPayload struct {
	Financial []model.Record `json:"financial"`
	Product   []model.Record `json:"product"`
}

// Runner sequences the stages of a run. It is the only component that
// writes manifests, checkpoints or quarantine; every stage it calls is a
// pure function of its inputs.
type Runner struct {
	Registry   *schema.Registry
	Thresholds model.Thresholds

	Financial Source
	Product   Source // optional

	Transformer Transformer
	Features    FeatureEngine

	Checkpoints CheckpointSaver
	Runs        RunStore       // optional
	Notifier    alert.Notifier // optional
	Metrics     *metrics.Recorder

	Retry   RetryConfig
	Workers int
	Logger  *slog.Logger
	Now     func() time.Time
}

// run carries the values passed between stages of one execution.
type run struct {
	id      string
	tracker *ManifestTracker
	logger  *slog.Logger

	financial model.Batch
	product   *model.Batch

	finOutcome  model.ValidationOutcome
	prodOutcome *model.ValidationOutcome

	rawRef       model.CheckpointRef
	processedRef model.CheckpointRef

	processed ProcessedPayload
	features  []model.FeatureRecord
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Run executes one pipeline run and returns its finalized manifest. An
// empty runID is replaced by a generated one. The error is nil for a
// COMPLETE run, an *model.AnomalyHalt for a HALTED run, and the failure
// cause for a FAILED one. Cancellation of ctx is honored between stages
// only; a stage in progress always runs to completion.
func (r *Runner) Run(ctx context.Context, runID string) (manifest model.RunManifest, err error) {
	if runID == "" {
		runID = NewRunID()
	}
	logger := r.logger().With("run_id", runID)
	st := &run{
		id:      runID,
		tracker: NewManifestTracker(runID, r.Runs, logger, r.Now),
		logger:  logger,
	}
	// stage work and bookkeeping must outlive a cancelled caller
	work := context.WithoutCancel(ctx)
	st.tracker.Persist(work)
	logger.Info("pipeline run started")

	defer func() {
		if p := recover(); p != nil {
			err = &model.InvariantError{Op: "pipeline.Run", Detail: fmt.Sprintf("panic: %v", p)}
			st.tracker.Record(work, model.StageOutcome{
				Name: "panic", Status: model.StageFailed, Transition: model.StatusFailed,
				StartedAt: r.now(), Error: err.Error(),
			})
		}
		manifest = st.tracker.Finalize(work, err)
		r.Metrics.RunFinished(string(manifest.Status))
		logger.Info("pipeline run finished", "status", manifest.Status, "stages", len(manifest.Stages))
	}()

	steps := []struct {
		name string
		fn   func(context.Context, *run) (model.StageOutcome, error)
	}{
		{StageIngest, r.ingest},
		{StageValidate, r.validate},
		{StageAnomaly, r.detect},
		{StageTransform, r.transform},
		{StageFeatures, r.derive},
		{StageSlices, r.slice},
	}
	for _, step := range steps {
		if cerr := ctx.Err(); cerr != nil {
			return model.RunManifest{}, fmt.Errorf("run cancelled before %s: %w", step.name, cerr)
		}
		if err := r.step(work, st, step.name, step.fn); err != nil {
			return model.RunManifest{}, err
		}
	}
	return model.RunManifest{}, nil
}

// step runs one stage and records its outcome. A stage that returns an
// error without choosing its own status is recorded as failed.
func (r *Runner) step(ctx context.Context, st *run, name string, fn func(context.Context, *run) (model.StageOutcome, error)) error {
	started := r.now()
	clock := time.Now()
	out, err := fn(ctx, st)
	elapsed := time.Since(clock)

	out.Name = name
	out.StartedAt = started
	out.DurationMS = elapsed.Milliseconds()
	if err != nil && out.Status == "" {
		out.Status = model.StageFailed
		out.Transition = model.StatusFailed
	}
	if err != nil {
		out.Error = err.Error()
	}
	if out.Status == "" {
		out.Status = model.StageOK
	}
	r.Metrics.StageFinished(name, string(out.Status), elapsed)

	logArgs := []any{"stage", name, "status", out.Status, "duration", elapsed}
	for _, k := range sortedKeys(out.Counts) {
		logArgs = append(logArgs, k, out.Counts[k])
	}
	if err != nil {
		st.logger.Error("stage ended", append(logArgs, "error", err)...)
	} else {
		st.logger.Info("stage ended", logArgs...)
	}

	if rerr := st.tracker.Record(ctx, out); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

// ------------------- Stages -------------------

func (r *Runner) ingest(ctx context.Context, st *run) (model.StageOutcome, error) {
	out := model.StageOutcome{Transition: model.StatusIngested, Counts: map[string]int{}}
	if r.Financial == nil {
		return out, &model.InvariantError{Op: "pipeline.ingest", Detail: "no financial source configured"}
	}

	var (
		fin            model.Batch
		prod           model.Batch
		finErr, prdErr error
		g              errgroup.Group
	)
	// the sources are independent; a product failure must not cancel the
	// financial fetch, so errors are collected rather than returned
	g.Go(func() error {
		fin, finErr = r.fetch(ctx, r.Financial)
		return nil
	})
	if r.Product != nil {
		g.Go(func() error {
			prod, prdErr = r.fetch(ctx, r.Product)
			return nil
		})
	}
	_ = g.Wait()

	if finErr != nil {
		return out, finErr
	}
	st.financial = fin
	out.Counts[string(model.KindFinancial)] = fin.Count()

	if r.Product != nil {
		if prdErr != nil {
			st.logger.Warn("product source failed, continuing without products", "source", r.Product.ID(), "error", prdErr)
			st.tracker.Degrade(r.Product.ID())
			out.Status = model.StageWarn
		} else {
			st.product = &prod
			out.Counts[string(model.KindProduct)] = prod.Count()
		}
	}

	cp, err := r.save(ctx, checkpoint.StageRaw, RawPayload{Financial: st.financial, Product: st.product})
	if err != nil {
		out.Status = ""
		return out, err
	}
	st.rawRef = cp.Ref()
	out.Outputs = []model.CheckpointRef{st.rawRef}
	return out, nil
}

func (r *Runner) fetch(ctx context.Context, src Source) (model.Batch, error) {
	var batch model.Batch
	attempts, err := Retry(ctx, r.Retry, "fetch "+src.ID(), r.logger(), func(ctx context.Context) error {
		b, err := src.Fetch(ctx)
		if err != nil {
			return err
		}
		batch = b
		return nil
	})
	r.Metrics.Retried(src.ID(), attempts-1)
	if err != nil {
		return model.Batch{}, err
	}
	if batch.Kind != src.Kind() {
		return model.Batch{}, &model.InvariantError{
			Op:     "pipeline.fetch",
			Detail: fmt.Sprintf("source %s returned a %s batch, expected %s", src.ID(), batch.Kind, src.Kind()),
		}
	}
	return batch, nil
}

func (r *Runner) save(ctx context.Context, stage string, payload any) (model.Checkpoint, error) {
	if r.Checkpoints == nil {
		return model.Checkpoint{}, &model.InvariantError{Op: "pipeline.save", Detail: "no checkpoint store configured"}
	}
	var cp model.Checkpoint
	_, err := Retry(ctx, r.Retry, "checkpoint "+stage, r.logger(), func(ctx context.Context) error {
		c, err := r.Checkpoints.Save(ctx, stage, payload)
		if err != nil {
			return err
		}
		cp = c
		return nil
	})
	return cp, err
}

func (r *Runner) validate(ctx context.Context, st *run) (model.StageOutcome, error) {
	out := model.StageOutcome{
		Transition: model.StatusValidated,
		Inputs:     []model.CheckpointRef{st.rawRef},
		Counts:     map[string]int{},
	}
	v := Validator{Workers: r.Workers}

	batches := []model.Batch{st.financial}
	if st.product != nil {
		batches = append(batches, *st.product)
	}
	for _, b := range batches {
		outcome := v.Validate(b, r.registry().RulesFor(b.Kind))
		kind := string(b.Kind)
		out.Counts[kind+"_accepted"] = len(outcome.Accepted)
		out.Counts[kind+"_quarantined"] = len(outcome.Quarantined)
		r.Metrics.Records(kind, len(outcome.Accepted), len(outcome.Quarantined))

		if len(outcome.Quarantined) > 0 {
			out.Status = model.StageWarn
			if r.Runs != nil {
				if err := r.Runs.SaveQuarantine(ctx, st.id, b.Kind, outcome.Quarantined); err != nil {
					out.Status = ""
					return out, fmt.Errorf("persist quarantine: %w", err)
				}
			}
		}
		if b.Kind == model.KindFinancial {
			st.finOutcome = outcome
		} else {
			st.prodOutcome = &outcome
		}
	}
	return out, nil
}

func (r *Runner) detect(ctx context.Context, st *run) (model.StageOutcome, error) {
	out := model.StageOutcome{Transition: model.StatusAnomalyChecked, Counts: map[string]int{}}
	d := Detector{Registry: r.registry(), Thresholds: r.Thresholds}

	findings := d.DetectBatch(st.finOutcome)
	if st.prodOutcome != nil {
		findings = append(findings, d.DetectBatch(*st.prodOutcome)...)
	}
	out.Findings = findings
	for _, f := range findings {
		out.Counts[string(f.Severity)]++
		r.Metrics.Finding(string(f.Severity), f.RuleID)
		if alert.ShouldNotify(f.Severity) {
			r.notify(ctx, st, f)
		}
	}

	// a corrupt product batch degrades the run like a failed product fetch
	if st.prodOutcome != nil && d.Unusable(*st.prodOutcome) {
		st.logger.Warn("product batch unusable, continuing without products",
			"quarantined", len(st.prodOutcome.Quarantined), "total", st.prodOutcome.Total)
		st.tracker.Degrade(r.Product.ID())
		st.prodOutcome = nil
		out.Counts["dropped_"+string(model.KindProduct)]++
	}

	switch Decide(findings) {
	case model.ActionHalt:
		out.Status = model.StageHalted
		out.Transition = model.StatusHalted
		return out, &model.AnomalyHalt{RunID: st.id, Findings: findings}
	case model.ActionWarn:
		out.Status = model.StageWarn
	}
	return out, nil
}

// notify failures never change the run outcome.
func (r *Runner) notify(ctx context.Context, st *run, f model.AnomalyFinding) {
	if r.Notifier == nil {
		return
	}
	if err := r.Notifier.Notify(ctx, alert.FromFinding(st.id, StageAnomaly, f, r.now())); err != nil {
		st.logger.Warn("alert delivery failed", "rule_id", f.RuleID, "severity", f.Severity, "error", err)
	}
}

func (r *Runner) transform(ctx context.Context, st *run) (model.StageOutcome, error) {
	out := model.StageOutcome{
		Transition: model.StatusTransformed,
		Inputs:     []model.CheckpointRef{st.rawRef},
		Counts:     map[string]int{},
	}
	fin, err := r.transformer().Transform(st.finOutcome.Accepted)
	if err != nil {
		return out, err
	}
	st.processed.Financial = fin
	st.processed.Product = []model.Record{}
	if st.prodOutcome != nil {
		prod, err := r.transformer().Transform(st.prodOutcome.Accepted)
		if err != nil {
			return out, err
		}
		st.processed.Product = prod
	}
	out.Counts[string(model.KindFinancial)] = len(st.processed.Financial)
	out.Counts[string(model.KindProduct)] = len(st.processed.Product)

	cp, err := r.save(ctx, checkpoint.StageProcessed, st.processed)
	if err != nil {
		return out, err
	}
	st.processedRef = cp.Ref()
	out.Outputs = []model.CheckpointRef{st.processedRef}
	return out, nil
}

func (r *Runner) derive(ctx context.Context, st *run) (model.StageOutcome, error) {
	out := model.StageOutcome{
		Transition: model.StatusFeatured,
		Inputs:     []model.CheckpointRef{st.processedRef},
		Counts:     map[string]int{},
	}
	features, err := r.featureEngine().DeriveAll(st.processed.Financial, st.processed.Product)
	if err != nil {
		return out, err
	}
	if features == nil {
		features = []model.FeatureRecord{}
	}
	st.features = features

	out.Counts["features"] = len(features)
	for _, fr := range features {
		if fr.Decision != "" {
			out.Counts["decision_"+string(fr.Decision)]++
		}
	}

	cp, err := r.save(ctx, checkpoint.StageFeatures, model.FeatureSet{Records: features})
	if err != nil {
		return out, err
	}
	out.Outputs = []model.CheckpointRef{cp.Ref()}
	return out, nil
}

func (r *Runner) slice(_ context.Context, st *run) (model.StageOutcome, error) {
	out := model.StageOutcome{Transition: model.StatusSliced, Counts: map[string]int{}}
	stats, err := AggregateAll(st.features, r.Thresholds)
	if err != nil {
		return out, err
	}
	for _, s := range stats {
		out.Counts[s.Dimension]++
	}
	st.tracker.SetSlices(stats)
	return out, nil
}

// ------------------- Defaults -------------------

func (r *Runner) transformer() Transformer {
	if r.Transformer != nil {
		return r.Transformer
	}
	return &RecordTransformer{Registry: r.registry(), Workers: r.Workers, Logger: r.logger()}
}

func (r *Runner) featureEngine() FeatureEngine {
	if r.Features != nil {
		return r.Features
	}
	return Engine{Thresholds: r.Thresholds, Workers: r.Workers, Logger: r.logger()}
}

func (r *Runner) registry() *schema.Registry {
	if r.Registry != nil {
		return r.Registry
	}
	return schema.Default()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) now() time.Time {
	return now(r.Now)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
