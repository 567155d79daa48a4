// Package app wires configuration into a ready-to-run pipeline: stores,
// sources, notifiers, metrics and the runner shared by the CLI and the
// HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"affordability-pipeline/internal/alert"
	"affordability-pipeline/internal/api/handler"
	"affordability-pipeline/internal/checkpoint"
	"affordability-pipeline/internal/config"
	"affordability-pipeline/internal/metrics"
	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/pipeline"
	"affordability-pipeline/internal/schema"
	"affordability-pipeline/internal/store"
)

// File names read from data_dir by local sources.
const (
	FinancialFile = "financial.csv"
	ProductFile   = "products.json"
)

// App owns every long-lived component of one process.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	DB          *store.DB
	Checkpoints *checkpoint.Store
	Metrics     *metrics.Recorder
	Runner      *pipeline.Runner

	ctx     context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup
	closers []func() error
}

// New builds an App from validated configuration. ctx bounds runs started
// with Launch.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	th, err := cfg.ThresholdValues()
	if err != nil {
		return nil, err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("app: create database directory: %w", err)
		}
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("app: open store %s: %w", cfg.DBPath, err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Metrics: metrics.New(),
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.closers = append(a.closers, db.Close)
	a.Checkpoints = checkpoint.New(db, &checkpoint.FileBlobStore{Root: cfg.CheckpointDir}, logger)

	notifier, err := a.notifier()
	if err != nil {
		a.Close()
		return nil, err
	}

	fin, prod := a.sources()
	initial, maxDelay := cfg.RetryDelays()
	a.Runner = &pipeline.Runner{
		Registry:    reg,
		Thresholds:  th,
		Financial:   fin,
		Product:     prod,
		Checkpoints: a.Checkpoints,
		Runs:        db,
		Notifier:    notifier,
		Metrics:     a.Metrics,
		Retry: pipeline.RetryConfig{
			MaxAttempts:       cfg.Pipeline.RetryAttempts,
			InitialDelay:      initial,
			MaxDelay:          maxDelay,
			BackoffMultiplier: pipeline.DefaultRetryConfig.BackoffMultiplier,
			Jitter:            true,
		},
		Workers: cfg.Pipeline.Workers,
		Logger:  logger.With("component", "pipeline"),
	}
	logger.Info("pipeline configured",
		"environment", cfg.Environment,
		"data_source", cfg.DataSource,
		"financial_source", fin.ID(),
		"product_source", prod.ID(),
		"db", cfg.DBPath,
		"checkpoints", cfg.CheckpointDir,
	)
	return a, nil
}

func loadRegistry(cfg *config.Config) (*schema.Registry, error) {
	if cfg.Schema.File == "" {
		return schema.Default(), nil
	}
	return schema.LoadFile(cfg.Schema.File)
}

// sources picks file sources under data_dir for local runs and the
// paginated HTTP API otherwise.
func (a *App) sources() (fin, prod pipeline.Source) {
	cfg := a.Config
	if cfg.DataSource == config.SourceAPI {
		client := &http.Client{Timeout: cfg.APITimeout()}
		newSource := func(endpoint string, kind model.DatasetKind) *pipeline.APISource {
			return &pipeline.APISource{
				BaseURL:  cfg.API.BaseURL,
				Endpoint: endpoint,
				APIKey:   cfg.API.Key,
				PageSize: cfg.API.PageSize,
				Dataset:  kind,
				Client:   client,
			}
		}
		return newSource(cfg.API.FinancialEndpoint, model.KindFinancial), newSource(cfg.API.ProductEndpoint, model.KindProduct)
	}
	return &pipeline.FileSource{Path: filepath.Join(cfg.DataDir, FinancialFile), Dataset: model.KindFinancial},
		&pipeline.FileSource{Path: filepath.Join(cfg.DataDir, ProductFile), Dataset: model.KindProduct}
}

// notifier always logs alerts and also publishes them to NATS when a URL
// is configured.
func (a *App) notifier() (alert.Notifier, error) {
	notifiers := alert.Multi{alert.LogNotifier{Logger: a.Logger.With("component", "alert")}}
	if url := a.Config.Alert.NATSURL; url != "" {
		nn, err := alert.NewNATSNotifier(url, a.Config.Alert.Subject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nn.Close)
		notifiers = append(notifiers, nn)
	}
	return notifiers, nil
}

// Run executes one pipeline run in the foreground.
func (a *App) Run(ctx context.Context, runID string) (model.RunManifest, error) {
	return a.Runner.Run(ctx, runID)
}

// Launch starts a run in the background and returns its id immediately.
// The run outlives the caller's ctx and stops only when the App closes.
func (a *App) Launch(context.Context) (string, error) {
	if err := a.ctx.Err(); err != nil {
		return "", fmt.Errorf("app: shutting down: %w", err)
	}
	runID := pipeline.NewRunID()
	a.runs.Add(1)
	go func() {
		defer a.runs.Done()
		m, err := a.Runner.Run(a.ctx, runID)
		var halt *model.AnomalyHalt
		switch {
		case errors.As(err, &halt):
			a.Logger.Warn("background run halted", "run_id", runID, "status", m.Status)
		case err != nil:
			a.Logger.Error("background run failed", "run_id", runID, "status", m.Status, "error", err)
		}
	}()
	return runID, nil
}

// Wait blocks until every launched run has finished.
func (a *App) Wait() {
	a.runs.Wait()
}

// Handler returns the HTTP handler over this App's stores.
func (a *App) Handler() *handler.Handler {
	return &handler.Handler{
		Runs:        a.DB,
		Checkpoints: a.Checkpoints,
		Launcher:    a,
		Registry:    a.Runner.Registry,
		Thresholds:  a.Runner.Thresholds,
		Logger:      a.Logger.With("component", "api"),
	}
}

// Close cancels background runs between stages, waits for them, and
// releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	a.cancel()
	a.runs.Wait()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
