package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"affordability-pipeline/internal/checkpoint"
	"affordability-pipeline/internal/model"
	"affordability-pipeline/internal/pipeline"
	"affordability-pipeline/internal/schema"
	"affordability-pipeline/internal/store"
	"affordability-pipeline/pkg/router"
)

// RunReader is the read side of the run store.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (model.RunManifest, error)
	ListRuns(ctx context.Context) ([]model.RunSummary, error)
	ListQuarantine(ctx context.Context, runID string) ([]store.QuarantineEntry, error)
}

// CheckpointReader is the read side of the checkpoint store.
type CheckpointReader interface {
	List(ctx context.Context, stage string) ([]model.Checkpoint, error)
	Load(ctx context.Context, stage string, version int) ([]byte, model.Checkpoint, error)
	LoadLatest(ctx context.Context, stage string) ([]byte, model.Checkpoint, error)
}

// Launcher starts a pipeline run in the background and returns its id.
type Launcher interface {
	Launch(ctx context.Context) (string, error)
}

// Handler serves the pipeline HTTP API.
type Handler struct {
	Runs        RunReader
	Checkpoints CheckpointReader
	Launcher    Launcher
	Registry    *schema.Registry
	Thresholds  model.Thresholds
	Logger      *slog.Logger
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunAccepted is returned when a run is started.
type RunAccepted struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// EvaluateRequest carries one financial record and an optional product.
type EvaluateRequest struct {
	Financial *model.Record `json:"financial"`
	Product   *model.Record `json:"product,omitempty"`
}

// EvaluateResponse is the feature record, its decision and any findings.
type EvaluateResponse struct {
	Features model.FeatureRecord    `json:"features"`
	Decision model.Decision         `json:"decision,omitempty"`
	Findings []model.AnomalyFinding `json:"findings"`
}

// CreateRun starts a new pipeline run
// @Summary Start a pipeline run
// @Description Trigger an asynchronous run over the configured sources. Poll the manifest for progress.
// @Tags runs
// @Produce json
// @Success 202 {object} RunAccepted
// @Failure 500 {object} ErrorResponse
// @Router /runs [post]
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	if h.Launcher == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("run launching is disabled"))
		return
	}
	runID, err := h.Launcher.Launch(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, RunAccepted{
		RunID:     runID,
		Status:    string(model.StatusStarted),
		CreatedAt: time.Now().UTC(),
	})
}

// ListRuns retrieves all pipeline runs
// @Summary List runs
// @Description List every persisted run, newest first
// @Tags runs
// @Produce json
// @Success 200 {array} model.RunSummary
// @Failure 500 {object} ErrorResponse
// @Router /runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Runs.ListRuns(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun retrieves the manifest of one run
// @Summary Get run manifest
// @Description Retrieve the manifest of a run: stage outcomes, findings, checkpoint references and slices
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.RunManifest
// @Failure 404 {object} ErrorResponse
// @Router /runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	m, err := h.Runs.GetRun(r.Context(), router.Param(r, 0))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetRunQuarantine retrieves quarantined records for a run
// @Summary Get quarantined records
// @Description Retrieve the records a run quarantined with every rule each one violated
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /runs/{id}/quarantine [get]
func (h *Handler) GetRunQuarantine(w http.ResponseWriter, r *http.Request) {
	runID := router.Param(r, 0)
	if _, err := h.Runs.GetRun(r.Context(), runID); err != nil {
		h.fail(w, err)
		return
	}
	entries, err := h.Runs.ListQuarantine(r.Context(), runID)
	if err != nil {
		h.fail(w, err)
		return
	}
	if entries == nil {
		entries = []store.QuarantineEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"records": entries,
		"count":   len(entries),
	})
}

// ListCheckpoints lists the versions of one stage
// @Summary List checkpoints
// @Description List checkpoint versions of a stage (raw, processed or features), oldest first
// @Tags checkpoints
// @Produce json
// @Param stage path string true "Stage"
// @Success 200 {array} model.Checkpoint
// @Failure 400 {object} ErrorResponse
// @Router /checkpoints/{stage} [get]
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	stage, ok := checkpointStage(w, r)
	if !ok {
		return
	}
	cps, err := h.Checkpoints.List(r.Context(), stage)
	if err != nil {
		h.fail(w, err)
		return
	}
	if cps == nil {
		cps = []model.Checkpoint{}
	}
	writeJSON(w, http.StatusOK, cps)
}

// GetCheckpoint returns the exact bytes of one checkpoint
// @Summary Get checkpoint payload
// @Description Return the stored payload of (stage, version). Use "latest" for the newest version.
// @Tags checkpoints
// @Produce json
// @Param stage path string true "Stage"
// @Param version path string true "Version number or latest"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /checkpoints/{stage}/{version} [get]
func (h *Handler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	stage, ok := checkpointStage(w, r)
	if !ok {
		return
	}
	var (
		data []byte
		cp   model.Checkpoint
		err  error
	)
	if v := router.Param(r, 1); v == "latest" {
		data, cp, err = h.Checkpoints.LoadLatest(r.Context(), stage)
	} else {
		version, convErr := strconv.Atoi(v)
		if convErr != nil || version < 1 {
			writeError(w, http.StatusBadRequest, errors.New("version must be a positive integer or latest"))
			return
		}
		data, cp, err = h.Checkpoints.Load(r.Context(), stage, version)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Checkpoint-Version", strconv.Itoa(cp.Version))
	w.Header().Set("X-Checkpoint-Hash", cp.Hash)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Evaluate scores a single financial record and optional product
// @Summary Evaluate affordability
// @Description Validate, check, convert and derive features for one financial record and optional product, returning the decision light
// @Tags evaluate
// @Accept json
// @Produce json
// @Param request body EvaluateRequest true "Financial record and optional product"
// @Success 200 {object} EvaluateResponse
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} map[string]interface{}
// @Router /evaluate [post]
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON payload"))
		return
	}
	if req.Financial == nil {
		writeError(w, http.StatusBadRequest, errors.New("financial record is required"))
		return
	}
	fin := req.Financial.WithKind(model.KindFinancial)
	var prod *model.Record
	if req.Product != nil {
		p := req.Product.WithKind(model.KindProduct)
		prod = &p
	}

	reg := h.Registry
	if reg == nil {
		reg = schema.Default()
	}
	fr, findings, err := pipeline.Evaluate(reg, h.Thresholds, fin, prod)
	if findings == nil {
		findings = []model.AnomalyFinding{}
	}

	var vf *model.ValidationFailure
	var halt *model.AnomalyHalt
	switch {
	case errors.As(err, &vf):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      err.Error(),
			"kind":       vf.Kind,
			"violations": vf.Violations,
		})
	case errors.As(err, &halt):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"findings": findings,
		})
	case err != nil:
		h.fail(w, err)
	default:
		writeJSON(w, http.StatusOK, EvaluateResponse{Features: fr, Decision: fr.Decision, Findings: findings})
	}
}

// Health reports liveness
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func checkpointStage(w http.ResponseWriter, r *http.Request) (string, bool) {
	stage := router.Param(r, 0)
	if !slices.Contains(checkpoint.Stages, stage) {
		writeError(w, http.StatusBadRequest, errors.New("unknown checkpoint stage "+strconv.Quote(stage)))
		return "", false
	}
	return stage, true
}

// fail maps an error to a status code. Not-found misses are 404; anything
// else is logged and reported as 500.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	if model.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if h.Logger != nil {
		h.Logger.Error("request failed", "error", err)
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
