package model

import "time"

// RunStatus is the state of a pipeline run
type RunStatus string

const (
	StatusStarted        RunStatus = "STARTED"
	StatusIngested       RunStatus = "INGESTED"
	StatusValidated      RunStatus = "VALIDATED"
	StatusAnomalyChecked RunStatus = "ANOMALY_CHECKED"
	StatusHalted         RunStatus = "HALTED"
	StatusTransformed    RunStatus = "TRANSFORMED"
	StatusFeatured       RunStatus = "FEATURED"
	StatusSliced         RunStatus = "SLICED"
	StatusComplete       RunStatus = "COMPLETE"
	StatusFailed         RunStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == StatusComplete || s == StatusHalted || s == StatusFailed
}

// StageStatus is the outcome of one stage execution
type StageStatus string

const (
	StageOK     StageStatus = "ok"
	StageWarn   StageStatus = "warn"
	StageHalted StageStatus = "halted"
	StageFailed StageStatus = "failed"
)

// Checkpoint is an immutable, versioned snapshot of a stage's output
type Checkpoint struct {
	Stage     string    `json:"stage"`
	Version   int       `json:"version"`
	Hash      string    `json:"hash"` // sha256 of the serialized payload, hex
	CreatedAt time.Time `json:"created_at"`
	Location  string    `json:"location"`
	Size      int64     `json:"size"`
}

// Ref returns the compact reference stored in manifests.
func (c Checkpoint) Ref() CheckpointRef {
	return CheckpointRef{Stage: c.Stage, Version: c.Version, Hash: c.Hash}
}

// CheckpointRef points at a checkpoint from a manifest entry
type CheckpointRef struct {
	Stage   string `json:"stage"`
	Version int    `json:"version"`
	Hash    string `json:"hash"`
}

// StageOutcome is one entry of a run manifest
type StageOutcome struct {
	Name       string           `json:"name"`
	Status     StageStatus      `json:"status"`
	Transition RunStatus        `json:"transition"` // run state reached when the stage ended
	StartedAt  time.Time        `json:"started_at"`
	DurationMS int64            `json:"duration_ms"`
	Inputs     []CheckpointRef  `json:"inputs,omitempty"`
	Outputs    []CheckpointRef  `json:"outputs,omitempty"`
	Counts     map[string]int   `json:"counts,omitempty"`
	Findings   []AnomalyFinding `json:"findings,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// RunManifest records every stage of one pipeline execution
type RunManifest struct {
	RunID      string         `json:"run_id"`
	Status     RunStatus      `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Stages     []StageOutcome `json:"stages"`
	Degraded   []string       `json:"degraded,omitempty"` // sources that failed without failing the run
	Slices     []SliceStat    `json:"slices,omitempty"`
	Error      string         `json:"error,omitempty"`
	Finalized  bool           `json:"finalized"`
}

// Stage returns the last outcome recorded under name.
func (m RunManifest) Stage(name string) (StageOutcome, bool) {
	for i := len(m.Stages) - 1; i >= 0; i-- {
		if m.Stages[i].Name == name {
			return m.Stages[i], true
		}
	}
	return StageOutcome{}, false
}

// RunSummary is the list view of a persisted run
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Status    RunStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
