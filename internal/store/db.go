package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"affordability-pipeline/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// DB persists run manifests, checkpoint metadata and quarantined records.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the sqlite database at dbPath.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// One writer: checkpoint version allocation relies on serialized transactions.
	db.SetMaxOpenConns(1)

	s := &DB{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) migrate() error {
	runTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		manifest TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	checkpointTable := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		stage TEXT NOT NULL,
		version INTEGER NOT NULL,
		hash TEXT NOT NULL,
		location TEXT NOT NULL,
		size INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (stage, version)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_hash ON checkpoints (stage, hash);
	`
	quarantineTable := `
	CREATE TABLE IF NOT EXISTS quarantine (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		record_index INTEGER NOT NULL,
		record TEXT NOT NULL,
		violations TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quarantine_run ON quarantine (run_id);
	`
	for _, stmt := range []string{runTable, checkpointTable, quarantineTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ------------------- Runs -------------------

// SaveRun inserts or replaces the manifest of a run.
func (s *DB) SaveRun(ctx context.Context, m model.RunManifest) error {
	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return err
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, manifest, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, manifest = excluded.manifest, updated_at = excluded.updated_at`,
		m.RunID, string(m.Status), string(manifestJSON), now, now)
	if err != nil {
		return fmt.Errorf("store: save run %s: %w", m.RunID, err)
	}
	return nil
}

// GetRun fetches a run manifest by id.
func (s *DB) GetRun(ctx context.Context, runID string) (model.RunManifest, error) {
	var manifestJSON string
	err := s.db.QueryRowContext(ctx, `SELECT manifest FROM runs WHERE id = ?`, runID).Scan(&manifestJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunManifest{}, &model.NotFoundError{Resource: "run", Key: runID}
	}
	if err != nil {
		return model.RunManifest{}, fmt.Errorf("store: get run %s: %w", runID, err)
	}

	var m model.RunManifest
	if err := json.Unmarshal([]byte(manifestJSON), &m); err != nil {
		return model.RunManifest{}, fmt.Errorf("store: decode run %s: %w", runID, err)
	}
	return m, nil
}

// ListRuns returns run summaries, newest first.
func (s *DB) ListRuns(ctx context.Context) ([]model.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status, created_at, updated_at FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		var status string
		if err := rows.Scan(&r.RunID, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Status = model.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ------------------- Quarantine -------------------

// SaveQuarantine stores the records a run's validator rejected.
func (s *DB) SaveQuarantine(ctx context.Context, runID string, kind model.DatasetKind, records []model.QuarantinedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO quarantine (run_id, kind, record_index, record, violations, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := s.now()
	for _, q := range records {
		recordJSON, err := json.Marshal(q.Record)
		if err != nil {
			return err
		}
		violationsJSON, err := json.Marshal(q.Violations)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, string(kind), q.Index, string(recordJSON), string(violationsJSON), now); err != nil {
			return fmt.Errorf("store: save quarantine for run %s: %w", runID, err)
		}
	}
	return tx.Commit()
}

// QuarantineEntry is a quarantined record with the dataset it came from.
type QuarantineEntry struct {
	Kind model.DatasetKind `json:"kind"`
	model.QuarantinedRecord
}

// ListQuarantine returns a run's quarantined records in insertion order.
func (s *DB) ListQuarantine(ctx context.Context, runID string) ([]QuarantineEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, record_index, record, violations FROM quarantine WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []QuarantineEntry
	for rows.Next() {
		var kind, recordJSON, violationsJSON string
		var e QuarantineEntry
		if err := rows.Scan(&kind, &e.Index, &recordJSON, &violationsJSON); err != nil {
			return nil, err
		}
		e.Kind = model.DatasetKind(kind)
		if err := json.Unmarshal([]byte(recordJSON), &e.Record); err != nil {
			return nil, fmt.Errorf("store: decode quarantined record: %w", err)
		}
		e.Record = e.Record.WithKind(e.Kind)
		if err := json.Unmarshal([]byte(violationsJSON), &e.Violations); err != nil {
			return nil, fmt.Errorf("store: decode violations: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ------------------- Checkpoints -------------------

// InsertCheckpoint allocates the next version for stage and records the
// checkpoint under it. Allocation and insert share one transaction, so
// concurrent savers on the same stage never receive the same version.
func (s *DB) InsertCheckpoint(ctx context.Context, stage, hash, location string, size int64) (model.Checkpoint, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Checkpoint{}, err
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM checkpoints WHERE stage = ?`, stage).Scan(&version); err != nil {
		return model.Checkpoint{}, fmt.Errorf("store: allocate %s version: %w", stage, err)
	}
	cp := model.Checkpoint{Stage: stage, Version: version, Hash: hash, Location: location, Size: size, CreatedAt: s.now()}
	_, err = tx.ExecContext(ctx, `INSERT INTO checkpoints (stage, version, hash, location, size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		cp.Stage, cp.Version, cp.Hash, cp.Location, cp.Size, cp.CreatedAt)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("store: insert %s v%d: %w", stage, version, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Checkpoint{}, err
	}
	return cp, nil
}

const checkpointColumns = `stage, version, hash, location, size, created_at`

func scanCheckpoint(row interface{ Scan(...any) error }) (model.Checkpoint, error) {
	var cp model.Checkpoint
	err := row.Scan(&cp.Stage, &cp.Version, &cp.Hash, &cp.Location, &cp.Size, &cp.CreatedAt)
	return cp, err
}

// GetCheckpoint fetches one checkpoint by stage and version.
func (s *DB) GetCheckpoint(ctx context.Context, stage string, version int) (model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE stage = ? AND version = ?`, stage, version)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkpoint{}, &model.NotFoundError{Resource: "checkpoint", Key: stage + "/v" + strconv.Itoa(version)}
	}
	return cp, err
}

// LatestCheckpoint returns the highest version recorded for stage.
func (s *DB) LatestCheckpoint(ctx context.Context, stage string) (model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE stage = ? ORDER BY version DESC LIMIT 1`, stage)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkpoint{}, &model.NotFoundError{Resource: "checkpoint", Key: stage + "/latest"}
	}
	return cp, err
}

// ListCheckpoints returns every checkpoint of stage in version order.
func (s *DB) ListCheckpoints(ctx context.Context, stage string) ([]model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE stage = ? ORDER BY version`, stage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// FindByHash returns the first checkpoint of stage carrying hash.
func (s *DB) FindByHash(ctx context.Context, stage, hash string) (model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE stage = ? AND hash = ? ORDER BY version LIMIT 1`, stage, hash)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Checkpoint{}, &model.NotFoundError{Resource: "checkpoint", Key: stage + "@" + hash}
	}
	return cp, err
}
