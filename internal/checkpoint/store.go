// Package checkpoint persists stage outputs as immutable, content-addressed
// versions. Payloads are canonical JSON; blobs are keyed by their sha256 so
// identical payloads share storage, while every save still allocates a new
// version.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"affordability-pipeline/internal/model"
)

// Stage names of the three checkpointed boundaries.
const (
	StageRaw       = "raw"
	StageProcessed = "processed"
	StageFeatures  = "features"
)

// Stages lists the checkpointed boundaries in pipeline order.
var Stages = []string{StageRaw, StageProcessed, StageFeatures}

// Index records checkpoint metadata and allocates versions. *store.DB
// implements it.
type Index interface {
	InsertCheckpoint(ctx context.Context, stage, hash, location string, size int64) (model.Checkpoint, error)
	GetCheckpoint(ctx context.Context, stage string, version int) (model.Checkpoint, error)
	LatestCheckpoint(ctx context.Context, stage string) (model.Checkpoint, error)
	ListCheckpoints(ctx context.Context, stage string) ([]model.Checkpoint, error)
}

// Store combines a metadata index with blob storage.
type Store struct {
	Index  Index
	Blobs  BlobStore
	Logger *slog.Logger
}

func New(index Index, blobs BlobStore, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Index: index, Blobs: blobs, Logger: logger.With("component", "checkpoint")}
}

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Save serializes payload canonically and records it as the next version
// of stage.
func (s *Store) Save(ctx context.Context, stage string, payload any) (model.Checkpoint, error) {
	data, err := model.MarshalCanonical(payload)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("checkpoint: encode %s: %w", stage, err)
	}
	return s.SaveBytes(ctx, stage, data)
}

// SaveBytes records already serialized data as the next version of stage.
func (s *Store) SaveBytes(ctx context.Context, stage string, data []byte) (model.Checkpoint, error) {
	hash := Hash(data)
	location, err := s.Blobs.Put(ctx, stage, hash, data)
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("checkpoint: write %s blob: %w", stage, err)
	}
	cp, err := s.Index.InsertCheckpoint(ctx, stage, hash, location, int64(len(data)))
	if err != nil {
		return model.Checkpoint{}, err
	}
	s.Logger.Info("checkpoint saved", "stage", stage, "version", cp.Version, "hash", hash[:12], "bytes", cp.Size)
	return cp, nil
}

// Load returns the exact bytes saved as (stage, version). Versions start at
// 1; anything else is a NotFoundError. A blob whose content no longer
// matches its recorded hash is an InvariantError.
func (s *Store) Load(ctx context.Context, stage string, version int) ([]byte, model.Checkpoint, error) {
	cp, err := s.Lookup(ctx, stage, version)
	if err != nil {
		return nil, model.Checkpoint{}, err
	}
	return s.read(ctx, cp)
}

// LoadLatest returns the bytes of the newest version of stage.
func (s *Store) LoadLatest(ctx context.Context, stage string) ([]byte, model.Checkpoint, error) {
	cp, err := s.Latest(ctx, stage)
	if err != nil {
		return nil, model.Checkpoint{}, err
	}
	return s.read(ctx, cp)
}

func (s *Store) read(ctx context.Context, cp model.Checkpoint) ([]byte, model.Checkpoint, error) {
	data, err := s.Blobs.Get(ctx, cp.Location)
	if err != nil {
		return nil, cp, fmt.Errorf("checkpoint: load %s v%d: %w", cp.Stage, cp.Version, err)
	}
	if got := Hash(data); got != cp.Hash {
		return nil, cp, &model.InvariantError{
			Op:     "checkpoint.Load",
			Detail: fmt.Sprintf("%s v%d: blob hash %s does not match recorded %s", cp.Stage, cp.Version, got, cp.Hash),
		}
	}
	return data, cp, nil
}

// LoadInto decodes checkpoint (stage, version) into v.
func (s *Store) LoadInto(ctx context.Context, stage string, version int, v any) (model.Checkpoint, error) {
	data, cp, err := s.Load(ctx, stage, version)
	if err != nil {
		return cp, err
	}
	return cp, decode(data, cp, v)
}

func decode(data []byte, cp model.Checkpoint, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("checkpoint: decode %s v%d: %w", cp.Stage, cp.Version, err)
	}
	return nil
}

// Lookup returns the metadata of (stage, version).
func (s *Store) Lookup(ctx context.Context, stage string, version int) (model.Checkpoint, error) {
	if version < 1 {
		return model.Checkpoint{}, &model.NotFoundError{Resource: "checkpoint", Key: stage + "/v" + strconv.Itoa(version)}
	}
	return s.Index.GetCheckpoint(ctx, stage, version)
}

// Latest returns the metadata of the newest version of stage.
func (s *Store) Latest(ctx context.Context, stage string) (model.Checkpoint, error) {
	return s.Index.LatestCheckpoint(ctx, stage)
}

func (s *Store) List(ctx context.Context, stage string) ([]model.Checkpoint, error) {
	return s.Index.ListCheckpoints(ctx, stage)
}

// LoadFeatureSet reads a validated feature checkpoint. It and
// LatestFeatureSet are the only read paths offered to downstream model code.
func (s *Store) LoadFeatureSet(ctx context.Context, version int) (model.FeatureSet, model.Checkpoint, error) {
	var fs model.FeatureSet
	cp, err := s.LoadInto(ctx, StageFeatures, version, &fs)
	return fs, cp, err
}

// LatestFeatureSet reads the newest feature checkpoint.
func (s *Store) LatestFeatureSet(ctx context.Context) (model.FeatureSet, model.Checkpoint, error) {
	var fs model.FeatureSet
	data, cp, err := s.LoadLatest(ctx, StageFeatures)
	if err != nil {
		return fs, cp, err
	}
	return fs, cp, decode(data, cp, &fs)
}
