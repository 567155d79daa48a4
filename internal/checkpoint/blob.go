package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"affordability-pipeline/internal/model"
)

// BlobStore is durable storage for checkpoint payloads.
type BlobStore interface {
	// Put stores data under (stage, hash) and returns its location. Storing
	// a hash that already exists is a no-op.
	Put(ctx context.Context, stage, hash string, data []byte) (string, error)
	Get(ctx context.Context, location string) ([]byte, error)
}

// FileBlobStore keeps blobs at <Root>/<stage>/<hash>.json.
type FileBlobStore struct {
	Root string
}

func (b *FileBlobStore) Put(_ context.Context, stage, hash string, data []byte) (string, error) {
	location := filepath.ToSlash(filepath.Join(stage, hash+".json"))
	path := filepath.Join(b.Root, filepath.FromSlash(location))

	if _, err := os.Stat(path); err == nil {
		return location, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", &model.TransientIOError{Op: "mkdir " + stage, Err: err}
	}

	// write then rename so a reader never sees a partial blob
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+hash+"-*")
	if err != nil {
		return "", &model.TransientIOError{Op: "create blob", Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", &model.TransientIOError{Op: "write blob", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &model.TransientIOError{Op: "close blob", Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", &model.TransientIOError{Op: "rename blob", Err: err}
	}
	return location, nil
}

func (b *FileBlobStore) Get(_ context.Context, location string) ([]byte, error) {
	clean := filepath.Clean(filepath.FromSlash(location))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("blob location %q escapes the store root", location)
	}
	data, err := os.ReadFile(filepath.Join(b.Root, clean))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &model.NotFoundError{Resource: "blob", Key: location}
	}
	return data, err
}
