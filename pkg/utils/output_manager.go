package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Export formats understood by FormatOf.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// OutputManager lays out export files as <BaseOutputDir>/<group>/<name>,
// where group is a run ID or a checkpoint label such as "features-v3".
type OutputManager struct {
	BaseOutputDir string
}

func NewOutputManager(baseOutputDir string) *OutputManager {
	return &OutputManager{
		BaseOutputDir: baseOutputDir,
	}
}

// ExportPath returns the path of name inside group, creating the group
// directory. Both parts are reduced to their base name so an export can
// never escape BaseOutputDir.
func (om *OutputManager) ExportPath(group, name string) (string, error) {
	dir := filepath.Join(om.BaseOutputDir, filepath.Base(group))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	return filepath.Join(dir, filepath.Base(name)), nil
}

// FormatOf maps a file name to its export format, or "" when the extension
// is not an export format.
func FormatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	default:
		return ""
	}
}

// WriteAtomic streams write into a temporary file next to path and renames
// it into place, so readers never observe a half-written export. It returns
// the final size in bytes.
func (om *OutputManager) WriteAtomic(path string, write func(io.Writer) error) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := write(tmp); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to publish %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
