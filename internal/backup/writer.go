// writer.go - Whole-file replacement of managed configuration files.
// Every write snapshots the previous content first, so rollback always has
// the last known-good version. Partial edits and merges are never attempted;
// managed artifacts are regenerated in full on every run, which is what
// makes the backup/replace model sufficient.
package backup

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Writer atomically replaces managed files, backing them up first.
type Writer struct {
	store  *Store
	logger *slog.Logger
}

// NewWriter returns a writer backed by the given snapshot store.
func NewWriter(store *Store, logger *slog.Logger) *Writer {
	return &Writer{
		store:  store,
		logger: logger.With(slog.String("component", "writer")),
	}
}

// Write replaces path's content with content in full, creating parent
// directories as needed. Exactly one snapshot attempt happens per call,
// before anything is touched; a snapshot failure aborts the write.
//
// Returns the snapshot record, or nil when the path did not exist before
// (first-time writes are unbacked; rollback deletes them).
func (w *Writer) Write(path string, content []byte, perm fs.FileMode) (*Record, error) {
	rec, err := w.store.Snapshot(path)
	if err != nil {
		return nil, fmt.Errorf("backup %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return rec, fmt.Errorf("create directory %s: %w", dir, err)
	}

	// Write-then-rename within the target directory so readers never see
	// a half-written config.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return rec, fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return rec, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return rec, fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return rec, fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return rec, fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return rec, fmt.Errorf("replace %s: %w", path, err)
	}

	w.logger.Info("managed file written",
		slog.String("path", path),
		slog.Int("bytes", len(content)),
		slog.Bool("backed_up", rec != nil),
	)
	return rec, nil
}
