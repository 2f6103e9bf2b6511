// store.go - Snapshot storage for files the lifecycle manager overwrites.
// Each managed file is mirrored under the backup root at its original
// absolute path with a ".bak.<unix-timestamp>" suffix; multiple versions
// coexist and are ordered by that numeric suffix.
package backup

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const suffixSep = ".bak."

// Record describes one snapshot of a managed path's prior content.
type Record struct {
	// Source is the absolute path the snapshot was taken from.
	Source string

	// Path is the snapshot's location under the backup root.
	Path string

	// Version is the snapshot's monotonically increasing version marker
	// (wall-clock seconds, bumped on collision so ordering stays strict).
	Version int64

	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time
}

// Store owns the on-disk snapshot files under a single backup root.
// Rollback only reads them; nothing else touches the root.
type Store struct {
	root   string
	logger *slog.Logger

	// now is swapped out by tests to control version markers.
	now func() time.Time
}

// NewStore creates the backup root and returns a store over it.
// Failure to create the root is fatal to the caller: without an
// established rollback path, every subsequent mutation is irreversible.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("backup root %q is not absolute", root)
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create backup root %s: %w", root, err)
	}
	return &Store{
		root:   root,
		logger: logger.With(slog.String("component", "backup")),
		now:    time.Now,
	}, nil
}

// Snapshot copies path's current bytes into the mirror location and returns
// the new record. A path that does not exist yet returns (nil, nil): there
// is nothing to preserve, and rollback will delete the file instead.
func (s *Store) Snapshot(path string) (*Record, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	version := s.nextVersion(path)
	created := s.now()
	dst := s.mirror(path) + suffixSep + strconv.FormatInt(version, 10)

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := copyFile(path, dst); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}

	s.logger.Info("snapshot created",
		slog.String("source", path),
		slog.String("snapshot", dst),
		slog.Int64("version", version),
	)

	return &Record{
		Source:    path,
		Path:      dst,
		Version:   version,
		CreatedAt: created,
	}, nil
}

// Records returns all snapshots of path ordered by version ascending.
func (s *Store) Records(path string) ([]Record, error) {
	mirror := s.mirror(path)
	dir := filepath.Dir(mirror)
	prefix := filepath.Base(mirror) + suffixSep

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list snapshots for %s: %w", path, err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		version, err := strconv.ParseInt(strings.TrimPrefix(entry.Name(), prefix), 10, 64)
		if err != nil {
			// Not one of ours.
			continue
		}
		records = append(records, Record{
			Source:  path,
			Path:    filepath.Join(dir, entry.Name()),
			Version: version,
		})
	}

	// Numeric, not lexicographic: the version marker decides.
	sort.Slice(records, func(i, j int) bool {
		return records[i].Version < records[j].Version
	})
	return records, nil
}

// Latest returns the newest snapshot of path, or nil when none exist.
func (s *Store) Latest(path string) (*Record, error) {
	records, err := s.Records(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[len(records)-1], nil
}

// Restore copies a snapshot's content back onto its source path,
// creating parent directories as needed.
func (s *Store) Restore(rec *Record) error {
	if err := os.MkdirAll(filepath.Dir(rec.Source), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", rec.Source, err)
	}
	if err := copyFile(rec.Path, rec.Source); err != nil {
		return fmt.Errorf("restore %s from %s: %w", rec.Source, rec.Path, err)
	}
	s.logger.Info("snapshot restored",
		slog.String("target", rec.Source),
		slog.Int64("version", rec.Version),
	)
	return nil
}

// Root returns the backup root directory.
func (s *Store) Root() string {
	return s.root
}

// mirror maps an absolute source path to its location under the backup root.
func (s *Store) mirror(path string) string {
	return filepath.Join(s.root, path)
}

// nextVersion picks a version marker strictly greater than every existing
// snapshot of path. Wall-clock seconds normally; bumped when two writes
// land within the same second.
func (s *Store) nextVersion(path string) int64 {
	version := s.now().Unix()
	records, err := s.Records(path)
	if err == nil && len(records) > 0 {
		if last := records[len(records)-1].Version; version <= last {
			version = last + 1
		}
	}
	return version
}

// copyFile copies src to dst preserving the source's permission bits.
func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return err
	}

	dest, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, source); err != nil {
		return err
	}

	return dest.Sync()
}
