// Package manifest provides a persistent record of what an installation run
// touched. Paths and services are written into a bbolt database as steps
// execute, so a rollback invoked from a different process can discover every
// managed path instead of relying on a hardcoded list.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	pathsBucket    = "managed_paths"
	servicesBucket = "services"
)

// ManagedPath is one filesystem path an installation run wrote, with the
// component that owns it.
type ManagedPath struct {
	Path       string    `json:"path"`
	Component  string    `json:"component"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ManagedService is one systemd unit an installation run touched.
type ManagedService struct {
	Unit       string    `json:"unit"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Manifest is the persistent run manifest.
type Manifest struct {
	db *bolt.DB
}

// Open opens or creates the manifest database at dbPath.
func Open(dbPath string) (*Manifest, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(pathsBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(servicesBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize manifest buckets: %w", err)
	}

	return &Manifest{db: db}, nil
}

// RecordPath registers a managed path. Recording the same path again
// overwrites the previous entry, keeping one entry per path.
func (m *Manifest) RecordPath(path, component string) error {
	entry := ManagedPath{
		Path:       path,
		Component:  component,
		RecordedAt: time.Now().UTC(),
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(pathsBucket)).Put([]byte(path), data)
	})
}

// RecordService registers a systemd unit the run touched.
func (m *Manifest) RecordService(unit string) error {
	entry := ManagedService{
		Unit:       unit,
		RecordedAt: time.Now().UTC(),
	}
	return m.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(servicesBucket)).Put([]byte(unit), data)
	})
}

// Paths returns every recorded managed path, ordered by path name.
func (m *Manifest) Paths() ([]ManagedPath, error) {
	var paths []ManagedPath
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pathsBucket)).ForEach(func(k, v []byte) error {
			var entry ManagedPath
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode manifest entry %s: %w", k, err)
			}
			paths = append(paths, entry)
			return nil
		})
	})
	return paths, err
}

// Services returns every recorded unit, ordered by unit name.
func (m *Manifest) Services() ([]ManagedService, error) {
	var services []ManagedService
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(servicesBucket)).ForEach(func(k, v []byte) error {
			var entry ManagedService
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode manifest entry %s: %w", k, err)
			}
			services = append(services, entry)
			return nil
		})
	})
	return services, err
}

// Clear removes all recorded paths and services.
func (m *Manifest) Clear() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{pathsBucket, servicesBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (m *Manifest) Close() error {
	return m.db.Close()
}
