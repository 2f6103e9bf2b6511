// manifest_test.go tests the persistent run manifest.
package manifest

import (
	"path/filepath"
	"testing"
)

func openTestManifest(t *testing.T) *Manifest {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "state", "manifest.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestRecordPath(t *testing.T) {
	m := openTestManifest(t)

	t.Run("records are listed back", func(t *testing.T) {
		if err := m.RecordPath("/etc/unbound/unbound.conf.d/dohctl.conf", "resolver"); err != nil {
			t.Fatalf("RecordPath failed: %v", err)
		}
		if err := m.RecordPath("/etc/dnsdist/dnsdist.conf", "gateway"); err != nil {
			t.Fatalf("RecordPath failed: %v", err)
		}

		paths, err := m.Paths()
		if err != nil {
			t.Fatalf("Paths failed: %v", err)
		}
		if len(paths) != 2 {
			t.Fatalf("expected 2 paths, got %d", len(paths))
		}
		for _, p := range paths {
			if p.RecordedAt.IsZero() {
				t.Errorf("path %s has zero RecordedAt", p.Path)
			}
		}
	})

	t.Run("re-recording a path does not duplicate it", func(t *testing.T) {
		if err := m.RecordPath("/etc/dnsdist/dnsdist.conf", "gateway"); err != nil {
			t.Fatalf("RecordPath failed: %v", err)
		}
		paths, err := m.Paths()
		if err != nil {
			t.Fatalf("Paths failed: %v", err)
		}
		if len(paths) != 2 {
			t.Errorf("expected 2 paths after re-record, got %d", len(paths))
		}
	})
}

func TestRecordService(t *testing.T) {
	m := openTestManifest(t)

	if err := m.RecordService("unbound.service"); err != nil {
		t.Fatalf("RecordService failed: %v", err)
	}
	if err := m.RecordService("dnsdist.service"); err != nil {
		t.Fatalf("RecordService failed: %v", err)
	}
	if err := m.RecordService("unbound.service"); err != nil {
		t.Fatalf("RecordService failed: %v", err)
	}

	services, err := m.Services()
	if err != nil {
		t.Fatalf("Services failed: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(services))
	}
}

func TestClear(t *testing.T) {
	m := openTestManifest(t)

	if err := m.RecordPath("/etc/dnsdist/dnsdist.conf", "gateway"); err != nil {
		t.Fatalf("RecordPath failed: %v", err)
	}
	if err := m.RecordService("dnsdist.service"); err != nil {
		t.Fatalf("RecordService failed: %v", err)
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	paths, err := m.Paths()
	if err != nil {
		t.Fatalf("Paths failed: %v", err)
	}
	services, err := m.Services()
	if err != nil {
		t.Fatalf("Services failed: %v", err)
	}
	if len(paths) != 0 || len(services) != 0 {
		t.Errorf("expected empty manifest after Clear, got %d paths, %d services",
			len(paths), len(services))
	}
}

func TestReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "manifest.db")

	m, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := m.RecordPath("/etc/dnsdist/dnsdist.conf", "gateway"); err != nil {
		t.Fatalf("RecordPath failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A different process (here: a second handle) must see the same entries.
	m2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer m2.Close()

	paths, err := m2.Paths()
	if err != nil {
		t.Fatalf("Paths failed: %v", err)
	}
	if len(paths) != 1 || paths[0].Path != "/etc/dnsdist/dnsdist.conf" {
		t.Errorf("unexpected paths after reopen: %+v", paths)
	}
}
