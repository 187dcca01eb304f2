package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

type fakeSnapshotter struct {
	dbPath string
	data   []byte
	err    error
}

func (f *fakeSnapshotter) DBPath() string { return f.dbPath }

func (f *fakeSnapshotter) SnapshotTo(dstPath string) error {
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(dstPath, f.data, 0644)
}

func TestSnapshot_Disabled(t *testing.T) {
	t.Parallel()

	path, err := Snapshot(&fakeSnapshotter{dbPath: "/tmp/accounts.duckdb"}, Config{}, time.Now())
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if path != "" {
		t.Fatalf("path = %q, want empty when disabled", path)
	}
}

func TestSnapshot_InMemoryStore(t *testing.T) {
	t.Parallel()

	_, err := Snapshot(&fakeSnapshotter{}, Config{Enabled: true, LocalDir: t.TempDir()}, time.Now())
	if !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("err = %v, want ErrNoDatabase", err)
	}
}

func TestSnapshot_RequiresLocalDir(t *testing.T) {
	t.Parallel()

	_, err := Snapshot(&fakeSnapshotter{dbPath: "/tmp/accounts.duckdb"}, Config{Enabled: true}, time.Now())
	if err == nil {
		t.Fatal("expected error for empty snapshot dir")
	}
}

func TestSnapshot_PropagatesSnapshotError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	_, err := Snapshot(&fakeSnapshotter{dbPath: "/tmp/accounts.duckdb", err: boom},
		Config{Enabled: true, LocalDir: t.TempDir()}, time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestSnapshot_CreatesAndPrunes(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	store := &fakeSnapshotter{dbPath: "/tmp/accounts.duckdb", data: []byte("snapshot")}
	cfg := Config{Enabled: true, LocalDir: localDir, KeepLast: 2}

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var paths []string
	for i := 0; i < 3; i++ {
		path, err := Snapshot(store, cfg, start.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("Snapshot #%d: %v", i+1, err)
		}
		paths = append(paths, path)
	}

	files, err := filepath.Glob(filepath.Join(localDir, "accounts-*.duckdb"))
	if err != nil {
		t.Fatalf("glob snapshots: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("snapshot files = %d, want 2", len(files))
	}
	if _, err := os.Stat(paths[0]); !os.IsNotExist(err) {
		t.Fatalf("oldest snapshot should be pruned, stat err = %v", err)
	}
}

func TestPruneSnapshots_IgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	dir := "/snapshots"
	if err := fs.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, name := range []string{
		"accounts-20240101-000000.000.duckdb",
		"accounts-20240102-000000.000.duckdb",
		"notes.txt",
	} {
		if err := afero.WriteFile(fs, filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	if err := pruneSnapshots(fs, dir, 1); err != nil {
		t.Fatalf("pruneSnapshots: %v", err)
	}

	for name, want := range map[string]bool{
		"accounts-20240101-000000.000.duckdb": false,
		"accounts-20240102-000000.000.duckdb": true,
		"notes.txt":                           true,
	} {
		ok, err := afero.Exists(fs, filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Exists: %v", err)
		}
		if ok != want {
			t.Fatalf("%s exists = %t, want %t", name, ok, want)
		}
	}
}
