package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/capmigrate/internal/config"
	"github.com/tinytelemetry/capmigrate/internal/duckdb"
	"github.com/tinytelemetry/capmigrate/internal/migration"
	"github.com/tinytelemetry/capmigrate/internal/model"
)

// safeBuffer lets a test poll output written by another goroutine.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(dataDir string) appConfig {
	return appConfig{
		DataDir:             dataDir,
		QueryTimeout:        5 * time.Second,
		InsertBatchSize:     10,
		InsertFlushInterval: 10 * time.Millisecond,
		InsertFlushQueue:    4,
		MuxBufferSize:       8,
		APIAddr:             "127.0.0.1:0",
	}
}

func writeLegacyPlayers(t *testing.T, files map[string]string) string {
	t.Helper()

	dataDir := t.TempDir()
	root := migration.SimpleEconomyDefaultPath(dataDir)
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dataDir
}

func TestMigrate_WritesAccounts(t *testing.T) {
	t.Parallel()

	dataDir := writeLegacyPlayers(t, map[string]string{
		"Steve.yml":      "data:\n  balance: 150\n",
		"bob.yml":        "data:\n  balance: \"-20\"\n",
		"notes.txt":      "not a player",
		"archive/Al.yml": "data:\n  balance: 12.9\n",
	})

	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	cfg := testConfig(dataDir)
	plugins := buildSourcePlugins(config.NewViperParser(viper.New()), SourcePluginConfig{DataDir: dataDir})
	report := migrate(context.Background(), cfg, store, plugins)

	if err := report.failed(); err != nil {
		t.Fatalf("unexpected failures: %v", err)
	}
	if got := report.Entries[migration.SimpleEconomyName]; got != 3 {
		t.Fatalf("entries = %d, want 3", got)
	}
	if report.Stats.Written != 3 || report.Stats.Dropped != 0 {
		t.Fatalf("stats = %+v, want 3 written", report.Stats)
	}
	if got := report.Skipped[migration.SimpleEconomyName][migration.SkipExtension.String()]; got != 1 {
		t.Fatalf("extension skips = %d, want 1", got)
	}

	accounts, err := store.ListAccounts(model.QueryOpts{Source: migration.SimpleEconomyName}, 10)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	got := make(map[string]int64, len(accounts))
	for _, a := range accounts {
		got[a.PlayerName] = a.Balance
	}
	want := map[string]int64{"steve": 150, "bob": -20, "al": 12}
	if len(got) != len(want) {
		t.Fatalf("accounts = %v, want %v", got, want)
	}
	for player, balance := range want {
		if got[player] != balance {
			t.Fatalf("balance[%s] = %d, want %d", player, got[player], balance)
		}
	}
}

func TestMigrate_RerunDuplicatesAccounts(t *testing.T) {
	t.Parallel()

	dataDir := writeLegacyPlayers(t, map[string]string{
		"Steve.yml": "data:\n  balance: 150\n",
	})

	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	cfg := testConfig(dataDir)
	for i := 0; i < 2; i++ {
		plugins := buildSourcePlugins(config.NewViperParser(viper.New()), SourcePluginConfig{DataDir: dataDir})
		migrate(context.Background(), cfg, store, plugins)
	}

	total, err := store.TotalAccountCount(model.QueryOpts{Player: "Steve"})
	if err != nil {
		t.Fatalf("TotalAccountCount: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}
}

func TestMigrate_CancelledContextReturns(t *testing.T) {
	t.Parallel()

	files := map[string]string{}
	for i := 0; i < 50; i++ {
		files[fmt.Sprintf("player%02d.yml", i)] = "data:\n  balance: 1\n"
	}
	dataDir := writeLegacyPlayers(t, files)

	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan runReport, 1)
	go func() {
		plugins := buildSourcePlugins(config.NewViperParser(viper.New()), SourcePluginConfig{DataDir: dataDir})
		done <- migrate(ctx, testConfig(dataDir), store, plugins)
	}()

	select {
	case report := <-done:
		if report.Stats.Written+report.Stats.Dropped != report.Stats.Queued {
			t.Fatalf("stats = %+v, want every queued record flushed", report.Stats)
		}
		if report.Entries[migration.SimpleEconomyName] >= 50 {
			t.Fatalf("entries = %d, want the walk cut short", report.Entries[migration.SimpleEconomyName])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("migrate did not return after cancel")
	}
}

func TestRun_MissingSourceFails(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cfg := testConfig(filepath.Join(t.TempDir(), "no-server-here"))
	err := run(context.Background(), cfg, config.NewViperParser(viper.New()), false, &out)
	if err == nil {
		t.Fatal("expected error for missing source root")
	}
	if !errors.Is(err, model.ErrSourceNotFound) {
		t.Fatalf("error = %v, want ErrSourceNotFound", err)
	}
	var importErr *model.ImportError
	if !errors.As(err, &importErr) || importErr.Source != migration.SimpleEconomyName {
		t.Fatalf("error = %v, want ImportError for %s", err, migration.SimpleEconomyName)
	}
	if !strings.Contains(out.String(), migration.SimpleEconomyName) {
		t.Fatalf("summary does not mention the failed source:\n%s", out.String())
	}
}

func TestRun_DisabledSourceSucceeds(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("sources.simpleeconomy.enabled", false)

	var out bytes.Buffer
	cfg := testConfig(filepath.Join(t.TempDir(), "no-server-here"))
	if err := run(context.Background(), cfg, config.NewViperParser(v), false, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "no sources enabled") {
		t.Fatalf("summary = %q, want no sources enabled", out.String())
	}
}

func TestRun_SummaryReportsAccounts(t *testing.T) {
	t.Parallel()

	dataDir := writeLegacyPlayers(t, map[string]string{
		"Steve.yml": "data:\n  balance: 150\n",
		"bob.yml":   "data:\n  balance: 20\n",
	})

	var out bytes.Buffer
	if err := run(context.Background(), testConfig(dataDir), config.NewViperParser(viper.New()), false, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "2 accounts, 0 files skipped") {
		t.Fatalf("summary missing account count:\n%s", out.String())
	}
}

func TestRun_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	dataDir := writeLegacyPlayers(t, map[string]string{
		"Steve.yml": "data:\n  balance: 150\n",
	})
	cfg := testConfig(dataDir)
	cfg.APIEnabled = true

	ctx, cancel := context.WithCancel(context.Background())
	var out safeBuffer
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, config.NewViperParser(viper.New()), true, &out)
	}()

	deadline := time.After(5 * time.Second)
	for !strings.Contains(out.String(), "Serving accounts") {
		select {
		case err := <-done:
			t.Fatalf("run returned before serving: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting for API server")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRun_SnapshotsOnDiskStore(t *testing.T) {
	t.Parallel()

	dataDir := writeLegacyPlayers(t, map[string]string{
		"Steve.yml": "data:\n  balance: 150\n",
	})
	cfg := testConfig(dataDir)
	cfg.DBPath = filepath.Join(t.TempDir(), "accounts.duckdb")
	cfg.SnapshotEnabled = true
	cfg.SnapshotDir = filepath.Join(t.TempDir(), "snapshots")
	cfg.SnapshotKeepLast = 5

	var out bytes.Buffer
	if err := run(context.Background(), cfg, config.NewViperParser(viper.New()), false, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(cfg.SnapshotDir, "accounts-*.duckdb"))
	if err != nil {
		t.Fatalf("glob snapshots: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("snapshots = %v, want 1", files)
	}
}
