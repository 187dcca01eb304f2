package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/capmigrate/internal/backup"
	"github.com/tinytelemetry/capmigrate/internal/config"
	"github.com/tinytelemetry/capmigrate/internal/duckdb"
	"github.com/tinytelemetry/capmigrate/internal/httpserver"
	"github.com/tinytelemetry/capmigrate/internal/model"
	"github.com/tinytelemetry/capmigrate/internal/provision"
)

// runReport summarizes one migration run.
type runReport struct {
	Entries  map[string]int64
	Skipped  map[string]map[string]int64
	Failures map[string]error
	Stats    duckdb.InsertStats
	Snapshot string
}

func (r runReport) failed() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, name := range sortedKeys(r.Failures) {
		errs = append(errs, r.Failures[name])
	}
	return fmt.Errorf("%d source(s) failed: %w", len(errs), errors.Join(errs...))
}

// run migrates every enabled source into DuckDB, prints a summary to out and,
// with serve, keeps the accounts API up until ctx is cancelled.
func run(ctx context.Context, cfg appConfig, parser config.Parser, serve bool, out io.Writer) error {
	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	snapshot, err := snapshotStore(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to snapshot accounts database: %w", err)
	}

	plugins := buildSourcePlugins(parser, SourcePluginConfig{
		DataDir:  cfg.DataDir,
		LogSkips: cfg.LogSkips,
	})

	report := migrate(ctx, cfg, store, plugins)
	report.Snapshot = snapshot
	printSummary(out, cfg, report)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("migration interrupted: %w", err)
	}
	if err := report.failed(); err != nil {
		return err
	}

	if !serve {
		return nil
	}
	if !cfg.APIEnabled {
		log.Printf("server: -serve ignored, api-enabled is false")
		return nil
	}
	return serveAPI(ctx, cfg.APIAddr, store, out)
}

// migrate drains every enabled source through the provisioning processor
// into store. It returns once all sources are exhausted or ctx is done, with
// all buffered records flushed.
func migrate(ctx context.Context, cfg appConfig, store *duckdb.Store, plugins []SourcePlugin) runReport {
	insertBuffer := duckdb.NewInsertBuffer(store, duckdb.InsertBufferConfig{
		BatchSize:      cfg.InsertBatchSize,
		FlushInterval:  cfg.InsertFlushInterval,
		FlushQueueSize: cfg.InsertFlushQueue,
	})
	defer insertBuffer.Stop()

	sources, failures := enabledSources(ctx, plugins)

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()
	defer mux.Stop()

	processor := provision.NewProcessor(insertBuffer)

	// Entries closes once every source is exhausted or ctx is done.
	for env := range mux.Entries() {
		processor.ProcessEntry(env)
	}

	mux.Stop()
	insertBuffer.Stop()

	for name, err := range mux.Failures() {
		failures[name] = err
	}

	skipped := make(map[string]map[string]int64, len(plugins))
	for _, plugin := range plugins {
		if plugin.Enabled() {
			skipped[plugin.Name()] = plugin.Skipped()
		}
	}

	report := runReport{
		Entries:  processor.Counts(),
		Skipped:  skipped,
		Failures: failures,
		Stats:    insertBuffer.Stats(),
	}
	log.Printf("migration: %d accounts written, %d dropped, %d source failures",
		report.Stats.Written, report.Stats.Dropped, len(report.Failures))
	return report
}

// snapshotStore copies an on-disk store aside before it receives accounts.
func snapshotStore(cfg appConfig, store *duckdb.Store) (string, error) {
	if store.DBPath() == "" {
		return "", nil
	}
	return backup.Snapshot(store, backup.Config{
		Enabled:  cfg.SnapshotEnabled,
		LocalDir: cfg.SnapshotDir,
		KeepLast: cfg.SnapshotKeepLast,
	}, time.Now())
}

func serveAPI(ctx context.Context, addr string, store model.AccountQuerier, out io.Writer) error {
	apiServer := httpserver.NewServer(addr, store)
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	fmt.Fprintf(out, "    Serving accounts on http://%s (Ctrl+C to stop)\n", apiServer.Addr())

	<-ctx.Done()
	fmt.Fprintln(out, "\nShutting down...")
	return apiServer.Stop()
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "capmigrate")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "capmigrate.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printSummary(out io.Writer, cfg appConfig, report runReport) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	cross := red.Render("●")

	separator := dim.Render("    ─────────────────────────────────")

	var lines []string
	lines = append(lines, "")
	lines = append(lines, "    "+cyan.Bold(true).Render("capmigrate")+" "+dim.Render("v"+version))
	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Sources"))
	lines = append(lines, "")

	names := make(map[string]struct{})
	for name := range report.Entries {
		names[name] = struct{}{}
	}
	for name := range report.Skipped {
		names[name] = struct{}{}
	}
	for name := range report.Failures {
		names[name] = struct{}{}
	}
	if len(names) == 0 {
		lines = append(lines, "    "+dim.Render("no sources enabled"))
	}
	for _, name := range sortedKeys(names) {
		if err, ok := report.Failures[name]; ok {
			lines = append(lines, fmt.Sprintf("    %s  %-14s %s", cross, name, red.Render(err.Error())))
			continue
		}
		skipped := int64(0)
		for _, n := range report.Skipped[name] {
			skipped += n
		}
		lines = append(lines, fmt.Sprintf("    %s  %-14s %s", check, name,
			dim.Render(fmt.Sprintf("%d accounts, %d files skipped", report.Entries[name], skipped))))
		for _, reason := range sortedKeys(report.Skipped[name]) {
			lines = append(lines, "       "+dim.Render(fmt.Sprintf("%-22s %d", reason, report.Skipped[name][reason])))
		}
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"))
	lines = append(lines, "")
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "in-memory"
	}
	lines = append(lines, fmt.Sprintf("    %s  Database       %s", check, dim.Render(shortenPath(dbPath))))
	lines = append(lines, fmt.Sprintf("    %s  Written        %s", check, cyan.Render(fmt.Sprintf("%d", report.Stats.Written))))
	if report.Snapshot != "" {
		lines = append(lines, fmt.Sprintf("    %s  Snapshot       %s", check, dim.Render(shortenPath(report.Snapshot))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Snapshot       %s", dim.Render("●"), dim.Render("none")))
	}
	if report.Stats.Dropped > 0 {
		lines = append(lines, fmt.Sprintf("    %s  Dropped        %s", cross, red.Render(fmt.Sprintf("%d", report.Stats.Dropped))))
	}

	lines = append(lines, "")
	lines = append(lines, separator)
	lines = append(lines, "")

	fmt.Fprintln(out, strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
