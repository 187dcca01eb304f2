package main

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/spf13/afero"
	"github.com/tinytelemetry/capmigrate/internal/config"
	"github.com/tinytelemetry/capmigrate/internal/migration"
	"github.com/tinytelemetry/capmigrate/internal/model"
)

// SourcePlugin is a small plugin primitive for wiring legacy sources.
type SourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (model.Source, error)
	// Skipped returns skip counts by reason for the last builds.
	Skipped() map[string]int64
}

// SourcePluginConfig carries what plugins need besides their own options.
type SourcePluginConfig struct {
	DataDir  string
	LogSkips bool
	Fs       afero.Fs // nil means the OS filesystem
}

const sourcesDoc = "Legacy economy plugins to migrate balances from."

func buildSourcePlugins(p config.Parser, cfg SourcePluginConfig) []SourcePlugin {
	sources := p.Enter("sources", sourcesDoc)

	plugins := make([]SourcePlugin, 0, 1)
	plugins = append(plugins, newSimpleEconomyPlugin(
		sources.Enter(migration.SimpleEconomyName, "SimpleEconomy per-player YAML storage."),
		cfg,
	))
	return plugins
}

type simpleEconomyPlugin struct {
	enabled bool
	source  *migration.SimpleEconomySource
	skips   *skipCounter
}

func newSimpleEconomyPlugin(p config.Parser, cfg SourcePluginConfig) *simpleEconomyPlugin {
	enabled := p.ExpectBool("enabled", true, "Whether to migrate balances from SimpleEconomy.")
	skips := &skipCounter{source: migration.SimpleEconomyName, logSkips: cfg.LogSkips}
	source := migration.ParseSimpleEconomy(p, cfg.DataDir,
		migration.WithFs(cfg.Fs),
		migration.WithSkipHook(skips.observe),
	)
	return &simpleEconomyPlugin{enabled: enabled, source: source, skips: skips}
}

func (p *simpleEconomyPlugin) Name() string { return migration.SimpleEconomyName }

func (p *simpleEconomyPlugin) Enabled() bool { return p.enabled }

func (p *simpleEconomyPlugin) Build(_ context.Context) (model.Source, error) {
	return p.source, nil
}

func (p *simpleEconomyPlugin) Skipped() map[string]int64 { return p.skips.snapshot() }

// skipCounter tallies skip decisions reported by a source.
type skipCounter struct {
	source   string
	logSkips bool

	mu     sync.Mutex
	counts map[migration.SkipReason]int64
}

func (c *skipCounter) observe(path string, reason migration.SkipReason) {
	if c.logSkips {
		log.Printf("migration: %s skipped %s (%s)", c.source, path, reason)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[migration.SkipReason]int64)
	}
	c.counts[reason]++
}

func (c *skipCounter) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counts))
	for reason, n := range c.counts {
		out[reason.String()] = n
	}
	return out
}

// enabledSources builds every enabled plugin. Build failures are reported per
// plugin name and do not stop the others.
func enabledSources(ctx context.Context, plugins []SourcePlugin) ([]model.Source, map[string]error) {
	sources := make([]model.Source, 0, len(plugins))
	failures := make(map[string]error)
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Printf("Error initializing source plugin %q: %v", plugin.Name(), err)
			failures[plugin.Name()] = err
			continue
		}
		sources = append(sources, src)
	}
	return sources, failures
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
