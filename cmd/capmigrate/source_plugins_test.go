package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/tinytelemetry/capmigrate/internal/config"
	"github.com/tinytelemetry/capmigrate/internal/migration"
	"github.com/tinytelemetry/capmigrate/internal/model"
)

func TestBuildSourcePlugins_RegistersSimpleEconomy(t *testing.T) {
	t.Parallel()

	plugins := buildSourcePlugins(config.NewViperParser(viper.New()), SourcePluginConfig{DataDir: "/srv"})

	if len(plugins) != 1 {
		t.Fatalf("expected 1 plugin, got %d", len(plugins))
	}
	if plugins[0].Name() != migration.SimpleEconomyName {
		t.Fatalf("plugins[0] name = %q, want %q", plugins[0].Name(), migration.SimpleEconomyName)
	}
	if !plugins[0].Enabled() {
		t.Fatal("expected simpleeconomy plugin to be enabled by default")
	}

	src, err := plugins[0].Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	se, ok := src.(*migration.SimpleEconomySource)
	if !ok {
		t.Fatalf("Build returned %T", src)
	}
	if want := migration.SimpleEconomyDefaultPath("/srv"); se.Path() != want {
		t.Fatalf("path = %q, want %q", se.Path(), want)
	}
}

func TestSimpleEconomyPlugin_CountsSkips(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	root := migration.SimpleEconomyDefaultPath("/srv")
	files := map[string]string{
		"Steve.yml":  "data:\n  balance: 150\n",
		"notes.txt":  "hello",
		"broken.yml": "data: [",
		"empty.yml":  "data: {}\n",
	}
	if err := fs.MkdirAll(root, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for name, content := range files {
		if err := afero.WriteFile(fs, filepath.Join(root, name), []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	plugins := buildSourcePlugins(config.NewViperParser(viper.New()), SourcePluginConfig{DataDir: "/srv", Fs: fs})
	src, err := plugins[0].Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ch, err := src.Entries(context.Background())
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	count := 0
	for range ch {
		count++
	}
	if count != 1 {
		t.Fatalf("entries = %d, want 1", count)
	}

	skipped := plugins[0].Skipped()
	want := map[string]int64{
		migration.SkipExtension.String(): 1,
		migration.SkipMalformed.String(): 1,
		migration.SkipNoBalance.String(): 1,
	}
	if len(skipped) != len(want) {
		t.Fatalf("skipped = %v, want %v", skipped, want)
	}
	for reason, n := range want {
		if skipped[reason] != n {
			t.Fatalf("skipped[%s] = %d, want %d", reason, skipped[reason], n)
		}
	}
}

type stubPlugin struct {
	name    string
	enabled bool
	err     error
}

func (p stubPlugin) Name() string              { return p.name }
func (p stubPlugin) Enabled() bool             { return p.enabled }
func (p stubPlugin) Skipped() map[string]int64 { return nil }

func (p stubPlugin) Build(context.Context) (model.Source, error) {
	if p.err != nil {
		return nil, p.err
	}
	return newFakeSource(p.name), nil
}

func TestEnabledSources_SkipsDisabledAndRecordsBuildFailures(t *testing.T) {
	t.Parallel()

	buildErr := errors.New("boom")
	sources, failures := enabledSources(context.Background(), []SourcePlugin{
		stubPlugin{name: "a", enabled: true},
		stubPlugin{name: "b", enabled: false},
		stubPlugin{name: "c", enabled: true, err: buildErr},
	})

	if len(sources) != 1 || sources[0].Name() != "a" {
		t.Fatalf("sources = %v, want only a", sources)
	}
	if len(failures) != 1 || !errors.Is(failures["c"], buildErr) {
		t.Fatalf("failures = %v, want c: boom", failures)
	}
}
