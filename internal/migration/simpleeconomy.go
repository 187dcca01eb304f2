package migration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/tinytelemetry/capmigrate/internal/config"
	"github.com/tinytelemetry/capmigrate/internal/model"
	"gopkg.in/yaml.v3"
)

const (
	// SimpleEconomyName is the migration_source label value for SimpleEconomy.
	SimpleEconomyName = "simpleeconomy"

	dataFileExt = ".yml"
)

// SimpleEconomyDefaultPath returns the players directory SimpleEconomy uses
// under a server data directory.
func SimpleEconomyDefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "plugin_data", "SimpleEconomy", "players")
}

const simpleEconomyPathDoc = `
The path to the SimpleEconomy players data directory.
SimpleEconomy stores per-player YAML files in this directory.
Each file is named {playername}.yml and contains the player's balance under data.balance.
`

// SimpleEconomySource imports balances from SimpleEconomy's per-player YAML files.
type SimpleEconomySource struct {
	path    string
	fs      afero.Fs
	skipped SkipHook
}

// Option customizes a SimpleEconomySource.
type Option func(*SimpleEconomySource)

// WithFs replaces the filesystem the source reads from.
func WithFs(fs afero.Fs) Option {
	return func(s *SimpleEconomySource) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// WithSkipHook reports every file the source decides not to import.
func WithSkipHook(hook SkipHook) Option {
	return func(s *SimpleEconomySource) { s.skipped = hook }
}

// NewSimpleEconomySource creates a source rooted at path. No I/O happens until
// Entries is called.
func NewSimpleEconomySource(path string, opts ...Option) *SimpleEconomySource {
	s := &SimpleEconomySource{
		path: path,
		fs:   afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseSimpleEconomy reads the source's options from p. The default path is
// derived from the server data directory.
func ParseSimpleEconomy(p config.Parser, dataDir string, opts ...Option) *SimpleEconomySource {
	path := p.ExpectString("path", SimpleEconomyDefaultPath(dataDir), simpleEconomyPathDoc)
	return NewSimpleEconomySource(path, opts...)
}

func (s *SimpleEconomySource) Name() string { return SimpleEconomyName }

// Path returns the configured players directory.
func (s *SimpleEconomySource) Path() string { return s.path }

// Entries walks the players directory and emits one entry per valid file.
// The walk only advances as the caller receives, and stops when ctx is done.
func (s *SimpleEconomySource) Entries(ctx context.Context) (<-chan model.Entry, error) {
	info, err := s.fs.Stat(s.path)
	if err != nil || !info.IsDir() {
		cause := model.ErrSourceNotFound
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			cause = errors.Join(model.ErrSourceNotFound, err)
		}
		return nil, &model.ImportError{Source: s.Name(), Path: s.path, Err: cause}
	}

	ch := make(chan model.Entry)
	go s.walk(ctx, ch)
	return ch, nil
}

func (s *SimpleEconomySource) walk(ctx context.Context, ch chan<- model.Entry) {
	defer close(ch)
	_ = s.walkDir(ctx, s.path, ch)
}

// walkDir visits dir in name order, descending into subdirectories. It only
// returns an error when ctx is done.
func (s *SimpleEconomySource) walkDir(ctx context.Context, dir string, ch chan<- model.Entry) error {
	infos, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		s.skip(dir, SkipUnreadable)
		return nil
	}

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, info.Name())
		if info.IsDir() {
			if err := s.walkDir(ctx, path, ch); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
			continue
		}

		entry, reason := s.readEntry(path)
		if reason != SkipNone {
			s.skip(path, reason)
			continue
		}

		select {
		case ch <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// readEntry turns one file into an entry, or reports why it was skipped.
func (s *SimpleEconomySource) readEntry(path string) (model.Entry, SkipReason) {
	base := filepath.Base(path)
	if filepath.Ext(base) != dataFileExt {
		return model.Entry{}, SkipExtension
	}

	content, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return model.Entry{}, SkipUnreadable
	}

	balance, reason := parseBalance(content)
	if reason != SkipNone {
		return model.Entry{}, reason
	}

	return model.NewEntry(balance, map[string]string{
		model.LabelMigrationSource: SimpleEconomyName,
		model.LabelPlayerName:      strings.ToLower(strings.TrimSuffix(base, dataFileExt)),
	}), SkipNone
}

// parseBalance extracts data.balance from a SimpleEconomy player document.
// Keys are matched on the node tree, so a repeated key keeps its last value.
func parseBalance(content []byte) (int64, SkipReason) {
	var root yaml.Node
	if err := yaml.Unmarshal(content, &root); err != nil {
		return 0, SkipMalformed
	}
	if root.Kind == 0 {
		return 0, SkipNoBalance
	}

	doc := resolveAlias(&root)
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = resolveAlias(doc.Content[0])
	}
	if doc.Kind != yaml.MappingNode {
		return 0, SkipMalformed
	}

	data := lookup(doc, "data")
	if data == nil || data.Kind != yaml.MappingNode {
		return 0, SkipNoBalance
	}
	raw := lookup(data, "balance")
	if raw == nil || (raw.Kind == yaml.ScalarNode && raw.ShortTag() == nullTag) {
		return 0, SkipNoBalance
	}

	balance, ok := coerceNode(raw)
	if !ok {
		return 0, SkipUnsupportedBalance
	}
	return balance, SkipNone
}

// lookup returns the value stored under key in a mapping node, following
// aliases. The last occurrence of key wins.
func lookup(m *yaml.Node, key string) *yaml.Node {
	var found *yaml.Node
	for i := 0; i+1 < len(m.Content); i += 2 {
		k := resolveAlias(m.Content[i])
		if k.Kind == yaml.ScalarNode && k.Value == key {
			found = resolveAlias(m.Content[i+1])
		}
	}
	return found
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func (s *SimpleEconomySource) skip(path string, reason SkipReason) {
	if s.skipped != nil {
		s.skipped(path, reason)
	}
}
