package main

import (
	"context"
	"log"
	"sync"

	"github.com/tinytelemetry/capmigrate/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultMuxBuffer is the default channel buffer size for the source multiplexer.
const DefaultMuxBuffer = 1024

// SourceMultiplexer runs several sources and merges their entries into one
// stream tagged with the producing source's name.
type SourceMultiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources []model.Source
	entries chan model.EntryEnvelope

	mu       sync.Mutex
	failures map[string]error

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	group     errgroup.Group
}

func NewSourceMultiplexer(parent context.Context, sources []model.Source, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &SourceMultiplexer{
		ctx:      ctx,
		cancel:   cancel,
		sources:  sources,
		entries:  make(chan model.EntryEnvelope, buffer),
		failures: make(map[string]error),
	}
}

// Start begins every source. A source that cannot start is recorded in
// Failures and the rest keep running. Entries closes once all are drained.
func (m *SourceMultiplexer) Start() {
	m.startOnce.Do(func() {
		for _, src := range m.sources {
			ch, err := src.Entries(m.ctx)
			if err != nil {
				log.Printf("migration: source %s failed: %v", src.Name(), err)
				m.recordFailure(src.Name(), err)
				continue
			}
			name := src.Name()
			m.group.Go(func() error {
				m.forward(name, ch)
				return nil
			})
		}

		go func() {
			_ = m.group.Wait()
			m.closeOutput()
		}()
	})
}

// Stop cancels all sources and waits for forwarding to finish.
func (m *SourceMultiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		_ = m.group.Wait()
		m.closeOutput()
	})
}

func (m *SourceMultiplexer) HasSources() bool {
	return len(m.sources) > 0
}

func (m *SourceMultiplexer) Entries() <-chan model.EntryEnvelope {
	return m.entries
}

// Failures returns the sources that could not start, keyed by name.
func (m *SourceMultiplexer) Failures() map[string]error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]error, len(m.failures))
	for k, v := range m.failures {
		out[k] = v
	}
	return out
}

func (m *SourceMultiplexer) recordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[name] = err
}

func (m *SourceMultiplexer) forward(name string, sourceEntries <-chan model.Entry) {
	for {
		select {
		case <-m.ctx.Done():
			return
		case entry, ok := <-sourceEntries:
			if !ok {
				return
			}
			select {
			case m.entries <- model.EntryEnvelope{Source: name, Entry: entry}:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

func (m *SourceMultiplexer) closeOutput() {
	m.closeOnce.Do(func() {
		close(m.entries)
	})
}
