package provision

import (
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/capmigrate/internal/model"
)

// Processor maps entries onto account records and forwards them to a sink.
// It keeps no record of earlier entries, so duplicates across sources are
// forwarded as they arrive.
type Processor struct {
	sink AccountSink
	now  func() time.Time

	mu     sync.Mutex
	counts map[string]int64
}

var _ EntryProcessor = (*Processor)(nil)

// NewProcessor creates a processor writing to sink. A nil sink only counts.
func NewProcessor(sink AccountSink) *Processor {
	return &Processor{
		sink:   sink,
		now:    func() time.Time { return time.Now().UTC() },
		counts: make(map[string]int64),
	}
}

// ProcessEntry provisions one account. The migration source is taken from the
// entry's migration_source label, falling back to the envelope's source name.
func (p *Processor) ProcessEntry(env model.EntryEnvelope) *ProcessResult {
	source := env.Entry.Label(model.LabelMigrationSource)
	if source == "" {
		source = env.Source
	}

	record := &model.AccountRecord{
		PlayerName:      strings.ToLower(env.Entry.Label(model.LabelPlayerName)),
		MigrationSource: source,
		Balance:         env.Entry.Amount,
		Labels:          copyLabels(env.Entry.Labels, source),
		MigratedAt:      p.now(),
	}

	p.mu.Lock()
	p.counts[source]++
	p.mu.Unlock()

	if p.sink != nil {
		p.sink.Add(record)
	}
	return &ProcessResult{Record: record}
}

// Counts returns how many entries were provisioned per migration source.
func (p *Processor) Counts() map[string]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int64, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

func copyLabels(labels map[string]string, source string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	if out[model.LabelMigrationSource] == "" {
		out[model.LabelMigrationSource] = source
	}
	return out
}
