package provision

import "github.com/tinytelemetry/capmigrate/internal/model"

// AccountSink receives provisioned account records, e.g. a duckdb.InsertBuffer.
type AccountSink interface {
	Add(record *model.AccountRecord)
}

// EntryProcessor turns source-tagged migration entries into account records.
type EntryProcessor interface {
	ProcessEntry(model.EntryEnvelope) *ProcessResult
	Counts() map[string]int64
}

// ProcessResult holds the account created for one entry.
type ProcessResult struct {
	Record *model.AccountRecord
}
