package model

// QueryOpts holds optional filters applied to account queries.
type QueryOpts struct {
	Source string // empty = all sources
	Player string // empty = all players
}

// AccountQuerier provides read-only queries on migrated accounts.
type AccountQuerier interface {
	TotalAccountCount(opts QueryOpts) (int64, error)
	SourceTotals() ([]SourceTotal, error)
	ListAccounts(opts QueryOpts, limit int) ([]AccountRecord, error)
	ListSources() ([]string, error)
}

// AccountWriter provides append-oriented writes for provisioned accounts.
// It returns how many of the records were written.
type AccountWriter interface {
	InsertAccountBatch(records []*AccountRecord) (int, error)
}
