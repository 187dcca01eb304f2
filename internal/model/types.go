package model

import "time"

// AccountRecord is a provisioned account row derived from one migrated Entry.
// It is the canonical type for storage and the read API.
type AccountRecord struct {
	EventID         string
	PlayerName      string
	MigrationSource string
	Balance         int64
	Labels          map[string]string
	MigratedAt      time.Time
}

// SourceTotal aggregates migrated accounts for one migration source.
type SourceTotal struct {
	Source   string
	Accounts int64
	Balance  int64
}
