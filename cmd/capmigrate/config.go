package main

import (
	"time"

	"github.com/tinytelemetry/capmigrate/internal/config"
	"github.com/tinytelemetry/capmigrate/internal/duckdb"
	"github.com/tinytelemetry/capmigrate/internal/model"
)

const (
	defaultDataDir             = "."
	defaultQueryTimeout        = model.DefaultQueryTimeout
	defaultInsertBatchSize     = 2000
	defaultInsertFlushInterval = 100 * time.Millisecond
	defaultInsertFlushQueue    = duckdb.DefaultFlushQueueSize
	defaultMuxBufferSize       = DefaultMuxBuffer
	defaultAPIAddr             = "127.0.0.1:3000"
	defaultSnapshotKeepLast    = 10
)

// appConfig is the command's runtime configuration. Per-source options are
// read separately through config.Parser.
type appConfig struct {
	DataDir             string        `mapstructure:"data-dir"`
	DBPath              string        `mapstructure:"db-path"`
	QueryTimeout        time.Duration `mapstructure:"query-timeout"`
	InsertBatchSize     int           `mapstructure:"insert-batch-size"`
	InsertFlushInterval time.Duration `mapstructure:"insert-flush-interval"`
	InsertFlushQueue    int           `mapstructure:"insert-flush-queue-size"`
	MuxBufferSize       int           `mapstructure:"mux-buffer-size"`
	LogSkips            bool          `mapstructure:"log-skips"`
	APIEnabled          bool          `mapstructure:"api-enabled"`
	APIAddr             string        `mapstructure:"api-addr"`
	SnapshotEnabled     bool          `mapstructure:"snapshot-enabled"`
	SnapshotDir         string        `mapstructure:"snapshot-dir"`
	SnapshotKeepLast    int           `mapstructure:"snapshot-keep-last"`
	ConfigPath          string        `mapstructure:"-"`
}

// topLevelOptions documents appConfig for -print-config.
func topLevelOptions(defaultDBPath, defaultSnapshotDir string) []config.Option {
	return []config.Option{
		{Key: "data-dir", Default: defaultDataDir, Doc: "Server data directory. Legacy plugin paths default to locations under it."},
		{Key: "db-path", Default: defaultDBPath, Doc: "DuckDB file that receives migrated accounts. Empty keeps them in memory."},
		{Key: "query-timeout", Default: defaultQueryTimeout.String(), Doc: "Timeout for a single database statement."},
		{Key: "insert-batch-size", Default: defaultInsertBatchSize, Doc: "Accounts written per DuckDB transaction."},
		{Key: "insert-flush-interval", Default: defaultInsertFlushInterval.String(), Doc: "How often partial batches are flushed."},
		{Key: "insert-flush-queue-size", Default: defaultInsertFlushQueue, Doc: "Batches that may wait for the writer before inserts run inline."},
		{Key: "mux-buffer-size", Default: defaultMuxBufferSize, Doc: "Entries buffered between sources and provisioning."},
		{Key: "log-skips", Default: false, Doc: "Log every legacy file that produced no account."},
		{Key: "api-enabled", Default: false, Doc: "Serve the read-only accounts API when run with -serve."},
		{Key: "api-addr", Default: defaultAPIAddr, Doc: "Listen address for the accounts API."},
		{Key: "snapshot-enabled", Default: true, Doc: "Copy the accounts database aside before each migration."},
		{Key: "snapshot-dir", Default: defaultSnapshotDir, Doc: "Directory that keeps pre-migration snapshots."},
		{Key: "snapshot-keep-last", Default: defaultSnapshotKeepLast, Doc: "Snapshots to keep. Older ones are removed."},
	}
}
