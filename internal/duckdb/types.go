package duckdb

import "github.com/tinytelemetry/capmigrate/internal/model"

// Type aliases re-export model types so Store method signatures read naturally.
type AccountRecord = model.AccountRecord
type SourceTotal = model.SourceTotal
