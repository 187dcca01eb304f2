package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrSourceNotFound means a source's configured data location does not exist
// or is not usable. It is the only fatal error a source reports.
var ErrSourceNotFound = errors.New("source not found")

// ImportError is returned by a Source when it cannot start producing entries.
type ImportError struct {
	Source string
	Path   string
	Err    error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Source, e.Err, e.Path)
}

func (e *ImportError) Unwrap() error { return e.Err }

// Source is a legacy backend that can be migrated.
type Source interface {
	// Name identifies the legacy plugin, e.g. "simpleeconomy".
	Name() string

	// Entries starts a fresh scan and returns a channel that receives one
	// entry per valid record. The channel is closed when the scan is done or
	// ctx is cancelled. A non-nil error means nothing will be produced.
	Entries(ctx context.Context) (<-chan Entry, error)
}
