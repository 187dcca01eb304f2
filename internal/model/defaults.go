package model

import "time"

// Shared defaults used by the command and the store.
const (
	DefaultQueryTimeout = 30 * time.Second
	DefaultListLimit    = 100
)
