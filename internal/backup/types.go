package backup

import "github.com/spf13/afero"

// Config controls the snapshot taken before a migration writes to the store.
type Config struct {
	Enabled  bool
	LocalDir string
	KeepLast int
	Fs       afero.Fs // used for pruning; nil means the OS filesystem
}

// Snapshotter is the minimal DB snapshot contract used before migrating.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(dstPath string) error
}
