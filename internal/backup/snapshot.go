package backup

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const (
	defaultKeepLast = 10
	filePrefix      = "accounts-"
	fileSuffix      = ".duckdb"
)

// ErrNoDatabase is returned when the store has no file to snapshot.
var ErrNoDatabase = errors.New("backup: store is in-memory")

// Snapshot copies the store into cfg.LocalDir under a timestamped name and
// prunes older snapshots beyond cfg.KeepLast. It returns "" when disabled.
func Snapshot(store Snapshotter, cfg Config, now time.Time) (string, error) {
	if !cfg.Enabled {
		return "", nil
	}
	if store == nil {
		return "", fmt.Errorf("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return "", ErrNoDatabase
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return "", fmt.Errorf("backup: snapshot-dir is required when snapshots are enabled")
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	fileName := filePrefix + now.UTC().Format("20060102-150405.000") + fileSuffix
	localPath := filepath.Join(cfg.LocalDir, fileName)

	if err := store.SnapshotTo(localPath); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	log.Printf("backup: created snapshot %s", localPath)

	if err := pruneSnapshots(fs, cfg.LocalDir, cfg.KeepLast); err != nil {
		return localPath, fmt.Errorf("prune snapshots: %w", err)
	}
	return localPath, nil
}

func pruneSnapshots(fs afero.Fs, localDir string, keepLast int) error {
	matches, err := afero.Glob(fs, filepath.Join(localDir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	// the timestamp in the name sorts lexically in time order
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	for _, oldPath := range matches[keepLast:] {
		if err := fs.Remove(oldPath); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
			return err
		}
		log.Printf("backup: pruned snapshot %s", oldPath)
	}
	return nil
}
