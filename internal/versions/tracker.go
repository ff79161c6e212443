// Package versions tracks, per source file, the last content version that
// was fully imported. The version proxy is the file's modification time
// truncated to integer seconds: cheap and compatible with the upstream
// export process, but a weak integrity signal (coarse resolution, clock
// skew), not a content hash.
package versions

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"activity-sync/internal/store"
)

type Tracker struct {
	kv *store.KVStore
}

func NewTracker(db *sqlx.DB) (*Tracker, error) {
	kv, err := store.NewKVStore(db, "file_versions", "filename", "version")
	if err != nil {
		return nil, err
	}
	return &Tracker{kv: kv}, nil
}

// FileVersion returns the version proxy for a file on disk.
func FileVersion(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("versions: stat %s: %w", path, err)
	}
	return info.ModTime().Unix(), nil
}

// IsNewVersion reports whether the file changed since the last committed
// import. The stored baseline defaults to 0, so an unseen file is always
// new. Calling this never advances the baseline.
func (t *Tracker) IsNewVersion(path string) (bool, error) {
	current, err := FileVersion(path)
	if err != nil {
		return false, err
	}
	last, err := t.kv.Get(keyFor(path), 0)
	if err != nil {
		return false, err
	}
	return current > last, nil
}

// MarkProcessed persists the current proxy as the new baseline. Callers must
// only invoke this after a fully committed import, so that a crash
// mid-import leaves the baseline unchanged and the next run retries the
// whole file.
func (t *Tracker) MarkProcessed(path string) error {
	current, err := FileVersion(path)
	if err != nil {
		return err
	}
	return t.kv.Set(keyFor(path), current)
}

// Baselines are keyed by file name, not full path, so moving the resources
// directory does not force a reimport.
func keyFor(path string) string {
	return filepath.Base(path)
}
