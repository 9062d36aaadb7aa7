// pkg/netorder/restore.go

package netorder

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	cerr "github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// ErrNoRestorePoint is returned by Load when nothing is persisted.
var ErrNoRestorePoint = errors.New("no restore point")

// RestorePoint is the pre-mutation service order.
type RestorePoint struct {
	RunID    string    `yaml:"run_id"`
	TakenAt  time.Time `yaml:"taken_at"`
	Services []string  `yaml:"services"`
}

// Store persists a single RestorePoint at Path.
type Store struct {
	Path string
}

// Save writes rp atomically: a temp file in the same directory is synced
// and renamed over Path.
func (s Store) Save(rp RestorePoint) error {
	data, err := yaml.Marshal(rp)
	if err != nil {
		return cerr.Wrap(err, "failed to marshal restore point")
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cerr.Wrapf(err, "failed to create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".restore-*.yaml")
	if err != nil {
		return cerr.Wrap(err, "failed to create temp restore point")
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return cerr.Wrap(err, "failed to write restore point")
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return cerr.Wrap(err, "failed to set restore point permissions")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return cerr.Wrap(err, "failed to sync restore point")
	}
	if err := tmp.Close(); err != nil {
		return cerr.Wrap(err, "failed to close restore point")
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return cerr.Wrap(err, "failed to move restore point into place")
	}
	return nil
}

// Load reads the persisted RestorePoint.
func (s Store) Load() (*RestorePoint, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoRestorePoint
	}
	if err != nil {
		return nil, cerr.Wrapf(err, "failed to read %s", s.Path)
	}
	var rp RestorePoint
	if err := yaml.Unmarshal(data, &rp); err != nil {
		return nil, cerr.Wrapf(err, "failed to parse %s", s.Path)
	}
	return &rp, nil
}

// Exists reports whether a restore point file is present.
func (s Store) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Remove deletes the restore point. A missing file is not an error.
func (s Store) Remove() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cerr.Wrapf(err, "failed to remove %s", s.Path)
	}
	return nil
}
