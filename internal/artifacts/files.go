package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const tempSuffix = ".partial"

// WriteFile atomically replaces rel inside the run directory with data.
func (s *Store) WriteFile(runID string, rel string, data []byte) error {
	path, err := s.ResolvePath(runID, rel)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func (s *Store) ReadFile(runID string, rel string) ([]byte, error) {
	path, err := s.ResolvePath(runID, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Exists reports whether rel names a regular file inside the run directory.
func (s *Store) Exists(runID string, rel string) (bool, error) {
	path, err := s.ResolvePath(runID, rel)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*"+tempSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Workspace is a view of the store bound to a single run.
type Workspace struct {
	store *Store
	runID string
}

func (s *Store) Workspace(runID string) (*Workspace, error) {
	if _, err := s.RunDir(runID); err != nil {
		return nil, err
	}
	return &Workspace{store: s, runID: runID}, nil
}

func (w *Workspace) RunID() string {
	return w.runID
}

func (w *Workspace) WriteFile(rel string, data []byte) error {
	return w.store.WriteFile(w.runID, rel, data)
}

func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	return w.store.ReadFile(w.runID, rel)
}

func (w *Workspace) Exists(rel string) (bool, error) {
	return w.store.Exists(w.runID, rel)
}
