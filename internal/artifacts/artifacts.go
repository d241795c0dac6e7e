// Package artifacts manages the sandboxed per-run directory tree: identifier
// and path validation, listing, atomic writes and reconciliation of the
// required deliverables.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidIdentifier = errors.New("invalid run id")
	ErrPathTraversal     = errors.New("invalid path")
)

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("artifacts root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string {
	return s.root
}

func ValidateRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, runID)
	}
	return nil
}

// RunDir validates runID and returns the run's directory, creating it when absent.
func (s *Store) RunDir(runID string) (string, error) {
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	return dir, nil
}

// ResolvePath maps rel onto an absolute path inside the run directory. The
// result is only returned when, after symlink evaluation, it is still inside
// the run directory.
func (s *Store) ResolvePath(runID string, rel string) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	if rel == "" || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) ||
		strings.Contains(rel, "..") || strings.Contains(rel, `\`) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, rel)
	}
	realDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", err
	}
	resolved, err := evalExisting(filepath.Join(realDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	if !within(realDir, resolved) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, rel)
	}
	return resolved, nil
}

// evalExisting resolves symlinks along the longest existing prefix of path and
// re-appends the missing remainder.
func evalExisting(path string) (string, error) {
	path = filepath.Clean(path)
	missing := []string{}
	current := path
	for {
		real, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				real = filepath.Join(real, missing[i])
			}
			return real, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}

func within(dir string, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
