package artifacts

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type Entry struct {
	Path       string  `json:"path"`
	SizeBytes  int64   `json:"size_bytes"`
	MtimeEpoch float64 `json:"mtime_epoch"`
}

func (e Entry) ModTime() time.Time {
	return time.Unix(0, int64(e.MtimeEpoch*float64(time.Second)))
}

// List returns every regular file under the run directory, sorted by path.
func (s *Store) List(runID string) ([]Entry, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	entries := []Entry{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || isTempFile(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Path:       filepath.ToSlash(rel),
			SizeBytes:  info.Size(),
			MtimeEpoch: float64(info.ModTime().UnixNano()) / float64(time.Second),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}
