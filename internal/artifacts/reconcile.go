package artifacts

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	PlanFile    = "plan.md"
	NotesFile   = "notes.md"
	SourcesFile = "sources.json"
	ReportFile  = "report.md"
)

// RequiredFiles are the deliverables every run must expose once it finishes.
var RequiredFiles = []string{PlanFile, NotesFile, SourcesFile, ReportFile}

var placeholders = map[string]string{
	PlanFile:    "# Plan\n\n- (Agent did not write plan)\n",
	NotesFile:   "# Notes\n\n(Agent did not write notes)\n",
	SourcesFile: "[]\n",
	ReportFile:  "# Report\n\n(Agent did not write report)\n",
}

// Missing returns the required files that do not exist yet, in RequiredFiles order.
// A required name that resolves outside the run directory counts as missing.
func (s *Store) Missing(runID string) ([]string, error) {
	if _, err := s.RunDir(runID); err != nil {
		return nil, err
	}
	missing := []string{}
	for _, name := range RequiredFiles {
		path, err := s.ResolvePath(runID, name)
		if errors.Is(err, ErrPathTraversal) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Reconcile backfills required deliverables that are missing and resets an
// unparsable sources.json to an empty array. It writes nothing when all four
// files already exist and are valid. The returned warnings describe each repair.
func (s *Store) Reconcile(runID string) ([]string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	warnings := []string{}
	for _, name := range RequiredFiles {
		path, err := s.ResolvePath(runID, name)
		if errors.Is(err, ErrPathTraversal) {
			// The rename replaces the link itself, never its target.
			if err := writeAtomic(filepath.Join(dir, name), []byte(placeholders[name])); err != nil {
				return warnings, err
			}
			warnings = append(warnings, "Replaced "+name+" (it pointed outside the run directory).")
			continue
		}
		if err != nil {
			return warnings, err
		}
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if err := writeAtomic(path, []byte(placeholders[name])); err != nil {
				return warnings, err
			}
			warnings = append(warnings, "Backfilled "+name+" (agent did not create it).")
		case err != nil:
			return warnings, err
		case name == SourcesFile && !validSources(data):
			if err := writeAtomic(path, []byte(placeholders[name])); err != nil {
				return warnings, err
			}
			warnings = append(warnings, "Reset "+name+" to [] (invalid JSON).")
		}
	}
	return warnings, nil
}

func validSources(data []byte) bool {
	var entries []json.RawMessage
	return json.Unmarshal(data, &entries) == nil && entries != nil
}
