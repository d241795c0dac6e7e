package api

import (
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
)

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	entries, err := s.files.List(runID)
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	writeJSONStatus(w, map[string]any{"run_id": runID, "artifacts": entries}, http.StatusOK)
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	rel := chi.URLParam(r, "*")
	// chi routes on the escaped path when one exists.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(rel)
		if err != nil {
			http.Error(w, "invalid artifact path", http.StatusBadRequest)
			return
		}
		rel = unescaped
	}
	if rel == "" {
		http.Error(w, "invalid artifact path", http.StatusBadRequest)
		return
	}
	resolved, err := s.files.ResolvePath(runID, rel)
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	file, err := os.Open(resolved)
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	if info.IsDir() {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	http.ServeContent(w, r, path.Base(rel), info.ModTime(), file)
}

func writeArtifactError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, artifacts.ErrInvalidIdentifier), errors.Is(err, artifacts.ErrPathTraversal):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "artifact not found", http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
