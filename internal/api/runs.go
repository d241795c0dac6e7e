package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/waqasraza123/deep-research-agent/internal/research"
	"github.com/waqasraza123/deep-research-agent/internal/store"
)

type runFailure struct {
	Error    string   `json:"error"`
	RunID    string   `json:"run_id"`
	Warnings []string `json:"warnings"`
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var req research.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	resp, err := s.runner.Run(r.Context(), req)
	if err == nil {
		writeJSONStatus(w, resp, http.StatusOK)
		return
	}
	if errors.Is(err, research.ErrInvalidRequest) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	failure := runFailure{Error: err.Error(), RunID: req.RunID, Warnings: []string{}}
	var runErr *research.RunError
	if errors.As(err, &runErr) {
		failure.Error = runErr.Cause.Error()
		failure.RunID = runErr.RunID
		if runErr.Warnings != nil {
			failure.Warnings = runErr.Warnings
		}
	}
	writeJSONStatus(w, failure, http.StatusInternalServerError)
}

type runView struct {
	ID                string   `json:"id"`
	Question          string   `json:"question"`
	URLs              []string `json:"urls"`
	MaxSources        int      `json:"max_sources"`
	MaxLinksPerSource int      `json:"max_links_per_source"`
	FollowLinks       bool     `json:"follow_links"`
	Status            string   `json:"status"`
	Summary           string   `json:"summary,omitempty"`
	Error             string   `json:"error,omitempty"`
	Warnings          []string `json:"warnings"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
}

func toRunView(run store.Run) runView {
	view := runView{
		ID:                run.ID,
		Question:          run.Question,
		URLs:              run.URLs,
		MaxSources:        run.Limits.MaxSources,
		MaxLinksPerSource: run.Limits.MaxLinksPerSource,
		FollowLinks:       run.Limits.FollowLinks,
		Status:            run.Status,
		Summary:           run.Summary,
		Error:             run.Error,
		Warnings:          run.Warnings,
		CreatedAt:         run.CreatedAt,
		UpdatedAt:         run.UpdatedAt,
	}
	if view.URLs == nil {
		view.URLs = []string{}
	}
	if view.Warnings == nil {
		view.Warnings = []string{}
	}
	return view
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toRunView(run))
	}
	writeJSONStatus(w, map[string]any{"runs": views}, http.StatusOK)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, store.ErrRunNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSONStatus(w, toRunView(*run), http.StatusOK)
}
