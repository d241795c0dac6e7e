package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/waqasraza123/deep-research-agent/internal/artifacts"
	"github.com/waqasraza123/deep-research-agent/internal/events"
)

// streamEvents replays buffered events for a run and then follows live ones
// until the run reaches a terminal event or the client goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if err := artifacts.ValidateRunID(runID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	// Subscribe before reading history so nothing published in between is lost.
	eventsChan := s.broker.Subscribe(ctx, runID)
	lastSeq := parseAfterSeq(runID, r)
	for _, event := range s.broker.History(runID) {
		if event.Seq <= lastSeq {
			continue
		}
		sendSSE(w, event)
		lastSeq = event.Seq
		if event.Terminal() {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			sendSSE(w, event)
			flusher.Flush()
			lastSeq = event.Seq
			if event.Terminal() {
				return
			}
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.RunEvent) {
	payload, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %s:%d\n", event.RunID, event.Seq)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func parseAfterSeq(runID string, r *http.Request) int64 {
	afterParam := strings.TrimSpace(r.URL.Query().Get("after_seq"))
	if afterParam != "" {
		if parsed, err := strconv.ParseInt(afterParam, 10, 64); err == nil {
			return parsed
		}
	}
	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		return 0
	}
	idx := strings.LastIndex(lastEventID, ":")
	if idx < 0 || lastEventID[:idx] != runID {
		return 0
	}
	seq, err := strconv.ParseInt(lastEventID[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
