package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/dgallion1/docforge/internal/pipeline"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// archivedRun loads a finished run from the archive. It returns nil, nil
// when the archive is disabled or holds no such run.
func (s *Server) archivedRun(r *http.Request, runID string) (map[string]any, error) {
	if s.archive == nil {
		return nil, nil
	}
	node, err := s.archive.GetNode(r.Context(), pipeline.RunKey(runID))
	if err != nil || node == nil {
		return nil, err
	}
	run, ok := node.Value.(map[string]any)
	if !ok {
		return nil, errors.New("archived run has unexpected shape")
	}
	return run, nil
}

// handleListRuns lists archived runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		jsonError(w, "run archive is not configured", http.StatusServiceUnavailable)
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	children, err := s.archive.ListChildren(r.Context(), pipeline.RunKeyPrefix, limit)
	if err != nil {
		jsonError(w, "failed to list runs: "+err.Error(), http.StatusBadGateway)
		return
	}
	runs := make([]any, 0, len(children))
	for _, child := range children {
		if child.Value != nil {
			runs = append(runs, child.Value)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleDeleteRun removes a finished run's output, its archive entry and its
// in-memory record.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}

	var location string
	found := false
	if job := s.runner.GetJob(runID); job != nil {
		snap := job.Snapshot()
		if snap.Status != pipeline.StatusCompleted && snap.Status != pipeline.StatusFailed {
			jsonError(w, "run is still in progress", http.StatusConflict)
			return
		}
		location = snap.OutputLocation
		found = true
	}

	run, err := s.archivedRun(r, runID)
	if err != nil {
		jsonError(w, "failed to read archive: "+err.Error(), http.StatusBadGateway)
		return
	}
	archived := run != nil
	if archived && location == "" {
		location, _ = run["output_location"].(string)
	}
	if !found && !archived {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}

	outputRemoved := false
	if location != "" {
		if err := os.Remove(location); err == nil {
			outputRemoved = true
		} else if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("output remove failed", "run_id", runID, "path", location, "error", err)
		}
	}
	if archived {
		if err := s.archive.DeleteNode(r.Context(), pipeline.RunKey(runID), false); err != nil {
			jsonError(w, "failed to delete archived run: "+err.Error(), http.StatusBadGateway)
			return
		}
	}
	s.runner.ForgetJob(runID)

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":          runID,
		"output_removed":  outputRemoved,
		"archive_deleted": archived,
	})
}
