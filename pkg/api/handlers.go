package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/strataregula/doe-runner/pkg/runstore"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleBackends lists the registered backends.
func (s *server) handleBackends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"backends": s.registry.List(),
	})
}

// handleListRuns returns recent run summaries, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"run history is not enabled"})

		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"limit must be a positive integer"})

			return
		}

		limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing runs failed"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns one run with its case records.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"run history is not enabled"})

		return
	}

	runID := chi.URLParam(r, "run_id")

	run, records, err := s.history.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, runstore.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"run not found"})

			return
		}

		s.log.WithError(err).Error("Failed to load run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"loading run failed"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":   run,
		"cases": records,
	})
}

// handleCacheStats reports the number of cached results.
func (s *server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.cache.Len(),
	})
}

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// handleCacheClear evicts a single cache entry by hash.
func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	if !hashPattern.MatchString(hash) {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"hash must be 64 lowercase hex characters"})

		return
	}

	if err := s.cache.Clear(hash); err != nil {
		s.log.WithError(err).WithField("hash", hash).
			Error("Failed to clear cache entry")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"clearing cache entry failed"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleCacheClearAll evicts every cache entry.
func (s *server) handleCacheClearAll(w http.ResponseWriter, _ *http.Request) {
	removed, err := s.cache.ClearAll()
	if err != nil {
		s.log.WithError(err).Error("Failed to clear cache")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"clearing cache failed"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
