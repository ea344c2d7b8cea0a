package api

import (
	"cmp"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-live/internal/history"
	"github.com/nerrad567/gray-logic-live/internal/signal"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxSignalIDLen      = 256
)

// signalListResponse is the body of GET /api/v1/signals.
type signalListResponse struct {
	Signals []signal.Signal `json:"signals"`
	Count   int             `json:"count"`
}

// historyResponse is the body of GET /api/v1/signals/{id}/history.
type historyResponse struct {
	SignalID string          `json:"signal_id"`
	Entries  []history.Entry `json:"entries"`
	Count    int             `json:"count"`
}

// handleListSignals returns every current signal ordered by ID.
// The optional prefix query parameter narrows the list to one namespace
// ("?prefix=oh:").
func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	signals := sortedSignals(s.store.GetAll(), prefix)
	writeJSON(w, http.StatusOK, signalListResponse{
		Signals: signals,
		Count:   len(signals),
	})
}

// handleGetSignal returns one signal.
func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	id, ok := signalIDParam(w, r)
	if !ok {
		return
	}

	sig, found := s.store.Get(id)
	if !found {
		writeNotFound(w, "signal not found")
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// handleSignalHistory returns recorded values for a signal, newest first.
func (s *Server) handleSignalHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "signal history is disabled")
		return
	}

	id, ok := signalIDParam(w, r)
	if !ok {
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.History(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to read signal history", "signal_id", id, "error", err)
		writeInternalError(w, "failed to read signal history")
		return
	}

	// A signal that has never been seen is a 404; one the store knows with
	// nothing recorded yet is an empty list.
	if len(entries) == 0 {
		if _, known := s.store.Get(id); !known {
			writeNotFound(w, "signal not found")
			return
		}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		SignalID: id,
		Entries:  entries,
		Count:    len(entries),
	})
}

// signalIDParam reads the {id} route parameter and writes a 400 when it is
// unusable.
func signalIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxSignalIDLen {
		writeBadRequest(w, "invalid signal ID")
		return "", false
	}
	return id, true
}

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum of %d", maxHistoryLimit)
	}
	return limit, nil
}

// sortedSignals returns the signals whose ID starts with prefix, ordered by ID.
func sortedSignals(all map[string]signal.Signal, prefix string) []signal.Signal {
	out := make([]signal.Signal, 0, len(all))
	for id, sig := range all {
		if strings.HasPrefix(id, prefix) {
			out = append(out, sig)
		}
	}
	slices.SortFunc(out, func(a, b signal.Signal) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
