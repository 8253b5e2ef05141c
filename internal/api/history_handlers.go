package api

import (
	"log/slog"
	"net/http"

	"github.com/dialcast/dialcast/internal/history"
)

// handleListCallHistory returns audited dial groups, newest first,
// optionally filtered by agent.
func (s *Server) handleListCallHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "call history is not enabled")
		return
	}

	p, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	agentID := r.URL.Query().Get("agentId")

	records, err := s.history.ListGroups(r.Context(), agentID, p.Offset+p.Limit)
	if err != nil {
		slog.Error("list call history: failed to query", "error", err, "agent_id", agentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	total := len(records)
	if p.Offset < len(records) {
		records = records[p.Offset:]
	} else {
		records = nil
	}
	if records == nil {
		records = []history.GroupRecord{}
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  records,
		Total:  total,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}

// handleListTransferHistory returns audited transfers, newest first,
// optionally filtered by conference name.
func (s *Server) handleListTransferHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "call history is not enabled")
		return
	}

	p, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	conferenceName := r.URL.Query().Get("conferenceName")

	records, err := s.history.ListTransfers(r.Context(), conferenceName, p.Offset+p.Limit)
	if err != nil {
		slog.Error("list transfer history: failed to query", "error", err, "conference", conferenceName)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	total := len(records)
	if p.Offset < len(records) {
		records = records[p.Offset:]
	} else {
		records = nil
	}
	if records == nil {
		records = []history.TransferRecord{}
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  records,
		Total:  total,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
}
