package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcast/dialcast/internal/store"
)

// lockResponse is one caller-identity lock in API form.
type lockResponse struct {
	PhoneNumber string `json:"phone_number"`
	HolderID    string `json:"holder_id"`
	CallRef     string `json:"call_ref"`
	AcquiredAt  string `json:"acquired_at"`
	ExpiresAt   string `json:"expires_at"`
}

// toLockResponse converts a store.Lock to the API response.
func toLockResponse(l store.Lock) lockResponse {
	return lockResponse{
		PhoneNumber: l.PhoneNumber,
		HolderID:    l.HolderID,
		CallRef:     l.CallRef,
		AcquiredAt:  l.AcquiredAt.Format(time.RFC3339),
		ExpiresAt:   l.ExpiresAt.Format(time.RFC3339),
	}
}

// handleListLocks returns the live caller-identity locks held by one holder.
func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	holderID := r.URL.Query().Get("holderId")
	if holderID == "" {
		writeError(w, http.StatusBadRequest, "holderId query parameter is required")
		return
	}

	locks, err := s.locks.ListByHolder(r.Context(), holderID)
	if err != nil {
		slog.Error("list caller id locks: failed to query", "error", err, "holder_id", holderID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]lockResponse, len(locks))
	for i, l := range locks {
		items[i] = toLockResponse(l)
	}

	writeJSON(w, http.StatusOK, items)
}

// handleReleaseLock force-releases the lock on an outbound number. Meant
// for operator cleanup when a callback went missing.
func (s *Server) handleReleaseLock(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "phoneNumber")
	if msg := validatePhone("phoneNumber", number); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	released, err := s.locks.ReleaseByNumber(r.Context(), number)
	if err != nil {
		slog.Error("release caller id lock: failed", "error", err, "number", number)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !released {
		writeError(w, http.StatusNotFound, "no lock held on that number")
		return
	}

	slog.Info("caller id lock force-released", "number", number)

	w.WriteHeader(http.StatusNoContent)
}
