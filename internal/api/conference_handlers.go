package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleListParticipants returns the live legs of a conference with their
// inferred roles.
func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	participants, err := s.transfers.ListParticipants(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, participants)
}

// handleListConferenceTransfers returns every transfer attempted on a
// conference, newest first.
func (s *Server) handleListConferenceTransfers(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	transfers, err := s.transfers.ListTransfers(r.Context(), name)
	if err != nil {
		slog.Error("list conference transfers: failed to query", "error", err, "conference", name)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]transferResponse, len(transfers))
	for i := range transfers {
		items[i] = toTransferResponse(&transfers[i])
	}

	writeJSON(w, http.StatusOK, items)
}

// holdRequest is the JSON request body for holding or resuming a leg.
type holdRequest struct {
	Hold *bool `json:"hold"`
}

// muteRequest is the JSON request body for muting or unmuting a leg.
type muteRequest struct {
	Mute *bool `json:"mute"`
}

// participantStateResponse acknowledges a hold or mute change.
type participantStateResponse struct {
	CallRef string `json:"call_ref"`
	Hold    *bool  `json:"hold,omitempty"`
	Muted   *bool  `json:"muted,omitempty"`
}

// handleHoldParticipant places a conference leg on or off hold.
func (s *Server) handleHoldParticipant(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	callRef := chi.URLParam(r, "callRef")

	var req holdRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Hold == nil {
		writeError(w, http.StatusBadRequest, "hold is required")
		return
	}

	if err := s.transfers.HoldParticipant(r.Context(), name, callRef, *req.Hold); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("participant hold changed", "conference", name, "call_ref", callRef, "hold", *req.Hold)

	writeJSON(w, http.StatusOK, participantStateResponse{CallRef: callRef, Hold: req.Hold})
}

// handleMuteParticipant mutes or unmutes a conference leg.
func (s *Server) handleMuteParticipant(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	callRef := chi.URLParam(r, "callRef")

	var req muteRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Mute == nil {
		writeError(w, http.StatusBadRequest, "mute is required")
		return
	}

	if err := s.transfers.MuteParticipant(r.Context(), name, callRef, *req.Mute); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("participant mute changed", "conference", name, "call_ref", callRef, "mute", *req.Mute)

	writeJSON(w, http.StatusOK, participantStateResponse{CallRef: callRef, Muted: req.Mute})
}
