package api

import (
	"log/slog"
	"net/http"

	"github.com/dialcast/dialcast/internal/telephony"
)

// handleStatusWebhook ingests one provider call-status notification. The
// provider retries non-2xx answers, so everything past basic form parsing
// acknowledges with 204: unknown call references are normal here because
// transfer legs share the same callback URL.
func (s *Server) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	callRef := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")
	answeredBy := r.PostFormValue("AnsweredBy")

	if callRef == "" || status == "" {
		writeError(w, http.StatusBadRequest, "CallSid and CallStatus are required")
		return
	}

	if err := s.dialer.HandleStatusCallback(r.Context(), callRef, telephony.CallStatus(status), answeredBy); err != nil {
		slog.Error("status callback processing failed",
			"error", err, "call_ref", callRef, "status", status)
	}

	// Transfer target legs report on the same URL; ended targets give their
	// caller-identity lock back here.
	if err := s.transfers.HandleTargetStatus(r.Context(), callRef, telephony.CallStatus(status)); err != nil {
		slog.Error("transfer status processing failed",
			"error", err, "call_ref", callRef, "status", status)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleAnswerWebhook serves call-control markup when a dialed leg answers.
// The winning leg is steered into the group's conference; legs of a
// terminal group, or losers once a winner is committed, are hung up.
func (s *Server) handleAnswerWebhook(w http.ResponseWriter, r *http.Request) {
	groupID := r.URL.Query().Get("group")
	if groupID == "" {
		writeError(w, http.StatusBadRequest, "group query parameter is required")
		return
	}
	callRef := r.FormValue("CallSid")

	g, err := s.dialer.GetGroup(r.Context(), groupID)
	if err != nil || g.Status.Terminal() || (g.WinnerCallRef != "" && g.WinnerCallRef != callRef) {
		writeMarkup(w, telephony.HangupResponse())
		return
	}

	body, err := telephony.ConferenceResponse(g.ConferenceName, telephony.ConferenceOptions{
		StartConferenceOnEnter: true,
		EndConferenceOnExit:    true,
		StatusCallbackURL:      s.webhookURL("/webhooks/telephony/status"),
	})
	if err != nil {
		slog.Error("answer webhook: rendering markup failed", "error", err, "group_id", groupID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeMarkup(w, body)
}

// writeMarkup writes call-control XML with a 200 status.
func writeMarkup(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(body) //nolint:errcheck
}
