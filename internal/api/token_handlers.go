package api

import (
	"log/slog"
	"net/http"
	"time"
)

// voiceTokenRequest is the JSON request body for issuing a voice token.
type voiceTokenRequest struct {
	AgentID  string `json:"agent_id"`
	Identity string `json:"identity"`
}

// voiceTokenResponse carries an issued voice token and its expiry.
type voiceTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	AgentID   string `json:"agent_id"`
	Identity  string `json:"identity"`
}

// handleIssueVoiceToken issues a short-lived JWT for a softphone client.
func (s *Server) handleIssueVoiceToken(w http.ResponseWriter, r *http.Request) {
	var req voiceTokenRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if msg := validateRequiredStringLen("agent_id", req.AgentID, maxIDLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if msg := validateStringLen("identity", req.Identity, maxIDLen); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	identity := req.Identity
	if identity == "" {
		identity = req.AgentID
	}

	tok, expiresAt, err := s.tokens.Issue(req.AgentID, identity)
	if err != nil {
		slog.Error("issue voice token: failed", "error", err, "agent_id", req.AgentID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("voice token issued", "agent_id", req.AgentID, "identity", identity)

	writeJSON(w, http.StatusCreated, voiceTokenResponse{
		Token:     tok,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		AgentID:   req.AgentID,
		Identity:  identity,
	})
}
