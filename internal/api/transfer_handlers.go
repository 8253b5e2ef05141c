package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcast/dialcast/internal/conference"
	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/store"
)

// transferRequest is the JSON request body for starting a transfer. When
// caller_id is absent, the target leg's identity is picked from number_pool
// by local-presence selection against the recipient.
type transferRequest struct {
	ConferenceName  string       `json:"conference_name"`
	Type            string       `json:"type"`
	RecipientPhone  string       `json:"recipient_phone"`
	CallerID        string       `json:"caller_id"`
	NumberPool      []poolNumber `json:"number_pool"`
	AgentCallRef    string       `json:"agent_call_ref"`
	CustomerCallRef string       `json:"customer_call_ref"`
}

// transferResponse is the JSON response for a single transfer.
type transferResponse struct {
	ID              string `json:"id"`
	ConferenceName  string `json:"conference_name"`
	Type            string `json:"type"`
	Status          string `json:"status"`
	StatusDetail    string `json:"status_detail,omitempty"`
	RecipientPhone  string `json:"recipient_phone"`
	CallerID        string `json:"caller_id,omitempty"`
	AgentCallRef    string `json:"agent_call_ref,omitempty"`
	CustomerCallRef string `json:"customer_call_ref,omitempty"`
	TransferCallRef string `json:"transfer_call_ref,omitempty"`
	CustomerOnHold  bool   `json:"customer_on_hold"`
	CustomerMuted   bool   `json:"customer_muted"`
	InitiatedAt     string `json:"initiated_at"`
	ConnectedAt     string `json:"connected_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
}

// toTransferResponse converts a store.Transfer to the API response.
func toTransferResponse(t *store.Transfer) transferResponse {
	resp := transferResponse{
		ID:              t.ID,
		ConferenceName:  t.ConferenceName,
		Type:            string(t.Type),
		Status:          string(t.Status),
		StatusDetail:    t.StatusDetail,
		RecipientPhone:  t.RecipientPhone,
		CallerID:        t.CallerID,
		AgentCallRef:    t.AgentCallRef,
		CustomerCallRef: t.CustomerCallRef,
		TransferCallRef: t.TransferCallRef,
		CustomerOnHold:  t.CustomerOnHold,
		CustomerMuted:   t.CustomerMuted,
		InitiatedAt:     t.InitiatedAt.Format(time.RFC3339),
	}

	if t.ConnectedAt != nil {
		resp.ConnectedAt = t.ConnectedAt.Format(time.RFC3339)
	}
	if t.CompletedAt != nil {
		resp.CompletedAt = t.CompletedAt.Format(time.RFC3339)
	}

	return resp
}

// handleCreateTransfer starts a cold or warm transfer on a conference.
func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if errMsg := validateTransferRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	callerID := req.CallerID
	if callerID == "" && len(req.NumberPool) > 0 {
		selected := s.selectIdentities(req.NumberPool, []string{req.RecipientPhone})
		if selected == nil {
			slog.Warn("create transfer: pool has no active number",
				"pool_size", len(req.NumberPool), "recipient", req.RecipientPhone)
			writeDomainError(w, fmt.Errorf("selecting caller identity: %w", dialer.ErrNoAvailableNumbers))
			return
		}
		callerID = selected[0]
		slog.Info("transfer caller identity selected from pool", "caller_id", callerID)
	}

	t, err := s.transfers.InitiateTransfer(r.Context(), conference.InitiateTransferRequest{
		ConferenceName:    req.ConferenceName,
		Type:              store.TransferType(req.Type),
		RecipientPhone:    req.RecipientPhone,
		CallerID:          callerID,
		AgentCallRef:      req.AgentCallRef,
		CustomerCallRef:   req.CustomerCallRef,
		StatusCallbackURL: s.webhookURL("/webhooks/telephony/status"),
	})
	if err != nil {
		if t != nil {
			// The transfer record exists in failed state and stays
			// inspectable under the conference's transfer list.
			slog.Error("create transfer: sequence failed",
				"error", err, "transfer_id", t.ID, "detail", t.StatusDetail)
		} else {
			slog.Error("create transfer: rejected", "error", err)
		}
		writeDomainError(w, err)
		return
	}

	slog.Info("transfer created", "transfer_id", t.ID, "type", t.Type, "conference", t.ConferenceName)

	writeJSON(w, http.StatusCreated, toTransferResponse(t))
}

// handleGetTransfer returns a single transfer by ID.
func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := s.transfers.GetTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toTransferResponse(t))
}

// handleCompleteTransfer finishes a consulting warm transfer: the customer
// comes off hold, the target becomes the anchor leg, the agent drops out.
func (s *Server) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.transfers.CompleteTransfer(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("transfer completed", "transfer_id", id)

	writeJSON(w, http.StatusOK, toTransferResponse(t))
}

// handleCancelTransfer aborts a consulting warm transfer, restoring the
// agent-customer call.
func (s *Server) handleCancelTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.transfers.CancelTransfer(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("transfer cancelled", "transfer_id", id)

	writeJSON(w, http.StatusOK, toTransferResponse(t))
}

// validateTransferRequest checks required fields for starting a transfer.
func validateTransferRequest(req transferRequest) string {
	if msg := validateRequiredStringLen("conference_name", req.ConferenceName, maxIDLen); msg != "" {
		return msg
	}
	if msg := validateNoControlChars("conference_name", req.ConferenceName); msg != "" {
		return msg
	}
	switch store.TransferType(req.Type) {
	case store.TransferCold, store.TransferWarm:
	default:
		return "type must be \"cold\" or \"warm\""
	}
	if msg := validatePhone("recipient_phone", req.RecipientPhone); msg != "" {
		return msg
	}
	if msg := validateOptionalPhone("caller_id", req.CallerID); msg != "" {
		return msg
	}
	if msg := validateNumberPool("number_pool", req.NumberPool); msg != "" {
		return msg
	}
	if msg := validateCallRef("agent_call_ref", req.AgentCallRef); msg != "" {
		return msg
	}
	if store.TransferType(req.Type) == store.TransferWarm {
		return validateCallRef("customer_call_ref", req.CustomerCallRef)
	}
	if req.CustomerCallRef != "" {
		return validateCallRef("customer_call_ref", req.CustomerCallRef)
	}
	return ""
}
