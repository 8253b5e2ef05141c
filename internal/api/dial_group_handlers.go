package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dialcast/dialcast/internal/dialer"
	"github.com/dialcast/dialcast/internal/store"
)

// dialGroupRequest is the JSON request body for starting a parallel dial
// group. Callers either name the outbound identities explicitly in
// from_numbers, or hand over their number_pool and let local-presence
// selection pick one identity per customer number.
type dialGroupRequest struct {
	CustomerNumbers []string     `json:"customer_numbers"`
	FromNumbers     []string     `json:"from_numbers"`
	NumberPool      []poolNumber `json:"number_pool"`
	QueueID         string       `json:"queue_id"`
	AgentID         string       `json:"agent_id"`
	ContactIDs      []string     `json:"contact_ids"`
	DialTimeout     *int         `json:"dial_timeout"`
}

// dialAttemptResponse is one dial leg in a group response.
type dialAttemptResponse struct {
	CallRef        string `json:"call_ref"`
	CustomerNumber string `json:"customer_number"`
	FromNumber     string `json:"from_number"`
	Position       int    `json:"position"`
	Status         string `json:"status"`
	AnsweredBy     string `json:"answered_by,omitempty"`
	Screened       bool   `json:"screened,omitempty"`
	ContactID      string `json:"contact_id,omitempty"`
}

// dialGroupResponse is the JSON response for a single dial group.
type dialGroupResponse struct {
	ID             string                `json:"id"`
	QueueID        string                `json:"queue_id,omitempty"`
	AgentID        string                `json:"agent_id,omitempty"`
	ConferenceName string                `json:"conference_name"`
	Status         string                `json:"status"`
	WinnerCallRef  string                `json:"winner_call_ref,omitempty"`
	Attempts       []dialAttemptResponse `json:"attempts"`
	CreatedAt      string                `json:"created_at"`
	UpdatedAt      string                `json:"updated_at"`
}

// toDialGroupResponse converts a store.Group to the API response.
func toDialGroupResponse(g *store.Group) dialGroupResponse {
	resp := dialGroupResponse{
		ID:             g.ID,
		QueueID:        g.QueueID,
		AgentID:        g.AgentID,
		ConferenceName: g.ConferenceName,
		Status:         string(g.Status),
		WinnerCallRef:  g.WinnerCallRef,
		Attempts:       make([]dialAttemptResponse, len(g.Attempts)),
		CreatedAt:      g.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      g.UpdatedAt.Format(time.RFC3339),
	}

	for i, a := range g.Attempts {
		resp.Attempts[i] = dialAttemptResponse{
			CallRef:        a.CallRef,
			CustomerNumber: a.CustomerNumber,
			FromNumber:     a.FromNumber,
			Position:       a.Position,
			Status:         string(a.Status),
			AnsweredBy:     a.AnsweredBy,
			Screened:       a.Screened,
			ContactID:      a.ContactID,
		}
	}

	return resp
}

// handleCreateDialGroup starts a parallel dial group.
func (s *Server) handleCreateDialGroup(w http.ResponseWriter, r *http.Request) {
	var req dialGroupRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if errMsg := validateDialGroupRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	timeout := s.cfg.DialTimeout
	if req.DialTimeout != nil {
		timeout = *req.DialTimeout
	}

	// Explicit identities win; the pool is consulted only when none are
	// given.
	fromNumbers := req.FromNumbers
	if len(fromNumbers) == 0 {
		fromNumbers = s.selectIdentities(req.NumberPool, req.CustomerNumbers)
		if fromNumbers == nil {
			slog.Warn("create dial group: pool cannot cover destinations",
				"pool_size", len(req.NumberPool), "customers", len(req.CustomerNumbers))
			writeDomainError(w, fmt.Errorf("selecting outbound identities: %w", dialer.ErrNoAvailableNumbers))
			return
		}
		slog.Info("outbound identities selected from pool",
			"pool_size", len(req.NumberPool), "selected", fromNumbers)
	}

	g, err := s.dialer.InitiateGroup(r.Context(), dialer.InitiateGroupRequest{
		CustomerNumbers:    req.CustomerNumbers,
		FromNumbers:        fromNumbers,
		QueueID:            req.QueueID,
		AgentID:            req.AgentID,
		ContactIDs:         req.ContactIDs,
		AnswerURL:          s.webhookURL("/webhooks/telephony/answer"),
		StatusCallbackURL:  s.webhookURL("/webhooks/telephony/status"),
		DialTimeoutSeconds: timeout,
	})
	if err != nil {
		slog.Error("create dial group: initiate failed", "error", err, "agent_id", req.AgentID)
		writeDomainError(w, err)
		return
	}

	slog.Info("dial group created", "group_id", g.ID, "attempts", len(g.Attempts), "agent_id", g.AgentID)

	writeJSON(w, http.StatusCreated, toDialGroupResponse(g))
}

// handleGetDialGroup returns a single dial group by ID.
func (s *Server) handleGetDialGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.dialer.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDialGroupResponse(g))
}

// handleTerminateDialGroup aborts a dial group, hanging up every live leg.
func (s *Server) handleTerminateDialGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.dialer.TerminateGroup(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	slog.Info("dial group terminated", "group_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// releasableNumbersResponse lists outbound identities safe to release.
type releasableNumbersResponse struct {
	Numbers []string `json:"numbers"`
}

// handleReleasableNumbers returns the outbound numbers held by non-winning
// attempts of a connected or completed group.
func (s *Server) handleReleasableNumbers(w http.ResponseWriter, r *http.Request) {
	g, err := s.dialer.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	numbers := s.dialer.GetReleasableNumbers(g)
	if numbers == nil {
		numbers = []string{}
	}

	writeJSON(w, http.StatusOK, releasableNumbersResponse{Numbers: numbers})
}

// validateDialGroupRequest checks required fields for starting a dial group.
func validateDialGroupRequest(req dialGroupRequest) string {
	if len(req.CustomerNumbers) == 0 {
		return "customer_numbers is required"
	}
	if len(req.CustomerNumbers) > dialer.MaxCustomerNumbers {
		return "customer_numbers must contain at most " + intToStr(dialer.MaxCustomerNumbers) + " entries"
	}
	for i, n := range req.CustomerNumbers {
		if msg := validatePhone("customer_numbers["+intToStr(i)+"]", n); msg != "" {
			return msg
		}
	}
	if len(req.FromNumbers) == 0 && len(req.NumberPool) == 0 {
		return "from_numbers or number_pool is required"
	}
	if len(req.FromNumbers) > 0 && len(req.FromNumbers) < len(req.CustomerNumbers) {
		return "from_numbers must contain at least one number per customer number"
	}
	for i, n := range req.FromNumbers {
		if msg := validatePhone("from_numbers["+intToStr(i)+"]", n); msg != "" {
			return msg
		}
	}
	if msg := validateNumberPool("number_pool", req.NumberPool); msg != "" {
		return msg
	}
	if len(req.ContactIDs) > 0 && len(req.ContactIDs) != len(req.CustomerNumbers) {
		return "contact_ids must match customer_numbers in length"
	}
	if msg := validateStringLen("queue_id", req.QueueID, maxIDLen); msg != "" {
		return msg
	}
	if msg := validateStringLen("agent_id", req.AgentID, maxIDLen); msg != "" {
		return msg
	}
	return validateIntRange("dial_timeout", req.DialTimeout, 5, 600)
}
