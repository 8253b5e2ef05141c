package api

import (
	"net/http"

	"github.com/dialcast/dialcast/internal/presence"
)

// poolNumber is one candidate outbound number in a selection request.
type poolNumber struct {
	Number   string `json:"number"`
	AreaCode string `json:"area_code"`
	Primary  bool   `json:"primary"`
	Active   bool   `json:"active"`
}

// numberSelectionRequest is the JSON request body for picking an outbound
// number for a destination.
type numberSelectionRequest struct {
	Destination string       `json:"destination"`
	Pool        []poolNumber `json:"pool"`
}

// numberSelectionResponse reports the chosen number and why it was chosen.
type numberSelectionResponse struct {
	PhoneNumber      string  `json:"phone_number"`
	AreaCode         string  `json:"area_code,omitempty"`
	LocalMatch       bool    `json:"local_match"`
	ProximityMatch   bool    `json:"proximity_match"`
	DistanceMiles    float64 `json:"distance_miles,omitempty"`
	IsPrimary        bool    `json:"is_primary"`
	CustomerAreaCode string  `json:"customer_area_code,omitempty"`
}

// handleSelectNumber picks the best outbound number from a caller-owned
// pool for the given destination.
func (s *Server) handleSelectNumber(w http.ResponseWriter, r *http.Request) {
	var req numberSelectionRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	if errMsg := validateSelectionRequest(req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	sel := s.selector.SelectNumber(toPresencePool(req.Pool), req.Destination)
	if sel == nil {
		writeError(w, http.StatusNotFound, "no active number available in pool")
		return
	}

	writeJSON(w, http.StatusOK, numberSelectionResponse{
		PhoneNumber:      sel.PhoneNumber,
		AreaCode:         sel.AreaCode,
		LocalMatch:       sel.LocalMatch,
		ProximityMatch:   sel.ProximityMatch,
		DistanceMiles:    sel.DistanceMiles,
		IsPrimary:        sel.IsPrimary,
		CustomerAreaCode: sel.CustomerAreaCode,
	})
}

// validateSelectionRequest checks required fields for a number selection.
func validateSelectionRequest(req numberSelectionRequest) string {
	if msg := validatePhone("destination", req.Destination); msg != "" {
		return msg
	}
	if len(req.Pool) == 0 {
		return "pool is required"
	}
	return validateNumberPool("pool", req.Pool)
}

// validateNumberPool checks the entries of a candidate-number pool.
func validateNumberPool(field string, pool []poolNumber) string {
	if len(pool) > maxPoolSize {
		return field + " must contain at most " + intToStr(maxPoolSize) + " entries"
	}
	for i, n := range pool {
		if msg := validatePhone(field+"["+intToStr(i)+"].number", n.Number); msg != "" {
			return msg
		}
		if msg := validateAreaCode(field+"["+intToStr(i)+"].area_code", n.AreaCode); msg != "" {
			return msg
		}
	}
	return ""
}

// toPresencePool converts request pool entries to selector candidates.
func toPresencePool(pool []poolNumber) []presence.PhoneNumber {
	out := make([]presence.PhoneNumber, len(pool))
	for i, n := range pool {
		out[i] = presence.PhoneNumber{
			Number:   n.Number,
			AreaCode: n.AreaCode,
			Primary:  n.Primary,
			Active:   n.Active,
		}
	}
	return out
}

// selectIdentities picks one outbound identity per destination from a
// shared pool, never presenting the same number for two destinations at
// once. It returns nil when the pool cannot cover every destination.
func (s *Server) selectIdentities(pool []poolNumber, destinations []string) []string {
	candidates := toPresencePool(pool)

	out := make([]string, 0, len(destinations))
	for _, dest := range destinations {
		sel := s.selector.SelectNumber(candidates, dest)
		if sel == nil {
			return nil
		}
		out = append(out, sel.PhoneNumber)
		for i := range candidates {
			if candidates[i].Number == sel.PhoneNumber {
				candidates[i].Active = false
			}
		}
	}
	return out
}
