package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func createGroup(t *testing.T, env *testEnv) dialGroupResponse {
	t.Helper()

	rec := env.do(t, http.MethodPost, "/api/v1/dial-groups", dialGroupRequest{
		CustomerNumbers: []string{"+15105550100", "+15105550101"},
		FromNumbers:     []string{"+15104440200", "+15104440201"},
		QueueID:         "q-sales",
		AgentID:         "agent-7",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create group: status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	var resp dialGroupResponse
	decodeData(t, rec, &resp)
	return resp
}

func TestCreateDialGroup(t *testing.T) {
	env := newTestEnv(t)

	g := createGroup(t, env)

	if g.ID == "" {
		t.Fatal("group id is empty")
	}
	if g.Status != "dialing" {
		t.Errorf("status = %q, want dialing", g.Status)
	}
	if !strings.HasPrefix(g.ConferenceName, "dial-") {
		t.Errorf("conference name = %q, want dial- prefix", g.ConferenceName)
	}
	if len(g.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(g.Attempts))
	}
	for i, a := range g.Attempts {
		if a.CallRef == "" {
			t.Errorf("attempt %d has no call ref", i)
		}
	}

	// The provider was asked to dial both customers with webhook URLs
	// carrying the group ID.
	req, ok := env.provider.dials[g.Attempts[0].CallRef]
	if !ok {
		t.Fatalf("no dial recorded for %s", g.Attempts[0].CallRef)
	}
	if !strings.Contains(req.AnswerURL, "group="+g.ID) {
		t.Errorf("answer url %q missing group parameter", req.AnswerURL)
	}
	if !req.MachineDetection {
		t.Error("machine detection not requested")
	}
}

func TestCreateDialGroupValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  dialGroupRequest
	}{
		{"no customers", dialGroupRequest{FromNumbers: []string{"+15104440200"}}},
		{"too many customers", dialGroupRequest{
			CustomerNumbers: []string{"+15105550100", "+15105550101", "+15105550102", "+15105550103"},
			FromNumbers:     []string{"+15104440200", "+15104440201", "+15104440202", "+15104440203"},
		}},
		{"bad phone", dialGroupRequest{
			CustomerNumbers: []string{"not-a-number"},
			FromNumbers:     []string{"+15104440200"},
		}},
		{"too few from numbers", dialGroupRequest{
			CustomerNumbers: []string{"+15105550100", "+15105550101"},
			FromNumbers:     []string{"+15104440200"},
		}},
		{"no identities at all", dialGroupRequest{
			CustomerNumbers: []string{"+15105550100"},
		}},
		{"bad pool number", dialGroupRequest{
			CustomerNumbers: []string{"+15105550100"},
			NumberPool:      []poolNumber{{Number: "bogus", Active: true}},
		}},
		{"mismatched contact ids", dialGroupRequest{
			CustomerNumbers: []string{"+15105550100"},
			FromNumbers:     []string{"+15104440200"},
			ContactIDs:      []string{"c1", "c2"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/dial-groups", tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateDialGroupSelectsFromPool(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/dial-groups", dialGroupRequest{
		CustomerNumbers: []string{"+15105550100", "+15105550101"},
		NumberPool: []poolNumber{
			{Number: "+15104440200", Active: true},
			{Number: "+12125550300", Active: true, Primary: true},
		},
		AgentID: "agent-7",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	var g dialGroupResponse
	decodeData(t, rec, &g)
	if len(g.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(g.Attempts))
	}

	// Both customers are in 510: the local number wins the first slot, and
	// the remaining candidate covers the second. No number is presented
	// twice.
	if g.Attempts[0].FromNumber != "+15104440200" {
		t.Errorf("first from = %q, want the local-match number", g.Attempts[0].FromNumber)
	}
	if g.Attempts[1].FromNumber != "+12125550300" {
		t.Errorf("second from = %q, want the remaining pool number", g.Attempts[1].FromNumber)
	}

	for _, a := range g.Attempts {
		req, ok := env.provider.dials[a.CallRef]
		if !ok {
			t.Fatalf("no dial recorded for %s", a.CallRef)
		}
		if req.From != a.FromNumber {
			t.Errorf("dial from = %q, want %q", req.From, a.FromNumber)
		}
	}
}

func TestCreateDialGroupPoolExhausted(t *testing.T) {
	env := newTestEnv(t)

	// One active candidate cannot cover two customers.
	rec := env.do(t, http.MethodPost, "/api/v1/dial-groups", dialGroupRequest{
		CustomerNumbers: []string{"+15105550100", "+15105550101"},
		NumberPool: []poolNumber{
			{Number: "+15104440200", Active: true},
			{Number: "+15104440201", Active: false},
		},
		AgentID: "agent-7",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
	if env.provider.dialN != 0 {
		t.Fatalf("dials = %d, want none on an uncoverable pool", env.provider.dialN)
	}
}

func TestCreateDialGroupAllNumbersLocked(t *testing.T) {
	env := newTestEnv(t)

	// Another agent already holds the only candidate identity.
	if ok, err := env.locks.Acquire(context.Background(), "+15104440200", "agent-other", "CA9999"); err != nil || !ok {
		t.Fatalf("seeding lock: ok=%v err=%v", ok, err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/dial-groups", dialGroupRequest{
		CustomerNumbers: []string{"+15105550100"},
		FromNumbers:     []string{"+15104440200"},
		AgentID:         "agent-7",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestGetDialGroupNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/dial-groups/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTerminateDialGroup(t *testing.T) {
	env := newTestEnv(t)
	g := createGroup(t, env)

	rec := env.do(t, http.MethodDelete, "/api/v1/dial-groups/"+g.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("terminate: status = %d, want 204 (body %s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/dial-groups/"+g.ID, nil)
	var got dialGroupResponse
	decodeData(t, rec, &got)
	if got.Status != "terminated" {
		t.Errorf("status = %q, want terminated", got.Status)
	}
	if len(env.provider.hangups) != 2 {
		t.Errorf("hangups = %d, want 2", len(env.provider.hangups))
	}

	// A second terminate is a conflict: the group is already terminal.
	rec = env.do(t, http.MethodDelete, "/api/v1/dial-groups/"+g.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("repeat terminate: status = %d, want 409", rec.Code)
	}
}

func TestReleasableNumbers(t *testing.T) {
	env := newTestEnv(t)
	g := createGroup(t, env)

	// Nothing is releasable while the group is still dialing.
	rec := env.do(t, http.MethodGet, "/api/v1/dial-groups/"+g.ID+"/releasable-numbers", nil)
	var resp releasableNumbersResponse
	decodeData(t, rec, &resp)
	if len(resp.Numbers) != 0 {
		t.Fatalf("releasable while dialing = %v, want none", resp.Numbers)
	}

	// First attempt answers as a human and wins.
	winner := g.Attempts[0]
	env.doForm(t, "/webhooks/telephony/status", url.Values{
		"CallSid":    {winner.CallRef},
		"CallStatus": {"in-progress"},
		"AnsweredBy": {"human"},
	})

	rec = env.do(t, http.MethodGet, "/api/v1/dial-groups/"+g.ID+"/releasable-numbers", nil)
	decodeData(t, rec, &resp)
	if len(resp.Numbers) != 1 || resp.Numbers[0] != g.Attempts[1].FromNumber {
		t.Fatalf("releasable = %v, want [%s]", resp.Numbers, g.Attempts[1].FromNumber)
	}
}
