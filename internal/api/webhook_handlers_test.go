package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func TestStatusWebhookConnectsWinner(t *testing.T) {
	env := newTestEnv(t)
	g := createGroup(t, env)
	winner, loser := g.Attempts[0], g.Attempts[1]

	rec := env.doForm(t, "/webhooks/telephony/status", url.Values{
		"CallSid":    {winner.CallRef},
		"CallStatus": {"in-progress"},
		"AnsweredBy": {"human"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/dial-groups/"+g.ID, nil)
	var got dialGroupResponse
	decodeData(t, rec, &got)
	if got.Status != "connected" {
		t.Errorf("group status = %q, want connected", got.Status)
	}
	if got.WinnerCallRef != winner.CallRef {
		t.Errorf("winner = %q, want %q", got.WinnerCallRef, winner.CallRef)
	}

	// The losing leg was hung up.
	found := false
	for _, ref := range env.provider.hangups {
		if ref == loser.CallRef {
			found = true
		}
	}
	if !found {
		t.Errorf("loser %s not hung up (hangups %v)", loser.CallRef, env.provider.hangups)
	}
}

func TestStatusWebhookMachineNeverWins(t *testing.T) {
	env := newTestEnv(t)
	g := createGroup(t, env)

	env.doForm(t, "/webhooks/telephony/status", url.Values{
		"CallSid":    {g.Attempts[0].CallRef},
		"CallStatus": {"in-progress"},
		"AnsweredBy": {"machine_start"},
	})

	rec := env.do(t, http.MethodGet, "/api/v1/dial-groups/"+g.ID, nil)
	var got dialGroupResponse
	decodeData(t, rec, &got)
	if got.Status != "dialing" {
		t.Errorf("group status = %q, want dialing", got.Status)
	}
	if got.WinnerCallRef != "" {
		t.Errorf("winner = %q, want none", got.WinnerCallRef)
	}
	if !got.Attempts[0].Screened {
		t.Error("machine-answered attempt not marked screened")
	}
}

func TestStatusWebhookReleasesTransferIdentity(t *testing.T) {
	env := newTestEnv(t)
	seedConference(env)

	tr := createTransfer(t, env, "warm")

	if avail, err := env.locks.IsAvailable(context.Background(), "+15104440200"); err != nil || avail {
		t.Fatalf("identity must be locked during consult (avail=%v err=%v)", avail, err)
	}

	// The provider reports the target leg ended.
	rec := env.doForm(t, "/webhooks/telephony/status", url.Values{
		"CallSid":    {tr.TransferCallRef},
		"CallStatus": {"completed"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	if avail, err := env.locks.IsAvailable(context.Background(), "+15104440200"); err != nil || !avail {
		t.Fatalf("identity must be free after the target ended (avail=%v err=%v)", avail, err)
	}
}

func TestStatusWebhookMissingFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doForm(t, "/webhooks/telephony/status", url.Values{
		"CallStatus": {"ringing"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStatusWebhookUnknownCallAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doForm(t, "/webhooks/telephony/status", url.Values{
		"CallSid":    {"CA4242"},
		"CallStatus": {"completed"},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestAnswerWebhookServesConference(t *testing.T) {
	env := newTestEnv(t)
	g := createGroup(t, env)

	rec := env.do(t, http.MethodGet,
		"/webhooks/telephony/answer?group="+g.ID+"&CallSid="+g.Attempts[0].CallRef, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("content type = %q, want application/xml", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "<Conference") || !strings.Contains(body, g.ConferenceName) {
		t.Errorf("markup missing conference verb or name: %s", body)
	}
}

func TestAnswerWebhookHangsUpLateLoser(t *testing.T) {
	env := newTestEnv(t)
	g := createGroup(t, env)

	// First attempt wins.
	env.doForm(t, "/webhooks/telephony/status", url.Values{
		"CallSid":    {g.Attempts[0].CallRef},
		"CallStatus": {"in-progress"},
		"AnsweredBy": {"human"},
	})

	// The other leg's answer markup must be a hangup.
	rec := env.do(t, http.MethodGet,
		"/webhooks/telephony/answer?group="+g.ID+"&CallSid="+g.Attempts[1].CallRef, nil)
	if !strings.Contains(rec.Body.String(), "<Hangup") {
		t.Errorf("expected hangup markup, got %s", rec.Body.String())
	}

	// The winner still gets the conference.
	rec = env.do(t, http.MethodGet,
		"/webhooks/telephony/answer?group="+g.ID+"&CallSid="+g.Attempts[0].CallRef, nil)
	if !strings.Contains(rec.Body.String(), "<Conference") {
		t.Errorf("expected conference markup, got %s", rec.Body.String())
	}
}

func TestAnswerWebhookHangsUpTerminalGroup(t *testing.T) {
	env := newTestEnv(t)
	g := createGroup(t, env)

	env.do(t, http.MethodDelete, "/api/v1/dial-groups/"+g.ID, nil)

	rec := env.do(t, http.MethodGet,
		"/webhooks/telephony/answer?group="+g.ID+"&CallSid="+g.Attempts[0].CallRef, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<Hangup") {
		t.Errorf("expected hangup markup, got %s", rec.Body.String())
	}
}

func TestAnswerWebhookUnknownGroup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/webhooks/telephony/answer?group=nope&CallSid=CA1", nil)
	if !strings.Contains(rec.Body.String(), "<Hangup") {
		t.Errorf("expected hangup markup, got %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/webhooks/telephony/answer", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing group: status = %d, want 400", rec.Code)
	}
}
