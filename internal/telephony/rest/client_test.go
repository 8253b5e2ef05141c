package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dialcast/dialcast/internal/telephony"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Config{
		SpaceURL:  srv.URL,
		ProjectID: "proj-1",
		AuthToken: "token-1",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return client, srv
}

func TestDial_Success(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/laml/2010-04-01/Accounts/proj-1/Calls.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "proj-1" || pass != "token-1" {
			t.Errorf("basic auth = (%q, %q, %v), want project credentials", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("To"); got != "+15557770001" {
			t.Errorf("To = %q", got)
		}
		if got := r.PostForm.Get("From"); got != "+15551230001" {
			t.Errorf("From = %q", got)
		}
		if got := r.PostForm.Get("Url"); got != "https://dialer.example.com/webhooks/telephony/answer?group=g1" {
			t.Errorf("Url = %q", got)
		}
		if got := r.PostForm.Get("StatusCallback"); got != "https://dialer.example.com/webhooks/telephony/status" {
			t.Errorf("StatusCallback = %q", got)
		}
		if got := r.PostForm.Get("MachineDetection"); got != "DetectMessageEnd" {
			t.Errorf("MachineDetection = %q", got)
		}
		events := r.PostForm["StatusCallbackEvent"]
		if len(events) != 4 || events[2] != "answered" {
			t.Errorf("StatusCallbackEvent = %v", events)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(callResource{Sid: "CA100", Status: "queued", To: "+15557770001", From: "+15551230001"})
	})

	call, err := client.Dial(context.Background(), telephony.DialRequest{
		To:                "+15557770001",
		From:              "+15551230001",
		AnswerURL:         "https://dialer.example.com/webhooks/telephony/answer?group=g1",
		StatusCallbackURL: "https://dialer.example.com/webhooks/telephony/status",
		MachineDetection:  true,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if call.Ref != "CA100" {
		t.Errorf("call ref = %q, want CA100", call.Ref)
	}
	if call.Status != telephony.StatusQueued {
		t.Errorf("call status = %q, want queued", call.Status)
	}
}

func TestDial_ProviderError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiError{Code: 21212, Message: "invalid To number"})
	})

	_, err := client.Dial(context.Background(), telephony.DialRequest{To: "bogus", From: "+15551230001"})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	var perr *telephony.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("error type = %T, want *telephony.ProviderError", err)
	}
	if perr.Code != 21212 || perr.StatusCode != http.StatusBadRequest {
		t.Errorf("provider error = %+v", perr)
	}
}

func TestHangup(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/laml/2010-04-01/Accounts/proj-1/Calls/CA100.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		r.ParseForm()
		if got := r.PostForm.Get("Status"); got != "completed" {
			t.Errorf("Status = %q, want completed", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(callResource{Sid: "CA100", Status: "completed"})
	})

	if err := client.Hangup(context.Background(), "CA100"); err != nil {
		t.Fatalf("hangup: %v", err)
	}
}

func TestFindConferenceID(t *testing.T) {
	t.Run("live conference found", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("FriendlyName"); got != "group-g1" {
				t.Errorf("FriendlyName = %q", got)
			}
			if got := r.URL.Query().Get("Status"); got != "in-progress" {
				t.Errorf("Status = %q", got)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(conferenceListResource{
				Conferences: []conferenceResource{{Sid: "CF200", FriendlyName: "group-g1", Status: "in-progress"}},
			})
		})

		id, err := client.FindConferenceID(context.Background(), "group-g1")
		if err != nil {
			t.Fatalf("find conference: %v", err)
		}
		if id != "CF200" {
			t.Errorf("conference id = %q, want CF200", id)
		}
	})

	t.Run("no match is a typed not-found", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(conferenceListResource{})
		})

		_, err := client.FindConferenceID(context.Background(), "group-gone")
		if !errors.Is(err, telephony.ErrConferenceNotFound) {
			t.Errorf("error = %v, want ErrConferenceNotFound", err)
		}
	})
}

func TestAddConferenceParticipant(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/laml/2010-04-01/Accounts/proj-1/Conferences/group-g1/Participants.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		r.ParseForm()
		if got := r.PostForm.Get("EndConferenceOnExit"); got != "true" {
			t.Errorf("EndConferenceOnExit = %q, want true", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(participantResource{
			CallSid:             "CA300",
			ConferenceSid:       "CF200",
			EndConferenceOnExit: true,
			Status:              "connected",
		})
	})

	p, err := client.AddConferenceParticipant(context.Background(), "group-g1", telephony.ParticipantRequest{
		To:                  "+15559990001",
		From:                "+15551230001",
		EndConferenceOnExit: true,
	})
	if err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if p.CallRef != "CA300" || p.ConferenceID != "CF200" {
		t.Errorf("participant = %+v", p)
	}
	if !p.EndConferenceOnExit {
		t.Error("EndConferenceOnExit not mapped")
	}
}

func TestParticipantUpdates(t *testing.T) {
	var lastForm map[string][]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		lastForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(participantResource{CallSid: "CA300"})
	})
	ctx := context.Background()

	if err := client.HoldParticipant(ctx, "CF200", "CA300", true); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if got := lastForm["Hold"]; len(got) != 1 || got[0] != "true" {
		t.Errorf("Hold form = %v", got)
	}

	if err := client.MuteParticipant(ctx, "CF200", "CA300", false); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if got := lastForm["Muted"]; len(got) != 1 || got[0] != "false" {
		t.Errorf("Muted form = %v", got)
	}

	if err := client.SetEndConferenceOnExit(ctx, "CF200", "CA300", true); err != nil {
		t.Fatalf("set end on exit: %v", err)
	}
	if got := lastForm["EndConferenceOnExit"]; len(got) != 1 || got[0] != "true" {
		t.Errorf("EndConferenceOnExit form = %v", got)
	}
}

func TestRemoveParticipant(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if r.URL.Path != "/api/laml/2010-04-01/Accounts/proj-1/Conferences/CF200/Participants/CA300.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.RemoveParticipant(context.Background(), "CF200", "CA300"); err != nil {
		t.Fatalf("remove participant: %v", err)
	}
}

func TestListParticipants(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(participantListResource{
			Participants: []participantResource{
				{CallSid: "CA1", ConferenceSid: "CF200", Hold: true},
				{CallSid: "CA2", ConferenceSid: "CF200", Muted: true},
			},
		})
	})

	parts, err := client.ListParticipants(context.Background(), "CF200")
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d participants, want 2", len(parts))
	}
	if !parts[0].Hold || parts[0].CallRef != "CA1" {
		t.Errorf("first participant = %+v", parts[0])
	}
	if !parts[1].Muted {
		t.Errorf("second participant = %+v", parts[1])
	}
}
