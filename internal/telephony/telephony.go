// Package telephony defines the provider-facing contract: placing and
// ending calls, conference participant control, and call-control markup.
// The orchestration core talks only to the Provider interface; the REST
// implementation lives in the rest subpackage.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrConferenceNotFound is returned when a conference lookup by name finds
// no live conference. Callers use it to tell "retry later" from a hard
// provider failure.
var ErrConferenceNotFound = errors.New("conference not found")

// CallStatus is the provider's view of a call leg.
type CallStatus string

const (
	StatusQueued     CallStatus = "queued"
	StatusInitiated  CallStatus = "initiated"
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in-progress"
	StatusAnswered   CallStatus = "answered"
	StatusBusy       CallStatus = "busy"
	StatusNoAnswer   CallStatus = "no-answer"
	StatusFailed     CallStatus = "failed"
	StatusCanceled   CallStatus = "canceled"
	StatusCompleted  CallStatus = "completed"
)

// Terminal reports whether the status means the call leg has ended.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusBusy, StatusNoAnswer, StatusFailed, StatusCanceled, StatusCompleted:
		return true
	}
	return false
}

// Answering-machine classifications reported by the provider.
const (
	AnsweredByHuman   = "human"
	AnsweredByUnknown = "unknown"
	AnsweredByFax     = "fax"
)

// IsMachineAnswer reports whether the classification names a machine or
// fax pickup. Empty, human and unknown classifications are not machines.
func IsMachineAnswer(answeredBy string) bool {
	return strings.HasPrefix(answeredBy, "machine") || answeredBy == AnsweredByFax
}

// Call is a provider call resource.
type Call struct {
	Ref        string // provider call SID
	To         string
	From       string
	Status     CallStatus
	AnsweredBy string
}

// DialRequest describes one outbound call.
type DialRequest struct {
	To                string
	From              string
	AnswerURL         string // call-control markup fetched on answer
	StatusCallbackURL string
	MachineDetection  bool
	TimeoutSeconds    int
}

// ParticipantRequest describes a leg to dial into a conference.
type ParticipantRequest struct {
	To                  string
	From                string
	EndConferenceOnExit bool
	Muted               bool
	StatusCallbackURL   string
}

// Participant is one live conference leg.
type Participant struct {
	CallRef             string
	ConferenceID        string
	Muted               bool
	Hold                bool
	EndConferenceOnExit bool
	Status              string
}

// Provider is the telephony network collaborator. Implementations must be
// safe for concurrent use.
type Provider interface {
	Dial(ctx context.Context, req DialRequest) (*Call, error)
	Hangup(ctx context.Context, callRef string) error
	GetCall(ctx context.Context, callRef string) (*Call, error)

	// FindConferenceID resolves a live conference by its friendly name.
	// It returns ErrConferenceNotFound when no match exists.
	FindConferenceID(ctx context.Context, name string) (string, error)
	AddConferenceParticipant(ctx context.Context, conferenceName string, req ParticipantRequest) (*Participant, error)
	RemoveParticipant(ctx context.Context, conferenceID, callRef string) error
	HoldParticipant(ctx context.Context, conferenceID, callRef string, hold bool) error
	MuteParticipant(ctx context.Context, conferenceID, callRef string, mute bool) error
	SetEndConferenceOnExit(ctx context.Context, conferenceID, callRef string, end bool) error
	ListParticipants(ctx context.Context, conferenceID string) ([]Participant, error)
}

// ProviderError is a non-2xx response from the telephony provider's API.
type ProviderError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider request failed: %s (http %d, code %d)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("provider request failed with http %d", e.StatusCode)
}
