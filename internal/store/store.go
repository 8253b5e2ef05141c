package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Lock is a caller-identity lock: exclusive use of an outbound phone
// number by one call. At most one non-expired lock exists per number.
type Lock struct {
	PhoneNumber string
	HolderID    string
	CallRef     string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the lock has passed its expiry at the given instant.
func (l Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// GroupStatus is the lifecycle state of a parallel dial group.
type GroupStatus string

const (
	GroupPending    GroupStatus = "pending"
	GroupDialing    GroupStatus = "dialing"
	GroupConnected  GroupStatus = "connected"
	GroupCompleted  GroupStatus = "completed"
	GroupFailed     GroupStatus = "failed"
	GroupTerminated GroupStatus = "terminated"
)

// Terminal reports whether no further transitions are allowed for the group.
// Connected is not terminal: the group completes when the winning call ends.
func (s GroupStatus) Terminal() bool {
	switch s {
	case GroupCompleted, GroupFailed, GroupTerminated:
		return true
	}
	return false
}

// AttemptStatus is the lifecycle state of one dial attempt within a group.
type AttemptStatus string

const (
	AttemptInitiated  AttemptStatus = "initiated"
	AttemptRinging    AttemptStatus = "ringing"
	AttemptAnswered   AttemptStatus = "answered"
	AttemptNoAnswer   AttemptStatus = "no-answer"
	AttemptBusy       AttemptStatus = "busy"
	AttemptFailed     AttemptStatus = "failed"
	AttemptTerminated AttemptStatus = "terminated"
)

// Terminal reports whether the attempt can no longer win or change state.
// Answered is not terminal: the winning attempt stays answered until its
// call ends.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptNoAnswer, AttemptBusy, AttemptFailed, AttemptTerminated:
		return true
	}
	return false
}

// Group is a batch of simultaneous dial attempts to one contact, racing
// for the first human answer.
type Group struct {
	ID             string
	QueueID        string
	AgentID        string
	ConferenceName string
	Status         GroupStatus
	WinnerCallRef  string
	Attempts       []Attempt
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Attempt returns the attempt with the given call reference, or nil.
func (g *Group) Attempt(callRef string) *Attempt {
	for i := range g.Attempts {
		if g.Attempts[i].CallRef == callRef {
			return &g.Attempts[i]
		}
	}
	return nil
}

// Exhausted reports whether every attempt is terminal without a winner.
func (g *Group) Exhausted() bool {
	if g.WinnerCallRef != "" || len(g.Attempts) == 0 {
		return false
	}
	for i := range g.Attempts {
		if !g.Attempts[i].Status.Terminal() {
			return false
		}
	}
	return true
}

// Attempt is one leg of a parallel dial group: one customer number dialed
// from one locked outbound identity.
type Attempt struct {
	CallRef        string
	CustomerNumber string
	FromNumber     string
	Position       int
	Status         AttemptStatus
	AnsweredBy     string // provider answering-machine classification
	Screened       bool   // classified as machine, never eligible to win
	ContactID      string
}

// TransferType distinguishes immediate handoff from consultative handoff.
type TransferType string

const (
	TransferCold TransferType = "cold"
	TransferWarm TransferType = "warm"
)

// TransferStatus is the lifecycle state of a transfer.
type TransferStatus string

const (
	TransferInitiating TransferStatus = "initiating"
	TransferConsulting TransferStatus = "consulting"
	TransferCompleted  TransferStatus = "completed"
	TransferCancelled  TransferStatus = "cancelled"
	TransferFailed     TransferStatus = "failed"
)

// Terminal reports whether the transfer can no longer change state.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferCompleted, TransferCancelled, TransferFailed:
		return true
	}
	return false
}

// Transfer records the progress of a cold or warm transfer on a conference.
// StatusDetail names the step the sequence reached, so a partial failure
// is inspectable after the fact.
type Transfer struct {
	ID              string
	ConferenceName  string
	Type            TransferType
	Status          TransferStatus
	StatusDetail    string
	RecipientPhone  string
	CallerID        string
	AgentCallRef    string
	CustomerCallRef string
	TransferCallRef string
	CustomerOnHold  bool
	CustomerMuted   bool
	InitiatedAt     time.Time
	ConnectedAt     *time.Time
	CompletedAt     *time.Time
}

// LockStore manages caller-identity locks. Implementations must provide
// atomic acquire semantics: two concurrent Acquire calls for the same
// number with different call references must not both succeed.
type LockStore interface {
	// Acquire creates or refreshes the lock. It returns false when a
	// non-expired lock with a different call reference holds the number.
	Acquire(ctx context.Context, lock Lock) (bool, error)
	// Get returns the live lock for a number, or nil when absent or expired.
	Get(ctx context.Context, phoneNumber string) (*Lock, error)
	ReleaseByRef(ctx context.Context, callRef string) (bool, error)
	ReleaseByNumber(ctx context.Context, phoneNumber string) (bool, error)
	// Rebind changes a lock's call reference, keeping its expiry.
	Rebind(ctx context.Context, oldRef, newRef string) (bool, error)
	ListByHolder(ctx context.Context, holderID string) ([]Lock, error)
	PurgeExpired(ctx context.Context) (int, error)
	CountActive(ctx context.Context) (int, error)
}

// GroupStore manages parallel dial groups and their attempts.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	// GetGroupIDForCall resolves an attempt's call reference to its group.
	GetGroupIDForCall(ctx context.Context, callRef string) (string, error)
	AddAttempt(ctx context.Context, groupID string, a Attempt) error
	UpdateAttempt(ctx context.Context, groupID string, a Attempt) error
	// SetWinner commits the winning call reference and moves the group to
	// connected. It succeeds only when no winner is set and the group is
	// not terminal; the check and the write are a single atomic step.
	SetWinner(ctx context.Context, groupID, callRef string) (bool, error)
	UpdateGroupStatus(ctx context.Context, groupID string, status GroupStatus) error
	CountGroupsByStatus(ctx context.Context) (map[GroupStatus]int, error)
}

// TransferStore manages transfer records. Records are never deleted.
type TransferStore interface {
	CreateTransfer(ctx context.Context, t *Transfer) error
	GetTransfer(ctx context.Context, id string) (*Transfer, error)
	// GetTransferForCall resolves a target leg's call reference to its
	// transfer record.
	GetTransferForCall(ctx context.Context, callRef string) (*Transfer, error)
	UpdateTransfer(ctx context.Context, t *Transfer) error
	ListTransfersByConference(ctx context.Context, conferenceName string) ([]Transfer, error)
	CountTransfersByStatus(ctx context.Context) (map[TransferStatus]int, error)
}
