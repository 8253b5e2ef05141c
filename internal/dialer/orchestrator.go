// Package dialer races multiple simultaneous dial attempts against one
// customer, each presented from a distinct locked outbound identity, and
// arbitrates the first human answer as the single winner. Losing attempts
// are hung up and their identity locks released.
//
// All state changes for one group flow through a single worker goroutine,
// so provider callbacks that arrive concurrently for the same group are
// serialized while different groups proceed in parallel. The winner commit
// itself goes through the store's compare-and-set, which is what holds the
// single-winner invariant across orchestrator instances.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/callerid"
	"github.com/dialcast/dialcast/internal/store"
	"github.com/dialcast/dialcast/internal/telephony"
)

var (
	// ErrGroupNotFound is returned when a group ID resolves to nothing.
	ErrGroupNotFound = errors.New("dial group not found")

	// ErrGroupTerminal is returned when an operation targets a group that
	// has already reached a terminal status.
	ErrGroupTerminal = errors.New("dial group already terminal")

	// ErrNoAvailableNumbers is returned when no outbound identity could be
	// locked for one of the requested attempts.
	ErrNoAvailableNumbers = errors.New("no available outbound numbers")
)

// MaxCustomerNumbers caps how many numbers one group may dial at once.
const MaxCustomerNumbers = 3

// InitiateGroupRequest describes a batch of parallel dial attempts.
type InitiateGroupRequest struct {
	CustomerNumbers []string // up to MaxCustomerNumbers
	FromNumbers     []string // candidate outbound identities, one locked per attempt
	QueueID         string
	AgentID         string
	ContactIDs      []string // optional, parallel to CustomerNumbers
	// AnswerURL serves call-control markup when a leg answers. The group ID
	// is appended as a query parameter so the markup handler can place the
	// leg into the group's conference, or hang it up if the group is over.
	AnswerURL          string
	StatusCallbackURL  string
	DialTimeoutSeconds int
}

// Recorder receives groups that reached a terminal status, for audit.
type Recorder interface {
	RecordGroup(ctx context.Context, g *store.Group) error
}

// Notifier receives group lifecycle events (connected, completed, failed,
// terminated). Implementations must tolerate being called from callback
// processing and should not block for long.
type Notifier interface {
	GroupEvent(ctx context.Context, event string, g *store.Group)
}

// Orchestrator runs parallel dial groups.
type Orchestrator struct {
	store    store.GroupStore
	locks    *callerid.Service
	provider telephony.Provider
	logger   *slog.Logger
	recorder Recorder // optional
	notifier Notifier // optional

	mu      sync.Mutex
	workers map[string]*groupWorker

	stats stats
}

// NewOrchestrator creates a dial orchestrator. recorder and notifier may be
// nil.
func NewOrchestrator(st store.GroupStore, locks *callerid.Service, provider telephony.Provider, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		locks:    locks,
		provider: provider,
		logger:   logger.With("subsystem", "dialer"),
		workers:  make(map[string]*groupWorker),
	}
}

// SetRecorder installs an audit recorder for terminal groups.
func (o *Orchestrator) SetRecorder(r Recorder) { o.recorder = r }

// SetNotifier installs a lifecycle event notifier.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// InitiateGroup locks one outbound identity per customer number, places all
// dials, and returns the new group in dialing state. Identity locks are
// taken under provisional references first and rebound to the provider call
// SID once each dial returns, so there is never an unlocked window. If any
// attempt cannot get an identity, every lock already taken is released and
// ErrNoAvailableNumbers is returned.
func (o *Orchestrator) InitiateGroup(ctx context.Context, req InitiateGroupRequest) (*store.Group, error) {
	if err := validateInitiateRequest(req); err != nil {
		return nil, err
	}

	groupID := uuid.NewString()
	g := &store.Group{
		ID:             groupID,
		QueueID:        req.QueueID,
		AgentID:        req.AgentID,
		ConferenceName: "dial-" + groupID,
		Status:         store.GroupPending,
	}
	if err := o.store.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("creating dial group: %w", err)
	}

	// Phase one: lock one identity per customer number before any dial, so
	// a shortage aborts the whole group without partial calls in flight.
	available := append([]string(nil), req.FromNumbers...)
	planned := make([]plannedAttempt, 0, len(req.CustomerNumbers))
	for i, customer := range req.CustomerNumbers {
		pa := plannedAttempt{customer: customer, provisional: "pending-" + uuid.NewString()}
		if i < len(req.ContactIDs) {
			pa.contactID = req.ContactIDs[i]
		}
		for j, from := range available {
			ok, err := o.locks.Acquire(ctx, from, req.AgentID, pa.provisional)
			if err != nil {
				o.releasePlanned(ctx, planned)
				return nil, err
			}
			if ok {
				pa.from = from
				available = append(available[:j], available[j+1:]...)
				break
			}
		}
		if pa.from == "" {
			o.releasePlanned(ctx, planned)
			if err := o.store.UpdateGroupStatus(ctx, groupID, store.GroupFailed); err != nil {
				o.logger.Error("failed to mark group failed", "group_id", groupID, "error", err)
			}
			return nil, fmt.Errorf("attempt %d: %w", i+1, ErrNoAvailableNumbers)
		}
		planned = append(planned, pa)
	}

	// Phase two: dial. A failed dial releases its own lock and is recorded
	// as a failed attempt; the rest of the group proceeds.
	answerURL := appendGroupParam(req.AnswerURL, groupID)
	dialed := 0
	var lastDialErr error
	for i, pa := range planned {
		call, err := o.provider.Dial(ctx, telephony.DialRequest{
			To:                pa.customer,
			From:              pa.from,
			AnswerURL:         answerURL,
			StatusCallbackURL: req.StatusCallbackURL,
			MachineDetection:  true,
			TimeoutSeconds:    req.DialTimeoutSeconds,
		})
		attempt := store.Attempt{
			CustomerNumber: pa.customer,
			FromNumber:     pa.from,
			Position:       i + 1,
			ContactID:      pa.contactID,
		}
		if err != nil {
			lastDialErr = err
			o.logger.Warn("dial attempt failed",
				"group_id", groupID,
				"customer", pa.customer,
				"from", pa.from,
				"error", err,
			)
			if _, relErr := o.locks.Release(ctx, pa.provisional); relErr != nil {
				o.logger.Error("failed to release lock after dial error", "error", relErr)
			}
			attempt.CallRef = pa.provisional
			attempt.Status = store.AttemptFailed
			o.stats.attemptOutcome(store.AttemptFailed)
		} else {
			if _, rbErr := o.locks.Rebind(ctx, pa.provisional, call.Ref); rbErr != nil {
				o.logger.Error("failed to rebind lock to call ref", "call_ref", call.Ref, "error", rbErr)
			}
			attempt.CallRef = call.Ref
			attempt.Status = store.AttemptInitiated
			dialed++
			o.stats.dialPlaced()
		}
		if err := o.store.AddAttempt(ctx, groupID, attempt); err != nil {
			return nil, fmt.Errorf("recording attempt: %w", err)
		}
	}

	status := store.GroupDialing
	if dialed == 0 {
		status = store.GroupFailed
	}
	if err := o.store.UpdateGroupStatus(ctx, groupID, status); err != nil {
		return nil, fmt.Errorf("updating group status: %w", err)
	}

	out, err := o.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("reloading group: %w", err)
	}
	if dialed == 0 {
		o.finishGroup(ctx, out, "failed")
		return out, fmt.Errorf("dialing group %s: %w", groupID, lastDialErr)
	}

	o.logger.Info("dial group initiated",
		"group_id", groupID,
		"queue_id", req.QueueID,
		"attempts", len(out.Attempts),
		"dialed", dialed,
	)
	return out, nil
}

// plannedAttempt pairs a customer number with its locked identity before
// any dial goes out.
type plannedAttempt struct {
	customer    string
	from        string
	provisional string
	contactID   string
}

// releasePlanned frees locks taken during a failed initiation.
func (o *Orchestrator) releasePlanned(ctx context.Context, planned []plannedAttempt) {
	for _, pa := range planned {
		if _, err := o.locks.Release(ctx, pa.provisional); err != nil {
			o.logger.Error("failed to release planned lock", "number", pa.from, "error", err)
		}
	}
}

// HandleStatusCallback processes one provider status notification. Unknown
// call references and duplicate terminal statuses are ignored, not errors:
// the provider delivers at least once, in any order.
func (o *Orchestrator) HandleStatusCallback(ctx context.Context, callRef string, status telephony.CallStatus, answeredBy string) error {
	groupID, err := o.store.GetGroupIDForCall(ctx, callRef)
	if errors.Is(err, store.ErrNotFound) {
		o.logger.Debug("status callback for unknown call", "call_ref", callRef, "status", status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving callback group: %w", err)
	}
	return o.dispatch(ctx, groupID, event{
		kind:       evStatus,
		callRef:    callRef,
		status:     status,
		answeredBy: answeredBy,
	})
}

// GetGroup returns a group by ID.
func (o *Orchestrator) GetGroup(ctx context.Context, groupID string) (*store.Group, error) {
	g, err := o.store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGroupNotFound
	}
	return g, err
}

// GetGroupIDForCall resolves an attempt's call reference to its group ID.
func (o *Orchestrator) GetGroupIDForCall(ctx context.Context, callRef string) (string, bool) {
	id, err := o.store.GetGroupIDForCall(ctx, callRef)
	if err != nil {
		return "", false
	}
	return id, true
}

// GetReleasableNumbers returns the outbound identities used by non-winning
// attempts once the group has connected or completed. The winner's identity
// stays locked until its call ends.
func (o *Orchestrator) GetReleasableNumbers(g *store.Group) []string {
	if g == nil || (g.Status != store.GroupConnected && g.Status != store.GroupCompleted) {
		return nil
	}
	var out []string
	for i := range g.Attempts {
		if g.Attempts[i].CallRef != g.WinnerCallRef {
			out = append(out, g.Attempts[i].FromNumber)
		}
	}
	return out
}

// TerminateGroup aborts a group: every non-terminal attempt is hung up,
// every associated lock is released, and the group lands in terminated.
func (o *Orchestrator) TerminateGroup(ctx context.Context, groupID string) error {
	if _, err := o.store.GetGroup(ctx, groupID); errors.Is(err, store.ErrNotFound) {
		return ErrGroupNotFound
	} else if err != nil {
		return err
	}
	return o.dispatch(ctx, groupID, event{kind: evTerminate})
}

type eventKind int

const (
	evStatus eventKind = iota
	evTerminate
)

type event struct {
	kind       eventKind
	callRef    string
	status     telephony.CallStatus
	answeredBy string
	done       chan error
}

// groupWorker serializes event processing for one group. Workers are
// created on demand and exit once no dispatcher is waiting on them.
type groupWorker struct {
	groupID string
	ch      chan event
	pending int
}

// dispatch routes an event to the group's worker and waits for the result.
// Events for one group are handled one at a time in arrival order; events
// for different groups run concurrently.
func (o *Orchestrator) dispatch(ctx context.Context, groupID string, ev event) error {
	ev.done = make(chan error, 1)

	o.mu.Lock()
	w, ok := o.workers[groupID]
	if !ok {
		w = &groupWorker{groupID: groupID, ch: make(chan event)}
		o.workers[groupID] = w
		go o.runWorker(w)
	}
	w.pending++
	o.mu.Unlock()

	w.ch <- ev
	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runWorker(w *groupWorker) {
	for {
		ev := <-w.ch

		var err error
		switch ev.kind {
		case evStatus:
			err = o.handleStatus(context.Background(), w.groupID, ev.callRef, ev.status, ev.answeredBy)
		case evTerminate:
			err = o.handleTerminate(context.Background(), w.groupID)
		}
		ev.done <- err

		o.mu.Lock()
		w.pending--
		if w.pending == 0 {
			delete(o.workers, w.groupID)
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
	}
}

// handleStatus applies one provider status to an attempt. Runs on the
// group's worker goroutine.
func (o *Orchestrator) handleStatus(ctx context.Context, groupID, callRef string, status telephony.CallStatus, answeredBy string) error {
	g, err := o.store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("status callback for missing group", "group_id", groupID, "call_ref", callRef)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading group: %w", err)
	}

	att := g.Attempt(callRef)
	if att == nil {
		o.logger.Warn("status callback for unknown attempt", "group_id", groupID, "call_ref", callRef)
		return nil
	}
	if att.Status.Terminal() {
		o.logger.Debug("duplicate callback for terminal attempt ignored",
			"group_id", groupID, "call_ref", callRef, "status", status)
		return nil
	}
	if g.Status.Terminal() {
		// A completed or answered report after the group is over changes
		// nothing; the group is never re-opened.
		o.logger.Debug("callback for terminal group ignored",
			"group_id", groupID, "call_ref", callRef, "status", status)
		return nil
	}

	// An answering-machine classification permanently screens the attempt
	// out of winning. The call keeps ringing in case classification was
	// premature; it is hung up when the group resolves.
	if telephony.IsMachineAnswer(answeredBy) && !att.Screened {
		att.Screened = true
		att.AnsweredBy = answeredBy
		if err := o.store.UpdateAttempt(ctx, groupID, *att); err != nil {
			return fmt.Errorf("screening attempt: %w", err)
		}
		o.stats.screened()
		o.logger.Info("attempt screened as machine",
			"group_id", groupID, "call_ref", callRef, "answered_by", answeredBy)
	}

	switch status {
	case telephony.StatusQueued, telephony.StatusInitiated:
		return nil

	case telephony.StatusRinging:
		if att.Status == store.AttemptInitiated {
			att.Status = store.AttemptRinging
			return o.store.UpdateAttempt(ctx, groupID, *att)
		}
		return nil

	case telephony.StatusInProgress, telephony.StatusAnswered:
		return o.handleAnswered(ctx, g, att, answeredBy)

	case telephony.StatusBusy:
		return o.settleAttempt(ctx, g, att, store.AttemptBusy)

	case telephony.StatusNoAnswer:
		return o.settleAttempt(ctx, g, att, store.AttemptNoAnswer)

	case telephony.StatusFailed, telephony.StatusCanceled:
		return o.settleAttempt(ctx, g, att, store.AttemptFailed)

	case telephony.StatusCompleted:
		return o.handleCompleted(ctx, g, att)

	default:
		o.logger.Debug("unrecognized provider status ignored",
			"group_id", g.ID, "call_ref", callRef, "status", status)
		return nil
	}
}

// handleAnswered races the attempt for the winner slot. The store CAS is
// the arbiter: exactly one answered attempt per group can ever commit.
func (o *Orchestrator) handleAnswered(ctx context.Context, g *store.Group, att *store.Attempt, answeredBy string) error {
	if att.Screened || telephony.IsMachineAnswer(answeredBy) {
		// Machine pickups never win.
		return nil
	}
	if g.WinnerCallRef == att.CallRef {
		return nil
	}

	att.Status = store.AttemptAnswered
	if answeredBy != "" {
		att.AnsweredBy = answeredBy
	}
	if err := o.store.UpdateAttempt(ctx, g.ID, *att); err != nil {
		return fmt.Errorf("updating answered attempt: %w", err)
	}

	won, err := o.store.SetWinner(ctx, g.ID, att.CallRef)
	if err != nil {
		return fmt.Errorf("committing winner: %w", err)
	}
	if !won {
		// Another attempt beat this one to the commit. Treat like any
		// other loser: hang up and release its identity.
		o.logger.Info("answered attempt lost winner race",
			"group_id", g.ID, "call_ref", att.CallRef)
		return o.terminateAttempt(ctx, g.ID, att)
	}

	o.stats.winner()
	o.logger.Info("dial group connected",
		"group_id", g.ID,
		"winner_call_ref", att.CallRef,
		"customer", att.CustomerNumber,
	)

	// Hang up every other live attempt and free its identity. The winner's
	// lock stays until its call completes.
	fresh, err := o.store.GetGroup(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("reloading group after winner: %w", err)
	}
	for i := range fresh.Attempts {
		loser := &fresh.Attempts[i]
		if loser.CallRef == att.CallRef || loser.Status.Terminal() {
			continue
		}
		if err := o.terminateAttempt(ctx, g.ID, loser); err != nil {
			o.logger.Error("failed to terminate losing attempt",
				"group_id", g.ID, "call_ref", loser.CallRef, "error", err)
		}
	}

	if o.notifier != nil {
		if fresh, err := o.store.GetGroup(ctx, g.ID); err == nil {
			o.notifier.GroupEvent(ctx, "connected", fresh)
		}
	}
	return nil
}

// handleCompleted processes the provider's end-of-call report. What it
// means depends on who ended: the winner completing ends the group; a call
// that ended without answering maps to no-answer; a call ending after the
// group connected was a hung-up loser.
func (o *Orchestrator) handleCompleted(ctx context.Context, g *store.Group, att *store.Attempt) error {
	if g.WinnerCallRef == att.CallRef {
		if err := o.store.UpdateGroupStatus(ctx, g.ID, store.GroupCompleted); err != nil {
			return fmt.Errorf("completing group: %w", err)
		}
		if _, err := o.locks.Release(ctx, att.CallRef); err != nil {
			o.logger.Error("failed to release winner lock", "call_ref", att.CallRef, "error", err)
		}
		fresh, err := o.store.GetGroup(ctx, g.ID)
		if err != nil {
			return fmt.Errorf("reloading completed group: %w", err)
		}
		o.logger.Info("dial group completed", "group_id", g.ID, "winner_call_ref", att.CallRef)
		o.finishGroup(ctx, fresh, "completed")
		return nil
	}

	if g.Status == store.GroupConnected {
		return o.settleAttempt(ctx, g, att, store.AttemptTerminated)
	}
	return o.settleAttempt(ctx, g, att, store.AttemptNoAnswer)
}

// settleAttempt moves an attempt to a terminal non-winning status, releases
// its identity lock, and fails the group if every attempt has now settled
// without a winner.
func (o *Orchestrator) settleAttempt(ctx context.Context, g *store.Group, att *store.Attempt, status store.AttemptStatus) error {
	att.Status = status
	if err := o.store.UpdateAttempt(ctx, g.ID, *att); err != nil {
		return fmt.Errorf("settling attempt: %w", err)
	}
	o.stats.attemptOutcome(status)
	if _, err := o.locks.Release(ctx, att.CallRef); err != nil {
		o.logger.Error("failed to release attempt lock", "call_ref", att.CallRef, "error", err)
	}

	fresh, err := o.store.GetGroup(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("reloading group: %w", err)
	}
	if fresh.Status == store.GroupDialing && fresh.Exhausted() {
		if err := o.store.UpdateGroupStatus(ctx, g.ID, store.GroupFailed); err != nil {
			return fmt.Errorf("failing exhausted group: %w", err)
		}
		fresh.Status = store.GroupFailed
		o.logger.Info("dial group exhausted with no answer", "group_id", g.ID)
		o.finishGroup(ctx, fresh, "failed")
	}
	return nil
}

// terminateAttempt hangs up a live losing attempt and releases its lock.
// The hangup is dispatched at most once: the attempt is already terminal on
// any repeat delivery.
func (o *Orchestrator) terminateAttempt(ctx context.Context, groupID string, att *store.Attempt) error {
	if err := o.provider.Hangup(ctx, att.CallRef); err != nil {
		// The call may have ended on its own already; the terminal state
		// still stands.
		o.logger.Warn("hangup failed", "group_id", groupID, "call_ref", att.CallRef, "error", err)
	} else {
		o.stats.hangup()
	}
	att.Status = store.AttemptTerminated
	if err := o.store.UpdateAttempt(ctx, groupID, *att); err != nil {
		return fmt.Errorf("terminating attempt: %w", err)
	}
	o.stats.attemptOutcome(store.AttemptTerminated)
	if _, err := o.locks.Release(ctx, att.CallRef); err != nil {
		o.logger.Error("failed to release attempt lock", "call_ref", att.CallRef, "error", err)
	}
	return nil
}

// handleTerminate is the operator abort path. Runs on the group's worker
// goroutine, so it cannot interleave with a status callback for the group.
func (o *Orchestrator) handleTerminate(ctx context.Context, groupID string) error {
	g, err := o.store.GetGroup(ctx, groupID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("loading group: %w", err)
	}
	if g.Status.Terminal() {
		return ErrGroupTerminal
	}

	for i := range g.Attempts {
		att := &g.Attempts[i]
		if att.Status.Terminal() {
			continue
		}
		if err := o.terminateAttempt(ctx, groupID, att); err != nil {
			o.logger.Error("failed to terminate attempt",
				"group_id", groupID, "call_ref", att.CallRef, "error", err)
		}
	}

	if err := o.store.UpdateGroupStatus(ctx, groupID, store.GroupTerminated); err != nil {
		return fmt.Errorf("terminating group: %w", err)
	}
	fresh, err := o.store.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("reloading terminated group: %w", err)
	}
	o.logger.Info("dial group terminated", "group_id", groupID)
	o.finishGroup(ctx, fresh, "terminated")
	return nil
}

// finishGroup records and announces a group that reached a terminal status.
func (o *Orchestrator) finishGroup(ctx context.Context, g *store.Group, event string) {
	if o.recorder != nil {
		if err := o.recorder.RecordGroup(ctx, g); err != nil {
			o.logger.Error("failed to record group history", "group_id", g.ID, "error", err)
		}
	}
	if o.notifier != nil {
		o.notifier.GroupEvent(ctx, event, g)
	}
}

func validateInitiateRequest(req InitiateGroupRequest) error {
	if len(req.CustomerNumbers) == 0 {
		return errors.New("at least one customer number is required")
	}
	if len(req.CustomerNumbers) > MaxCustomerNumbers {
		return fmt.Errorf("at most %d customer numbers per group", MaxCustomerNumbers)
	}
	if len(req.FromNumbers) < len(req.CustomerNumbers) {
		return errors.New("need at least one outbound number per customer number")
	}
	if req.AnswerURL == "" {
		return errors.New("answer url is required")
	}
	if req.StatusCallbackURL == "" {
		return errors.New("status callback url is required")
	}
	return nil
}

// appendGroupParam adds the group ID to the answer URL's query string.
func appendGroupParam(rawURL, groupID string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("group", groupID)
	u.RawQuery = q.Encode()
	return u.String()
}
