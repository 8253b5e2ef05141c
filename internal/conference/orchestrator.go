// Package conference manages a live call as a multi-party conference:
// hold and mute of individual legs, and cold or warm transfer to a third
// party. The telephony network offers no multi-call transaction, so every
// transfer is a sequence of single provider steps; the transfer record's
// status and detail always name exactly how far the sequence got.
package conference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dialcast/dialcast/internal/callerid"
	"github.com/dialcast/dialcast/internal/store"
	"github.com/dialcast/dialcast/internal/telephony"
)

var (
	// ErrTransferNotFound is returned when a transfer ID resolves to nothing.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrInvalidTransferState is returned when an operation is not legal
	// from the transfer's current status.
	ErrInvalidTransferState = errors.New("transfer not in a valid state for this operation")
)

// Participant labels used when classifying conference legs.
const (
	LabelAgent          = "agent"
	LabelCustomer       = "customer"
	LabelTransferTarget = "transfer-target"
)

// Participant is one live conference leg with its role in the call.
type Participant struct {
	CallRef             string `json:"call_ref"`
	ConferenceID        string `json:"conference_id"`
	Label               string `json:"label"`
	Hold                bool   `json:"hold"`
	Muted               bool   `json:"muted"`
	EndConferenceOnExit bool   `json:"end_conference_on_exit"`
	Status              string `json:"status"`
}

// InitiateTransferRequest describes a cold or warm transfer.
type InitiateTransferRequest struct {
	ConferenceName  string
	Type            store.TransferType
	RecipientPhone  string
	CallerID        string
	AgentCallRef    string
	CustomerCallRef string
	// StatusCallbackURL receives progress events for the target leg.
	StatusCallbackURL string
}

// Recorder receives transfers that reached a terminal status, for audit.
type Recorder interface {
	RecordTransfer(ctx context.Context, t *store.Transfer) error
}

// Notifier receives transfer lifecycle events (consulting, completed,
// cancelled, failed).
type Notifier interface {
	TransferEvent(ctx context.Context, event string, t *store.Transfer)
}

// Orchestrator manages conference participants and transfers.
type Orchestrator struct {
	store    store.TransferStore
	locks    *callerid.Service
	provider telephony.Provider
	logger   *slog.Logger
	recorder Recorder // optional
	notifier Notifier // optional
}

// NewOrchestrator creates a conference orchestrator. recorder and notifier
// may be nil.
func NewOrchestrator(st store.TransferStore, locks *callerid.Service, provider telephony.Provider, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		locks:    locks,
		provider: provider,
		logger:   logger.With("subsystem", "conference"),
	}
}

// SetRecorder installs an audit recorder for terminal transfers.
func (o *Orchestrator) SetRecorder(r Recorder) { o.recorder = r }

// SetNotifier installs a lifecycle event notifier.
func (o *Orchestrator) SetNotifier(n Notifier) { o.notifier = n }

// InitiateTransfer starts a transfer on a live conference.
//
// Cold: the target joins with end-conference-on-exit, then the agent leg is
// removed. If adding the target fails nothing is removed; the customer
// stays with the original agent.
//
// Warm: the customer is held, then the target joins as a non-exiting leg
// for a private consult. The transfer stays in consulting until
// CompleteTransfer or CancelTransfer.
//
// A non-empty CallerID is locked through the caller-identity service before
// the target is dialed, exactly as a dial-group attempt would lock it; a
// number already presented by a live call rejects the transfer with
// callerid.ErrNumberInUse. The lock rides the target leg: released on add
// failure and on cancel, or by HandleTargetStatus when the leg ends.
func (o *Orchestrator) InitiateTransfer(ctx context.Context, req InitiateTransferRequest) (*store.Transfer, error) {
	if err := validateTransferRequest(req); err != nil {
		return nil, err
	}

	t := &store.Transfer{
		ID:              uuid.NewString(),
		ConferenceName:  req.ConferenceName,
		Type:            req.Type,
		Status:          store.TransferInitiating,
		StatusDetail:    "created",
		RecipientPhone:  req.RecipientPhone,
		CallerID:        req.CallerID,
		AgentCallRef:    req.AgentCallRef,
		CustomerCallRef: req.CustomerCallRef,
		InitiatedAt:     time.Now(),
	}
	if err := o.store.CreateTransfer(ctx, t); err != nil {
		return nil, fmt.Errorf("creating transfer record: %w", err)
	}

	confID, err := o.provider.FindConferenceID(ctx, req.ConferenceName)
	if err != nil {
		o.fail(ctx, t, "conference lookup")
		return t, err
	}

	// The target leg presents an outbound identity like any dial attempt
	// does, so it takes the same lock. Held under the transfer ID until the
	// provider assigns the target its call reference.
	if req.CallerID != "" {
		ok, err := o.locks.Acquire(ctx, req.CallerID, req.AgentCallRef, t.ID)
		if err != nil {
			o.fail(ctx, t, "identity lock")
			return t, err
		}
		if !ok {
			o.fail(ctx, t, "identity lock")
			return t, fmt.Errorf("caller identity %s: %w", req.CallerID, callerid.ErrNumberInUse)
		}
	}

	o.logger.Info("transfer initiated",
		"transfer_id", t.ID,
		"type", t.Type,
		"conference", req.ConferenceName,
		"recipient", req.RecipientPhone,
	)

	switch req.Type {
	case store.TransferCold:
		err = o.runColdTransfer(ctx, t, confID, req)
	case store.TransferWarm:
		err = o.runWarmTransfer(ctx, t, confID, req)
	}
	return t, err
}

func (o *Orchestrator) runColdTransfer(ctx context.Context, t *store.Transfer, confID string, req InitiateTransferRequest) error {
	p, err := o.provider.AddConferenceParticipant(ctx, req.ConferenceName, telephony.ParticipantRequest{
		To:                  req.RecipientPhone,
		From:                req.CallerID,
		EndConferenceOnExit: true,
		StatusCallbackURL:   req.StatusCallbackURL,
	})
	if err != nil {
		// Fail closed: the agent leg is untouched.
		o.releaseIdentity(ctx, t, t.ID)
		o.fail(ctx, t, "add target")
		return err
	}
	o.rebindIdentity(ctx, t, p.CallRef)
	now := time.Now()
	t.TransferCallRef = p.CallRef
	t.ConnectedAt = &now
	t.StatusDetail = "target added"
	if err := o.store.UpdateTransfer(ctx, t); err != nil {
		return fmt.Errorf("updating transfer: %w", err)
	}

	if err := o.provider.RemoveParticipant(ctx, confID, req.AgentCallRef); err != nil {
		// The target is already in the call; the record says so.
		o.fail(ctx, t, "remove agent")
		return err
	}

	done := time.Now()
	t.Status = store.TransferCompleted
	t.StatusDetail = "agent removed"
	t.CompletedAt = &done
	if err := o.store.UpdateTransfer(ctx, t); err != nil {
		return fmt.Errorf("updating transfer: %w", err)
	}
	o.logger.Info("cold transfer completed", "transfer_id", t.ID)
	o.finish(ctx, t, "completed")
	return nil
}

func (o *Orchestrator) runWarmTransfer(ctx context.Context, t *store.Transfer, confID string, req InitiateTransferRequest) error {
	if err := o.provider.HoldParticipant(ctx, confID, req.CustomerCallRef, true); err != nil {
		o.releaseIdentity(ctx, t, t.ID)
		o.fail(ctx, t, "hold customer")
		return err
	}
	t.CustomerOnHold = true
	t.StatusDetail = "customer held"
	if err := o.store.UpdateTransfer(ctx, t); err != nil {
		return fmt.Errorf("updating transfer: %w", err)
	}

	p, err := o.provider.AddConferenceParticipant(ctx, req.ConferenceName, telephony.ParticipantRequest{
		To:                  req.RecipientPhone,
		From:                req.CallerID,
		EndConferenceOnExit: false,
		StatusCallbackURL:   req.StatusCallbackURL,
	})
	if err != nil {
		// The customer stays held; unholding is the agent's call, made
		// through CancelTransfer or the hold endpoint, never implicit.
		o.releaseIdentity(ctx, t, t.ID)
		o.fail(ctx, t, "add target")
		return err
	}
	o.rebindIdentity(ctx, t, p.CallRef)

	now := time.Now()
	t.TransferCallRef = p.CallRef
	t.ConnectedAt = &now
	t.Status = store.TransferConsulting
	t.StatusDetail = "consulting"
	if err := o.store.UpdateTransfer(ctx, t); err != nil {
		return fmt.Errorf("updating transfer: %w", err)
	}
	o.logger.Info("warm transfer consulting", "transfer_id", t.ID, "target_call_ref", p.CallRef)
	if o.notifier != nil {
		o.notifier.TransferEvent(ctx, "consulting", t)
	}
	return nil
}

// CompleteTransfer commits a consulting warm transfer: the customer is
// taken off hold, the target becomes the conference anchor, and the agent
// leg is removed.
func (o *Orchestrator) CompleteTransfer(ctx context.Context, transferID string) (*store.Transfer, error) {
	t, err := o.getTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != store.TransferConsulting {
		return t, fmt.Errorf("complete transfer %s from %q: %w", transferID, t.Status, ErrInvalidTransferState)
	}

	confID, err := o.provider.FindConferenceID(ctx, t.ConferenceName)
	if err != nil {
		return t, err
	}

	if err := o.provider.HoldParticipant(ctx, confID, t.CustomerCallRef, false); err != nil {
		t.StatusDetail = "unhold customer failed"
		o.update(ctx, t)
		return t, err
	}
	t.CustomerOnHold = false
	t.StatusDetail = "customer unheld"
	o.update(ctx, t)

	if err := o.provider.SetEndConferenceOnExit(ctx, confID, t.TransferCallRef, true); err != nil {
		t.StatusDetail = "anchor target failed"
		o.update(ctx, t)
		return t, err
	}
	t.StatusDetail = "target anchored"
	o.update(ctx, t)

	if err := o.provider.RemoveParticipant(ctx, confID, t.AgentCallRef); err != nil {
		t.StatusDetail = "remove agent failed"
		o.update(ctx, t)
		return t, err
	}

	now := time.Now()
	t.Status = store.TransferCompleted
	t.StatusDetail = "agent removed"
	t.CompletedAt = &now
	if err := o.store.UpdateTransfer(ctx, t); err != nil {
		return t, fmt.Errorf("updating transfer: %w", err)
	}
	o.logger.Info("warm transfer completed", "transfer_id", t.ID)
	o.finish(ctx, t, "completed")
	return t, nil
}

// CancelTransfer abandons a consulting warm transfer: the target leg is
// removed and the customer is taken off hold, leaving the original agent
// in place.
func (o *Orchestrator) CancelTransfer(ctx context.Context, transferID string) (*store.Transfer, error) {
	t, err := o.getTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Status != store.TransferConsulting {
		return t, fmt.Errorf("cancel transfer %s from %q: %w", transferID, t.Status, ErrInvalidTransferState)
	}

	confID, err := o.provider.FindConferenceID(ctx, t.ConferenceName)
	if err != nil {
		return t, err
	}

	if err := o.provider.RemoveParticipant(ctx, confID, t.TransferCallRef); err != nil {
		t.StatusDetail = "remove target failed"
		o.update(ctx, t)
		return t, err
	}
	o.releaseIdentity(ctx, t, t.TransferCallRef)
	t.StatusDetail = "target removed"
	o.update(ctx, t)

	if err := o.provider.HoldParticipant(ctx, confID, t.CustomerCallRef, false); err != nil {
		t.StatusDetail = "unhold customer failed"
		o.update(ctx, t)
		return t, err
	}

	now := time.Now()
	t.Status = store.TransferCancelled
	t.StatusDetail = "customer unheld"
	t.CustomerOnHold = false
	t.CompletedAt = &now
	if err := o.store.UpdateTransfer(ctx, t); err != nil {
		return t, fmt.Errorf("updating transfer: %w", err)
	}
	o.logger.Info("warm transfer cancelled", "transfer_id", t.ID)
	o.finish(ctx, t, "cancelled")
	return t, nil
}

// GetTransfer returns a transfer by ID.
func (o *Orchestrator) GetTransfer(ctx context.Context, transferID string) (*store.Transfer, error) {
	return o.getTransfer(ctx, transferID)
}

// ListTransfers returns every transfer recorded against a conference.
func (o *Orchestrator) ListTransfers(ctx context.Context, conferenceName string) ([]store.Transfer, error) {
	return o.store.ListTransfersByConference(ctx, conferenceName)
}

// HandleTargetStatus releases a transfer target's caller-identity lock once
// the provider reports the target leg ended. Call references that belong to
// no transfer are ignored; dial-group legs have their own release path.
func (o *Orchestrator) HandleTargetStatus(ctx context.Context, callRef string, status telephony.CallStatus) error {
	if !status.Terminal() {
		return nil
	}
	t, err := o.store.GetTransferForCall(ctx, callRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving transfer for call: %w", err)
	}
	if t.CallerID == "" {
		return nil
	}
	if released, err := o.locks.Release(ctx, callRef); err != nil {
		return fmt.Errorf("releasing transfer identity: %w", err)
	} else if released {
		o.logger.Info("transfer identity released",
			"transfer_id", t.ID, "number", t.CallerID, "call_ref", callRef)
	}
	return nil
}

// HoldParticipant sets or clears hold on one conference leg. Repeating the
// same hold state is harmless.
func (o *Orchestrator) HoldParticipant(ctx context.Context, conferenceName, callRef string, hold bool) error {
	confID, err := o.provider.FindConferenceID(ctx, conferenceName)
	if err != nil {
		return err
	}
	if err := o.provider.HoldParticipant(ctx, confID, callRef, hold); err != nil {
		return err
	}
	o.syncCustomerState(ctx, conferenceName, callRef, func(t *store.Transfer) { t.CustomerOnHold = hold })
	o.logger.Info("participant hold updated", "conference", conferenceName, "call_ref", callRef, "hold", hold)
	return nil
}

// MuteParticipant sets or clears mute on one conference leg.
func (o *Orchestrator) MuteParticipant(ctx context.Context, conferenceName, callRef string, mute bool) error {
	confID, err := o.provider.FindConferenceID(ctx, conferenceName)
	if err != nil {
		return err
	}
	if err := o.provider.MuteParticipant(ctx, confID, callRef, mute); err != nil {
		return err
	}
	o.syncCustomerState(ctx, conferenceName, callRef, func(t *store.Transfer) { t.CustomerMuted = mute })
	o.logger.Info("participant mute updated", "conference", conferenceName, "call_ref", callRef, "mute", mute)
	return nil
}

// syncCustomerState mirrors a direct hold or mute of a customer leg onto
// every live transfer tracking that leg, so the records stay authoritative.
func (o *Orchestrator) syncCustomerState(ctx context.Context, conferenceName, callRef string, apply func(*store.Transfer)) {
	transfers, err := o.store.ListTransfersByConference(ctx, conferenceName)
	if err != nil {
		o.logger.Error("failed to list transfers for state sync", "conference", conferenceName, "error", err)
		return
	}
	for i := range transfers {
		t := &transfers[i]
		if t.Status.Terminal() || t.CustomerCallRef != callRef {
			continue
		}
		apply(t)
		o.update(ctx, t)
	}
}

// ListParticipants returns the live legs of a conference, labeled by role.
// Roles come from the transfer records for the conference: a leg that was
// dialed as a transfer target is labeled as such; held legs default to
// customer; everything else is agent.
func (o *Orchestrator) ListParticipants(ctx context.Context, conferenceName string) ([]Participant, error) {
	confID, err := o.provider.FindConferenceID(ctx, conferenceName)
	if err != nil {
		return nil, err
	}
	legs, err := o.provider.ListParticipants(ctx, confID)
	if err != nil {
		return nil, err
	}

	labels := make(map[string]string)
	transfers, err := o.store.ListTransfersByConference(ctx, conferenceName)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	for _, t := range transfers {
		if t.TransferCallRef != "" {
			labels[t.TransferCallRef] = LabelTransferTarget
		}
		if t.CustomerCallRef != "" {
			labels[t.CustomerCallRef] = LabelCustomer
		}
		if t.AgentCallRef != "" {
			labels[t.AgentCallRef] = LabelAgent
		}
	}

	out := make([]Participant, 0, len(legs))
	for _, leg := range legs {
		label := labels[leg.CallRef]
		if label == "" {
			if leg.Hold {
				label = LabelCustomer
			} else {
				label = LabelAgent
			}
		}
		out = append(out, Participant{
			CallRef:             leg.CallRef,
			ConferenceID:        leg.ConferenceID,
			Label:               label,
			Hold:                leg.Hold,
			Muted:               leg.Muted,
			EndConferenceOnExit: leg.EndConferenceOnExit,
			Status:              leg.Status,
		})
	}
	return out, nil
}

func (o *Orchestrator) getTransfer(ctx context.Context, transferID string) (*store.Transfer, error) {
	t, err := o.store.GetTransfer(ctx, transferID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading transfer: %w", err)
	}
	return t, nil
}

// rebindIdentity swaps the identity lock from the transfer ID onto the
// provider-assigned target call reference.
func (o *Orchestrator) rebindIdentity(ctx context.Context, t *store.Transfer, callRef string) {
	if t.CallerID == "" {
		return
	}
	if _, err := o.locks.Rebind(ctx, t.ID, callRef); err != nil {
		o.logger.Error("failed to rebind transfer identity lock",
			"transfer_id", t.ID, "call_ref", callRef, "error", err)
	}
}

// releaseIdentity frees the identity lock held under ref, if any.
func (o *Orchestrator) releaseIdentity(ctx context.Context, t *store.Transfer, ref string) {
	if t.CallerID == "" {
		return
	}
	if _, err := o.locks.Release(ctx, ref); err != nil {
		o.logger.Error("failed to release transfer identity lock",
			"transfer_id", t.ID, "number", t.CallerID, "error", err)
	}
}

// fail marks a transfer failed at the named step.
func (o *Orchestrator) fail(ctx context.Context, t *store.Transfer, step string) {
	now := time.Now()
	t.Status = store.TransferFailed
	t.StatusDetail = step + " failed"
	t.CompletedAt = &now
	o.update(ctx, t)
	o.logger.Warn("transfer failed", "transfer_id", t.ID, "step", step)
	o.finish(ctx, t, "failed")
}

// update persists the record, logging rather than propagating store errors
// from inside a multi-step sequence already reporting its own failure.
func (o *Orchestrator) update(ctx context.Context, t *store.Transfer) {
	if err := o.store.UpdateTransfer(ctx, t); err != nil {
		o.logger.Error("failed to update transfer record", "transfer_id", t.ID, "error", err)
	}
}

func (o *Orchestrator) finish(ctx context.Context, t *store.Transfer, event string) {
	if o.recorder != nil {
		if err := o.recorder.RecordTransfer(ctx, t); err != nil {
			o.logger.Error("failed to record transfer history", "transfer_id", t.ID, "error", err)
		}
	}
	if o.notifier != nil {
		o.notifier.TransferEvent(ctx, event, t)
	}
}

func validateTransferRequest(req InitiateTransferRequest) error {
	if req.ConferenceName == "" {
		return errors.New("conference name is required")
	}
	if req.RecipientPhone == "" {
		return errors.New("recipient phone is required")
	}
	if req.AgentCallRef == "" {
		return errors.New("agent call reference is required")
	}
	if req.Type != store.TransferCold && req.Type != store.TransferWarm {
		return fmt.Errorf("transfer type must be %q or %q", store.TransferCold, store.TransferWarm)
	}
	if req.Type == store.TransferWarm && req.CustomerCallRef == "" {
		return errors.New("customer call reference is required for a warm transfer")
	}
	return nil
}
