// Package callerid enforces mutual exclusion over outbound caller
// identities: at most one live call may present a given phone number at a
// time. Locks carry a TTL so a crashed holder can never strand a number.
package callerid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dialcast/dialcast/internal/store"
)

// ErrNumberInUse is returned by callers that need a hard failure when an
// outbound number is already locked under another call.
var ErrNumberInUse = errors.New("outbound number already in use")

// DefaultTTL is how long a lock lives without a refresh.
const DefaultTTL = 5 * time.Minute

// Service manages caller-identity locks on top of a pluggable store. All
// atomicity guarantees come from the store; the service adds TTL handling,
// reference rebinding and the expiry sweep.
type Service struct {
	store  store.LockStore
	ttl    time.Duration
	logger *slog.Logger
}

// NewService creates a lock service. A non-positive ttl falls back to
// DefaultTTL.
func NewService(st store.LockStore, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		store:  st,
		ttl:    ttl,
		logger: logger.With("subsystem", "callerid"),
	}
}

// TTL returns the configured lock lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Acquire locks phoneNumber for callRef. It returns false when the number
// is held under a different call reference; re-acquiring with the same
// reference refreshes the expiry instead of conflicting.
func (s *Service) Acquire(ctx context.Context, phoneNumber, holderID, callRef string) (bool, error) {
	now := time.Now()
	ok, err := s.store.Acquire(ctx, store.Lock{
		PhoneNumber: phoneNumber,
		HolderID:    holderID,
		CallRef:     callRef,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(s.ttl),
	})
	if err != nil {
		return false, fmt.Errorf("acquiring caller id lock: %w", err)
	}
	if !ok {
		s.logger.Debug("caller id busy", "number", phoneNumber, "call_ref", callRef)
		return false, nil
	}
	s.logger.Debug("caller id locked", "number", phoneNumber, "holder", holderID, "call_ref", callRef)
	return true, nil
}

// Release frees the lock held under callRef. It returns false when no live
// lock carries that reference.
func (s *Service) Release(ctx context.Context, callRef string) (bool, error) {
	ok, err := s.store.ReleaseByRef(ctx, callRef)
	if err != nil {
		return false, fmt.Errorf("releasing caller id lock: %w", err)
	}
	if ok {
		s.logger.Debug("caller id released", "call_ref", callRef)
	}
	return ok, nil
}

// ReleaseByNumber frees the lock on phoneNumber regardless of which call
// holds it. Intended for operator cleanup.
func (s *Service) ReleaseByNumber(ctx context.Context, phoneNumber string) (bool, error) {
	ok, err := s.store.ReleaseByNumber(ctx, phoneNumber)
	if err != nil {
		return false, fmt.Errorf("releasing caller id lock: %w", err)
	}
	if ok {
		s.logger.Debug("caller id released", "number", phoneNumber)
	}
	return ok, nil
}

// Rebind moves a lock from a provisional reference to the provider call
// reference once the dial returns, with no unlock window in between.
func (s *Service) Rebind(ctx context.Context, oldRef, newRef string) (bool, error) {
	ok, err := s.store.Rebind(ctx, oldRef, newRef)
	if err != nil {
		return false, fmt.Errorf("rebinding caller id lock: %w", err)
	}
	return ok, nil
}

// IsAvailable reports whether phoneNumber has no live lock.
func (s *Service) IsAvailable(ctx context.Context, phoneNumber string) (bool, error) {
	lock, err := s.store.Get(ctx, phoneNumber)
	if err != nil {
		return false, fmt.Errorf("checking caller id lock: %w", err)
	}
	return lock == nil, nil
}

// ListByHolder returns the live locks held by one holder.
func (s *Service) ListByHolder(ctx context.Context, holderID string) ([]store.Lock, error) {
	locks, err := s.store.ListByHolder(ctx, holderID)
	if err != nil {
		return nil, fmt.Errorf("listing caller id locks: %w", err)
	}
	return locks, nil
}

// StartSweep runs a background goroutine that purges expired locks at the
// given interval. Expiry is already enforced lazily on every operation;
// the sweep only keeps the table small. The goroutine stops when the
// context is cancelled.
func (s *Service) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.PurgeExpired(ctx)
				if err != nil {
					s.logger.Error("lock expiry sweep failed", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Info("purged expired caller id locks", "count", n)
				}
			}
		}
	}()
}
