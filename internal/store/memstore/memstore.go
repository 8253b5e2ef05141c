// Package memstore provides single-process implementations of the store
// contracts backed by mutex-guarded maps. It is the default for tests and
// single-node deployments; multi-instance deployments use pgstore instead.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dialcast/dialcast/internal/store"
)

// Store implements store.LockStore, store.GroupStore and store.TransferStore
// in memory. Expired locks are purged lazily on every lock operation.
type Store struct {
	mu        sync.Mutex
	locks     map[string]store.Lock     // phone number -> lock
	groups    map[string]*store.Group   // group ID -> group
	callIndex map[string]string         // call reference -> group ID
	transfers map[string]store.Transfer // transfer ID -> transfer
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		locks:     make(map[string]store.Lock),
		groups:    make(map[string]*store.Group),
		callIndex: make(map[string]string),
		transfers: make(map[string]store.Transfer),
	}
}

// purgeExpiredLocked removes expired locks. Caller holds s.mu.
func (s *Store) purgeExpiredLocked(now time.Time) int {
	n := 0
	for number, lock := range s.locks {
		if lock.Expired(now) {
			delete(s.locks, number)
			n++
		}
	}
	return n
}

func (s *Store) Acquire(ctx context.Context, lock store.Lock) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())
	if held, ok := s.locks[lock.PhoneNumber]; ok && held.CallRef != lock.CallRef {
		return false, nil
	}
	s.locks[lock.PhoneNumber] = lock
	return true, nil
}

func (s *Store) Get(ctx context.Context, phoneNumber string) (*store.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())
	lock, ok := s.locks[phoneNumber]
	if !ok {
		return nil, nil
	}
	out := lock
	return &out, nil
}

func (s *Store) ReleaseByRef(ctx context.Context, callRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())
	for number, lock := range s.locks {
		if lock.CallRef == callRef {
			delete(s.locks, number)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ReleaseByNumber(ctx context.Context, phoneNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())
	if _, ok := s.locks[phoneNumber]; !ok {
		return false, nil
	}
	delete(s.locks, phoneNumber)
	return true, nil
}

func (s *Store) Rebind(ctx context.Context, oldRef, newRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())
	for number, lock := range s.locks {
		if lock.CallRef == oldRef {
			lock.CallRef = newRef
			s.locks[number] = lock
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListByHolder(ctx context.Context, holderID string) ([]store.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())
	var out []store.Lock
	for _, lock := range s.locks {
		if lock.HolderID == holderID {
			out = append(out, lock)
		}
	}
	return out, nil
}

func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeExpiredLocked(time.Now()), nil
}

func (s *Store) CountActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked(time.Now())
	return len(s.locks), nil
}

func (s *Store) CreateGroup(ctx context.Context, g *store.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[g.ID]; ok {
		return fmt.Errorf("dial group %s already exists", g.ID)
	}
	cp := cloneGroup(g)
	s.groups[g.ID] = cp
	for i := range cp.Attempts {
		s.callIndex[cp.Attempts[i].CallRef] = g.ID
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneGroup(g), nil
}

func (s *Store) GetGroupIDForCall(ctx context.Context, callRef string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.callIndex[callRef]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

func (s *Store) AddAttempt(ctx context.Context, groupID string, a store.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return store.ErrNotFound
	}
	g.Attempts = append(g.Attempts, a)
	g.UpdatedAt = time.Now()
	s.callIndex[a.CallRef] = groupID
	return nil
}

func (s *Store) UpdateAttempt(ctx context.Context, groupID string, a store.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range g.Attempts {
		if g.Attempts[i].CallRef == a.CallRef {
			g.Attempts[i] = a
			g.UpdatedAt = time.Now()
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) SetWinner(ctx context.Context, groupID, callRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return false, store.ErrNotFound
	}
	if g.WinnerCallRef != "" || g.Status.Terminal() {
		return false, nil
	}
	g.WinnerCallRef = callRef
	g.Status = store.GroupConnected
	g.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) UpdateGroupStatus(ctx context.Context, groupID string, status store.GroupStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return store.ErrNotFound
	}
	g.Status = status
	g.UpdatedAt = time.Now()
	return nil
}

func (s *Store) CountGroupsByStatus(ctx context.Context) (map[store.GroupStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[store.GroupStatus]int)
	for _, g := range s.groups {
		out[g.Status]++
	}
	return out, nil
}

func (s *Store) CreateTransfer(ctx context.Context, t *store.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[t.ID]; ok {
		return fmt.Errorf("transfer %s already exists", t.ID)
	}
	s.transfers[t.ID] = *t
	return nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*store.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := t
	return &out, nil
}

func (s *Store) GetTransferForCall(ctx context.Context, callRef string) (*store.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.transfers {
		if t.TransferCallRef == callRef {
			out := t
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateTransfer(ctx context.Context, t *store.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transfers[t.ID]; !ok {
		return store.ErrNotFound
	}
	s.transfers[t.ID] = *t
	return nil
}

func (s *Store) ListTransfersByConference(ctx context.Context, conferenceName string) ([]store.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Transfer
	for _, t := range s.transfers {
		if t.ConferenceName == conferenceName {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) CountTransfersByStatus(ctx context.Context) (map[store.TransferStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[store.TransferStatus]int)
	for _, t := range s.transfers {
		out[t.Status]++
	}
	return out, nil
}

// cloneGroup deep-copies a group so callers never share the stored slice.
func cloneGroup(g *store.Group) *store.Group {
	cp := *g
	cp.Attempts = make([]store.Attempt, len(g.Attempts))
	copy(cp.Attempts, g.Attempts)
	return &cp
}
