// Package checkpoint houses concrete implementations of core.CheckpointStore.
// The interface itself (and the Checkpoint struct) live in the core package
// to centralize domain contracts. Keeping only implementations here prevents
// higher level packages (engine, sweep) from depending on concrete storage.
//
// Add additional backends (Redis, Postgres, ...) in sub-packages without
// changing any calling code; only the wiring layer needs to decide which
// implementation to instantiate.
package checkpoint

import (
	"sync"

	"github.com/dentaldesk/dentaldesk/core"
)

// InMemoryStore is a volatile CheckpointStore keeping checkpoints in a
// process local map. Each conversation id maps to a slot protected by its own
// mutex; Acquire hands out exclusive leases so the worker and the timeout
// sweep can never operate on the same conversation at once.
type InMemoryStore struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	mu sync.Mutex
	// refs counts leases issued and not yet released, guarded by the store
	// mutex. A slot is removed from the map only when refs reaches zero and
	// the checkpoint has been evicted, so a waiter blocked on the slot mutex
	// can never end up holding a slot a later Acquire would duplicate.
	refs int
	cp   *core.Checkpoint
}

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{slots: make(map[int64]*slot)}
}

// Acquire blocks until exclusive access to the conversation's slot is
// available and returns the lease.
func (s *InMemoryStore) Acquire(conversationID int64) core.Lease {
	s.mu.Lock()
	sl, ok := s.slots[conversationID]
	if !ok {
		sl = &slot{}
		s.slots[conversationID] = sl
	}
	sl.refs++
	s.mu.Unlock()

	sl.mu.Lock()
	return &lease{store: s, id: conversationID, slot: sl}
}

// List returns a snapshot of conversation ids currently present. Ids whose
// checkpoints were concurrently evicted may still appear; acquiring them
// yields an empty slot, which callers already treat as lingering state.
func (s *InMemoryStore) List() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.slots))
	for id := range s.slots {
		ids = append(ids, id)
	}
	return ids
}

type lease struct {
	store    *InMemoryStore
	id       int64
	slot     *slot
	evicted  bool
	released bool
}

// Get returns the checkpoint held in the slot, or nil if absent.
func (l *lease) Get() *core.Checkpoint { return l.slot.cp }

// Put stores a checkpoint in the slot.
func (l *lease) Put(cp *core.Checkpoint) {
	l.slot.cp = cp
	l.evicted = false
}

// Evict removes the checkpoint; the slot itself is removed on Release once
// no other leases are pending.
func (l *lease) Evict() {
	l.slot.cp = nil
	l.evicted = true
}

// Release gives up exclusive access. Idempotent.
func (l *lease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.slot.mu.Unlock()

	l.store.mu.Lock()
	l.slot.refs--
	if l.slot.refs == 0 && l.slot.cp == nil {
		if cur, ok := l.store.slots[l.id]; ok && cur == l.slot {
			delete(l.store.slots, l.id)
		}
	}
	l.store.mu.Unlock()
}

// Interface compliance (compile-time assertion)
var _ core.CheckpointStore = (*InMemoryStore)(nil)
