package orchestrator

import (
	"maps"
	"sync"
	"time"

	"edge-agent/internal/channel"
)

// Repository is the concurrency-safe home of the applied snapshot and the
// sync status. The reconciliation engine is its only writer.
type Repository interface {
	// Snapshot returns the last applied desired state. Never nil.
	Snapshot() *channel.Snapshot

	// ApplySnapshot replaces the snapshot and marks a successful sync at.
	// The recorded fetch error is cleared.
	ApplySnapshot(snap *channel.Snapshot, at time.Time)

	// RecordFailure records a failed fetch at; the snapshot is left unchanged.
	RecordFailure(err error, at time.Time)

	// SetChannelErrors replaces the per-channel failures of the last cycle.
	SetChannelErrors(errs map[string]string)

	// Status returns a copy of the sync status.
	Status() SyncStatus
}

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for the snapshot; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu     sync.RWMutex
	store  Store
	status SyncStatus
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Snapshot implements Repository.Snapshot. It does not take the lock.
func (r *InMemoryRepository) Snapshot() *channel.Snapshot {
	if snap := r.store.Load(); snap != nil {
		return snap
	}
	return channel.NewSnapshot()
}

// ApplySnapshot implements Repository.ApplySnapshot.
func (r *InMemoryRepository) ApplySnapshot(snap *channel.Snapshot, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.store.Replace(snap)
	r.status.LastSyncAt = at
	r.status.LastAttemptAt = at
	r.status.LastError = ""
}

// RecordFailure implements Repository.RecordFailure.
func (r *InMemoryRepository) RecordFailure(err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.LastAttemptAt = at
	if err != nil {
		r.status.LastError = err.Error()
	}
}

// SetChannelErrors implements Repository.SetChannelErrors.
func (r *InMemoryRepository) SetChannelErrors(errs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(errs) == 0 {
		r.status.ChannelErrors = nil
		return
	}
	r.status.ChannelErrors = maps.Clone(errs)
}

// Status implements Repository.Status.
func (r *InMemoryRepository) Status() SyncStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := r.status
	st.ChannelErrors = maps.Clone(r.status.ChannelErrors)
	return st
}
