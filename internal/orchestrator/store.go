package orchestrator

import (
	"sync/atomic"

	"edge-agent/internal/channel"
)

// Store holds the last applied desired state.
// Implementations must make Replace atomic with respect to Load so readers
// always see one complete snapshot.
type Store interface {
	Load() *channel.Snapshot
	Replace(snap *channel.Snapshot)
}

// InMemoryStore is a lock-free Store backed by an atomic pointer.
type InMemoryStore struct {
	current atomic.Pointer[channel.Snapshot]
}

// NewInMemoryStore returns a store holding an empty snapshot.
func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{}
	s.current.Store(channel.NewSnapshot())
	return s
}

// Load implements Store.Load.
func (s *InMemoryStore) Load() *channel.Snapshot {
	return s.current.Load()
}

// Replace implements Store.Replace. A nil snapshot is stored as empty.
func (s *InMemoryStore) Replace(snap *channel.Snapshot) {
	if snap == nil {
		snap = channel.NewSnapshot()
	}
	s.current.Store(snap)
}
