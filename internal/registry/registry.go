// Package registry implements the Session Registry: a concurrent-safe
// session_id → Session map with reference counting (spec §2, §5).
//
// Lookup is safe for many concurrent readers; insertion and removal are
// single-writer operations guarded by a mutex. Reference counting ensures
// that a goroutine holding a Handle from Lookup keeps a stable reference
// even if Remove runs concurrently on the same id.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Handle is anything the registry can track by session id and tear down.
// *orchestrator.Session implements this interface; the registry never
// imports the orchestrator package, keeping the dependency one-directional.
type Handle interface {
	SessionID() string
	Close() error
}

// ErrAlreadyRegistered is returned by Register when session id is already
// present in the registry.
var ErrAlreadyRegistered = errors.New("registry: session already registered")

// entry pairs a Handle with a reference count. refs is incremented by
// Lookup and decremented by the release function it returns.
type entry struct {
	handle Handle
	refs   atomic.Int32
}

// Registry is the concurrent-safe session_id → Handle map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	group    singleflight.Group
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Register adds h under h.SessionID(). Returns ErrAlreadyRegistered if that
// id is already present.
func (r *Registry) Register(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := h.SessionID()
	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, id)
	}
	r.sessions[id] = &entry{handle: h}
	return nil
}

// Lookup returns the Handle registered under id along with a release
// function the caller must call exactly once when done with the handle.
// Concurrent Lookup calls for the same id share one map read through a
// singleflight.Group; each caller still takes, and releases, its own
// reference.
//
// The returned bool is false if no session is registered under id.
func (r *Registry) Lookup(id string) (Handle, func(), bool) {
	v, _, _ := r.group.Do(id, func() (any, error) {
		r.mu.RLock()
		e, ok := r.sessions[id]
		r.mu.RUnlock()
		if !ok {
			return (*entry)(nil), nil
		}
		return e, nil
	})

	e, _ := v.(*entry)
	if e == nil {
		return nil, nil, false
	}
	e.refs.Add(1)

	var released sync.Once
	release := func() {
		released.Do(func() { e.refs.Add(-1) })
	}
	return e.handle, release, true
}

// Remove unregisters id and returns its Handle so the caller can tear it
// down. Already-acquired Lookup handles remain valid; Remove only stops
// future lookups from finding id.
func (r *Registry) Remove(id string) (Handle, bool) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Len returns the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RefCount returns the current reference count for id, or 0 if id is not
// registered. Intended for tests and diagnostics.
func (r *Registry) RefCount(id string) int32 {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return e.refs.Load()
}

// IDs returns a snapshot of every currently registered session id, in no
// particular order. Intended for health checks and admin introspection.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
