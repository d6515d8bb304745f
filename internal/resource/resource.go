// Package resource implements the generational connection resource
// manager: every accepted connection is registered as a Resource, moves
// through a small state machine as it is served, and is swept onto a
// background disposal goroutine once both the handler has finished with
// it and the manager has given up holding a reference, rather than being
// torn down synchronously on the goroutine that noticed it finished.
package resource

import (
	"sync"

	"github.com/google/uuid"
)

// State is a Resource's position in its lifecycle.
type State int

const (
	StateAccepted State = iota
	StateRunning
	StateExpired
	StatePeerClosed
	StateErrored
	StateAwaitingSweep
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateRunning:
		return "running"
	case StateExpired:
		return "expired"
	case StatePeerClosed:
		return "peer_closed"
	case StateErrored:
		return "errored"
	case StateAwaitingSweep:
		return "awaiting_sweep"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Resource is anything the manager tracks for generational disposal: a
// client connection, an ingest process handle, a relay. Implementations
// must be safe to call Dispose on exactly once.
type Resource interface {
	// ID is a stable, process-unique identifier assigned at creation.
	ID() string
	// RemoteIP is the peer address, or "" when not applicable.
	RemoteIP() string
	// State reports the resource's current lifecycle state.
	State() State
	// DisposalEligible reports whether the resource is done being used
	// and safe to destroy: true once it has reached a terminal state
	// (Expired, PeerClosed, Errored) and any in-flight handler goroutine
	// has returned.
	DisposalEligible() bool
	// Dispose releases the resource's underlying OS handles. Called at
	// most once, from the sweeper goroutine.
	Dispose() error
}

// Manager tracks a generation of live resources. Generation refers to the
// fact that a manager is swapped out wholesale on certain reload
// conditions (e.g. a vhost's cluster mode flips) rather than mutated
// piecemeal; the resources of the old generation drain out via the
// sweeper while new resources accumulate in the new generation's manager.
type Manager struct {
	mu    sync.Mutex
	byID  map[string]Resource
	order []string
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{byID: make(map[string]Resource)}
}

// NewID returns a fresh process-unique resource id.
func NewID() string {
	return uuid.NewString()
}

// Add registers r with the manager. Resources are kept in insertion order
// so At(0) is always the oldest live resource.
func (m *Manager) Add(r Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[r.ID()]; exists {
		return
	}
	m.byID[r.ID()] = r
	m.order = append(m.order, r.ID())
}

// Remove drops r from the manager without disposing it. The sweeper calls
// this after Dispose succeeds; callers that want to destroy a resource
// immediately should call Dispose themselves and then Remove.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return
	}
	delete(m.byID, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Size returns the number of resources currently tracked.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Empty reports whether the manager currently tracks no resources.
func (m *Manager) Empty() bool {
	return m.Size() == 0
}

// At returns the resource at position i in insertion order, or nil if i
// is out of range.
func (m *Manager) At(i int) Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.order) {
		return nil
	}
	return m.byID[m.order[i]]
}

// Snapshot returns a copy of every tracked resource in insertion order.
func (m *Manager) Snapshot() []Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Resource, len(m.order))
	for i, id := range m.order {
		out[i] = m.byID[id]
	}
	return out
}

// Get returns the resource with the given id, or nil.
func (m *Manager) Get(id string) Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}
