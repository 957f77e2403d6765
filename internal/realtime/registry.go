package realtime

import (
	"slices"
	"sync"
)

// Registry maps user ids to their open connections.
// An entry exists only while the user has at least one connection.
type Registry struct {
	mu       sync.RWMutex
	users    map[int64][]Conn
	observer Observer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithObserver reports user and connection counts to obs after every change.
// obs is called with the registry lock held and must not block.
func WithObserver(obs Observer) RegistryOption {
	return func(r *Registry) {
		if obs != nil {
			r.observer = obs
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		users:    make(map[int64][]Conn),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds conn to userID's set. Registering the same conn twice is a no-op.
func (r *Registry) Register(conn Conn, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.users[userID]
	if slices.Contains(conns, conn) {
		return
	}
	r.users[userID] = append(conns, conn)
	r.changed()
}

// Unregister removes conn from userID's set and drops the entry when it
// becomes empty. Unknown pairs are ignored.
func (r *Registry) Unregister(conn Conn, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userID]
	if !ok {
		return
	}
	i := slices.Index(conns, conn)
	if i < 0 {
		return
	}
	if len(conns) == 1 {
		delete(r.users, userID)
	} else {
		// Build a new slice so snapshots handed out earlier are never mutated.
		next := make([]Conn, 0, len(conns)-1)
		next = append(next, conns[:i]...)
		next = append(next, conns[i+1:]...)
		r.users[userID] = next
	}
	r.changed()
}

// IsOnline reports whether userID has at least one open connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineUsers returns the ids of all connected users, sorted ascending.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Connections returns a copy of userID's connection set.
func (r *Registry) Connections(userID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.users[userID])
}

// All returns a copy of every registered connection.
func (r *Registry) All() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conns := range r.users {
		n += len(conns)
	}
	all := make([]Conn, 0, n)
	for _, conns := range r.users {
		all = append(all, conns...)
	}
	return all
}

// Len returns the number of online users and open connections.
func (r *Registry) Len() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count()
}

// count tallies users and connections. Caller holds mu.
func (r *Registry) count() (users, conns int) {
	for _, c := range r.users {
		conns += len(c)
	}
	return len(r.users), conns
}

// changed publishes the counts while the write lock is still held, so
// observers see updates in the order they happened. Caller holds mu.
func (r *Registry) changed() {
	r.observer.ConnectionsChanged(r.count())
}
