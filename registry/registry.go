package registry

import "sync"

// Registry maps client_id to Connection (spec §3). Add and Remove are
// serialized by mu; Snapshot/Get/Range take a read lock only, so the
// dispatcher and the admin surface never block each other, only the rare
// accept/close writer.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add registers a newly accepted connection.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

// Remove deregisters a connection by id. A no-op if already absent, which
// keeps close idempotent end to end.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Get returns the connection for id, if still registered.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Snapshot returns a point-in-time copy of every registered connection.
// Callers must check Running() before touching a connection's pipelines,
// since a snapshot can race a concurrent Remove (§5).
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Range calls fn for every connection in a Snapshot, stopping early if fn
// returns false. No lock is held while fn runs, so fn may call Add/Remove
// on this registry; such changes are not reflected in the ongoing Range.
func (r *Registry) Range(fn func(*Connection) bool) {
	for _, c := range r.Snapshot() {
		if !fn(c) {
			return
		}
	}
}
