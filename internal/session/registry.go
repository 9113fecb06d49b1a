// Package session tracks which users currently have live connections. A user
// may be connected zero or many times (multiple devices or tabs).
package session

import "sync"

// Conn is one live connection. Send must not block: implementations queue or
// drop, so one slow connection never stalls a fan-out.
type Conn interface {
	Send(data []byte) error
}

// Registry maps user ids to their live connections. It is an injected
// component, not package state, so tests can run isolated registries in
// parallel.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]map[Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]map[Conn]struct{})}
}

func (r *Registry) Add(userID int64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		r.conns[userID] = set
	}
	set[c] = struct{}{}
}

func (r *Registry) Remove(userID int64, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.conns[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.conns, userID)
		}
	}
}

// ForEach invokes fn on a snapshot of the user's current connections.
// Connections added or removed concurrently do not affect the iteration.
func (r *Registry) ForEach(userID int64, fn func(Conn)) {
	r.mu.RLock()
	snapshot := make([]Conn, 0, len(r.conns[userID]))
	for c := range r.conns[userID] {
		snapshot = append(snapshot, c)
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		fn(c)
	}
}

// ForAll invokes fn on a snapshot of every connection of every user.
func (r *Registry) ForAll(fn func(userID int64, c Conn)) {
	type entry struct {
		userID int64
		conn   Conn
	}
	r.mu.RLock()
	snapshot := make([]entry, 0)
	for userID, set := range r.conns {
		for c := range set {
			snapshot = append(snapshot, entry{userID, c})
		}
	}
	r.mu.RUnlock()

	for _, e := range snapshot {
		fn(e.userID, e.conn)
	}
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}
