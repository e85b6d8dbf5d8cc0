// Package session tracks which users are online and on which connection.
package session

import "sync"

// Conn is the slice of a live connection the registry needs: a stable id
// issued at accept time and a way to push a line to the peer. Notification
// fan-out writes through the Conn returned by Lookup.
type Conn interface {
	ID() uint64
	WriteLine(line string) error
}

// Registry maps logged-in users to their live connection. Both directions are
// kept under one lock so register, unregister and lookup are linearizable:
// user id to connection for lookups, connection id to user id for removal on
// disconnect. Keying removal by connection id avoids scanning handles by
// value and stays unambiguous if a handle is reused after close.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]Conn
	byConn map[uint64]int64
}

func New() *Registry {
	return &Registry{
		byUser: make(map[int64]Conn),
		byConn: make(map[uint64]int64),
	}
}

// Register binds userID to conn. Last login wins: an entry held by an earlier
// connection is overwritten and that connection is orphaned, not closed. A
// connection re-logging-in as a different user gives up its old binding.
func (r *Registry) Register(userID int64, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userID]; ok && old.ID() != conn.ID() {
		delete(r.byConn, old.ID())
	}
	if prevUser, ok := r.byConn[conn.ID()]; ok && prevUser != userID {
		if cur, ok := r.byUser[prevUser]; ok && cur.ID() == conn.ID() {
			delete(r.byUser, prevUser)
		}
	}

	r.byUser[userID] = conn
	r.byConn[conn.ID()] = userID
}

// Unregister drops whatever entry the connection holds; no-op if it holds
// none. The user-side entry is only removed if it still points at this
// connection, so a newer login on another connection survives.
func (r *Registry) Unregister(connID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)

	if cur, ok := r.byUser[userID]; ok && cur.ID() == connID {
		delete(r.byUser, userID)
	}
}

// Lookup returns the live connection for userID, if any.
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	return conn, ok
}

// Len reports how many users are currently online.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
