// Package session tracks registered operator terminals and their liveness.
package session

import (
	"net"
	"time"
)

// ClientSession is the server-side record of one registered terminal.
type ClientSession struct {
	ClientID   string
	Addr       *net.UDPAddr
	LastSeenAt time.Time
	Authorized bool
}

// Table holds every known session in registration order.
//
// The table is not internally locked. The server serializes dispatch,
// watchdog eviction and status snapshots behind one mutex.
type Table struct {
	sessions map[string]*ClientSession
	order    []string
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*ClientSession)}
}

// Register creates a session for clientID or refreshes the existing one,
// reporting whether it was newly created. Registration is unconditional;
// there is no credential check, and the session always comes back authorized.
func (t *Table) Register(clientID string, addr *net.UDPAddr, now time.Time) (*ClientSession, bool) {
	if s, ok := t.sessions[clientID]; ok {
		s.Addr = addr
		s.LastSeenAt = now
		s.Authorized = true
		return s, false
	}
	s := &ClientSession{ClientID: clientID, Addr: addr, LastSeenAt: now, Authorized: true}
	t.sessions[clientID] = s
	t.order = append(t.order, clientID)
	return s, true
}

// Touch refreshes liveness and address for a known session. It reports false
// when clientID has never registered; callers must treat that sender as
// unauthorized.
func (t *Table) Touch(clientID string, addr *net.UDPAddr, now time.Time) bool {
	s, ok := t.sessions[clientID]
	if !ok {
		return false
	}
	s.Addr = addr
	s.LastSeenAt = now
	return true
}

// Evict removes a session and reports whether it existed.
func (t *Table) Evict(clientID string) bool {
	if _, ok := t.sessions[clientID]; !ok {
		return false
	}
	delete(t.sessions, clientID)
	for i, id := range t.order {
		if id == clientID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// EvictExpired removes every session idle for longer than timeout and returns
// the evicted ids in registration order.
func (t *Table) EvictExpired(now time.Time, timeout time.Duration) []string {
	var expired []string
	for _, id := range t.order {
		if now.Sub(t.sessions[id].LastSeenAt) > timeout {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		t.Evict(id)
	}
	return expired
}

// Snapshot returns copies of every session in registration order.
func (t *Table) Snapshot() []ClientSession {
	out := make([]ClientSession, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.sessions[id])
	}
	return out
}

// Len returns the number of registered sessions.
func (t *Table) Len() int { return len(t.sessions) }

// IsEmpty reports whether no session is registered.
func (t *Table) IsEmpty() bool { return len(t.sessions) == 0 }

// HasLiveAuthorized reports whether at least one authorized session has been
// seen within timeout of now.
func (t *Table) HasLiveAuthorized(now time.Time, timeout time.Duration) bool {
	for _, s := range t.sessions {
		if s.Authorized && now.Sub(s.LastSeenAt) <= timeout {
			return true
		}
	}
	return false
}
