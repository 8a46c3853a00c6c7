package session

import (
	"net"
	"reflect"
	"testing"
	"time"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func ids(snapshot []ClientSession) []string {
	out := make([]string, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, s.ClientID)
	}
	return out
}

func TestRegisterCreatesAuthorizedSession(t *testing.T) {
	tbl := NewTable()

	s, created := tbl.Register("op-1", addr(40001), base)
	if !created {
		t.Error("Register() reported existing session for a new client")
	}
	if !s.Authorized {
		t.Error("Register() session not authorized")
	}
	if s.LastSeenAt != base {
		t.Errorf("LastSeenAt = %v, want %v", s.LastSeenAt, base)
	}
	if tbl.Len() != 1 || tbl.IsEmpty() {
		t.Errorf("Len() = %d, IsEmpty() = %v after one Register", tbl.Len(), tbl.IsEmpty())
	}
}

func TestRegisterRefreshesExisting(t *testing.T) {
	tbl := NewTable()
	tbl.Register("op-1", addr(40001), base)

	later := base.Add(300 * time.Millisecond)
	if _, created := tbl.Register("op-1", addr(40002), later); created {
		t.Error("Register() reported new session for a known client")
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d after re-register, want 1", tbl.Len())
	}
	snap := tbl.Snapshot()
	if snap[0].Addr.Port != 40002 {
		t.Errorf("Addr.Port = %d, want refreshed 40002", snap[0].Addr.Port)
	}
	if snap[0].LastSeenAt != later {
		t.Errorf("LastSeenAt = %v, want %v", snap[0].LastSeenAt, later)
	}
}

func TestTouch(t *testing.T) {
	tbl := NewTable()
	tbl.Register("op-1", addr(40001), base)

	later := base.Add(100 * time.Millisecond)
	if !tbl.Touch("op-1", addr(40003), later) {
		t.Fatal("Touch() = false for registered client")
	}
	snap := tbl.Snapshot()
	if snap[0].LastSeenAt != later || snap[0].Addr.Port != 40003 {
		t.Errorf("Touch did not refresh: seen %v addr %d", snap[0].LastSeenAt, snap[0].Addr.Port)
	}

	if tbl.Touch("ghost", addr(40004), later) {
		t.Error("Touch() = true for unknown client")
	}
	if tbl.Len() != 1 {
		t.Errorf("Touch of unknown client changed table size to %d", tbl.Len())
	}
}

func TestSnapshotKeepsRegistrationOrder(t *testing.T) {
	tbl := NewTable()
	tbl.Register("a", addr(1), base)
	tbl.Register("b", addr(2), base)
	tbl.Register("c", addr(3), base)

	if got := ids(tbl.Snapshot()); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("Snapshot order = %v", got)
	}

	tbl.Evict("b")
	tbl.Register("d", addr(4), base)
	if got := ids(tbl.Snapshot()); !reflect.DeepEqual(got, []string{"a", "c", "d"}) {
		t.Errorf("Snapshot order after evict = %v", got)
	}

	// Re-registering keeps the original slot.
	tbl.Register("a", addr(5), base.Add(time.Second))
	if got := ids(tbl.Snapshot()); !reflect.DeepEqual(got, []string{"a", "c", "d"}) {
		t.Errorf("Snapshot order after re-register = %v", got)
	}
}

func TestEvict(t *testing.T) {
	tbl := NewTable()
	tbl.Register("a", addr(1), base)

	if !tbl.Evict("a") {
		t.Error("Evict() = false for registered client")
	}
	if tbl.Evict("a") {
		t.Error("Evict() = true for already evicted client")
	}
	if !tbl.IsEmpty() {
		t.Error("table not empty after eviction")
	}
}

func TestEvictExpired(t *testing.T) {
	timeout := 250 * time.Millisecond
	tbl := NewTable()
	tbl.Register("stale-1", addr(1), base)
	tbl.Register("live", addr(2), base)
	tbl.Register("stale-2", addr(3), base)

	now := base.Add(300 * time.Millisecond)
	tbl.Touch("live", addr(2), now.Add(-50*time.Millisecond))

	evicted := tbl.EvictExpired(now, timeout)
	if !reflect.DeepEqual(evicted, []string{"stale-1", "stale-2"}) {
		t.Errorf("EvictExpired() = %v", evicted)
	}
	if got := ids(tbl.Snapshot()); !reflect.DeepEqual(got, []string{"live"}) {
		t.Errorf("survivors = %v", got)
	}

	if evicted := tbl.EvictExpired(now, timeout); len(evicted) != 0 {
		t.Errorf("second EvictExpired() = %v, want none", evicted)
	}
}

func TestEvictExpiredBoundary(t *testing.T) {
	// Exactly timeout-old sessions stay; eviction requires strictly older.
	timeout := 250 * time.Millisecond
	tbl := NewTable()
	tbl.Register("edge", addr(1), base)

	now := base.Add(timeout)
	if evicted := tbl.EvictExpired(now, timeout); len(evicted) != 0 {
		t.Errorf("EvictExpired at exact timeout evicted %v", evicted)
	}
	if evicted := tbl.EvictExpired(now.Add(time.Millisecond), timeout); len(evicted) != 1 {
		t.Errorf("EvictExpired past timeout evicted %v", evicted)
	}
}

func TestHasLiveAuthorized(t *testing.T) {
	timeout := 250 * time.Millisecond
	tbl := NewTable()

	if tbl.HasLiveAuthorized(base, timeout) {
		t.Error("empty table reported a live session")
	}

	tbl.Register("op-1", addr(1), base)
	if !tbl.HasLiveAuthorized(base.Add(timeout), timeout) {
		t.Error("session at exact timeout age not considered live")
	}
	if tbl.HasLiveAuthorized(base.Add(timeout+time.Millisecond), timeout) {
		t.Error("stale session considered live")
	}
}
