package server

import (
	"github.com/AdarWa/DSControl/internal/arbiter"
	"github.com/AdarWa/DSControl/pkg/protocol"
)

// sweepLocked evicts sessions whose heartbeats have gone stale and, when
// no live authorized session remains, commands Disable as the watchdog.
// The disable is issued even when the device is already disabled; the
// arbiter treats it as an idempotent re-assertion of the safe state.
// Caller holds s.mu.
func (s *Server) sweepLocked() {
	now := s.clk.Now()
	for _, id := range s.table.EvictExpired(now, s.cfg.HeartbeatTimeout) {
		s.log.Warn().Str("client", id).
			Dur("timeout", s.cfg.HeartbeatTimeout).
			Msg("heartbeat timeout, session evicted")
	}
	if !s.table.HasLiveAuthorized(now, s.cfg.HeartbeatTimeout) {
		s.arb.Apply(protocol.Disable, arbiter.WatchdogIssuer)
	}
}

// watchdogTick runs one sweep under the state lock.
func (s *Server) watchdogTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
}
