package server

import (
	"context"

	"github.com/AdarWa/DSControl/pkg/protocol"
)

// statusLocked assembles the wire status from the arbiter state, the last
// command record and the live session set. Caller holds s.mu.
func (s *Server) statusLocked() *protocol.Status {
	snap := s.table.Snapshot()
	ids := make([]string, 0, len(snap))
	for _, sess := range snap {
		ids = append(ids, sess.ClientID)
	}
	st := &protocol.Status{State: s.arb.State(), ActiveClientIDs: ids}
	if rec := s.arb.LastCommand(); rec != nil {
		st.LastCommand = rec.Outcome()
	}
	return st
}

func (s *Server) encodeStatusLocked() []byte {
	data, err := protocol.Encode(s.statusLocked())
	if err != nil {
		s.log.Error().Err(err).Msg("encode status frame")
		return nil
	}
	return data
}

// broadcastLocked composes one status frame addressed to every live
// session. With nobody connected it sends nothing and logs at most once
// per throttle window. Caller holds s.mu.
func (s *Server) broadcastLocked() []outbound {
	if s.table.IsEmpty() {
		if now := s.clk.Now(); !now.Before(s.noClientLogAt) {
			s.log.Debug().Msg("no clients connected, skipping status broadcast")
			s.noClientLogAt = now.Add(s.cfg.NoClientLogEvery)
		}
		return nil
	}
	data := s.encodeStatusLocked()
	if data == nil {
		return nil
	}
	snap := s.table.Snapshot()
	outs := make([]outbound, 0, len(snap))
	for _, sess := range snap {
		outs = append(outs, outbound{data: data, addr: sess.Addr})
	}
	return outs
}

// statusTick is one broadcaster beat. The sweep runs first so a frame
// never reports a stale enabled state the watchdog was due to clear.
func (s *Server) statusTick() []outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return s.broadcastLocked()
}

// schedulerLoop multiplexes the watchdog and broadcast timers on a single
// goroutine so their effects interleave deterministically.
func (s *Server) schedulerLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.watchdogTicker.C:
			s.watchdogTick()
		case <-s.statusTicker.C:
			for _, out := range s.statusTick() {
				s.send(out.data, out.addr)
			}
		}
	}
}
