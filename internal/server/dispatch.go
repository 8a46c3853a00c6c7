package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/AdarWa/DSControl/pkg/protocol"
)

// helloRequiredReason is the ERROR reason sent when a heartbeat or command
// arrives from a client id with no registered session.
const helloRequiredReason = "hello required"

// outbound is a composed datagram waiting to leave. Handlers build frames
// under the state lock; the loops send them after it is released.
type outbound struct {
	data []byte
	addr *net.UDPAddr
}

// dispatchLoop reads datagrams until the context ends. Reads run with a
// short deadline so the loop observes shutdown while idle. Any read error
// other than deadline expiry is fatal: the socket is the only control
// surface, losing it shuts the host down.
func (s *Server) dispatchLoop(ctx context.Context, cancel context.CancelFunc) {
	defer s.wg.Done()
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		if ctx.Err() != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("socket read failed")
			s.setFatal(fmt.Errorf("read udp: %w", err))
			cancel()
			return
		}
		for _, out := range s.handleDatagram(buf[:n], addr) {
			s.send(out.data, out.addr)
		}
	}
}

// handleDatagram decodes and applies one datagram, returning the frames to
// send in response. A datagram never takes the server down: malformed
// input earns an ERROR reply and the loop moves on.
func (s *Server) handleDatagram(data []byte, addr *net.UDPAddr) []outbound {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.log.Warn().Err(err).Str("from", addr.String()).Msg("dropping undecodable datagram")
		return s.errorReply(addr, err.Error())
	}

	switch m := msg.(type) {
	case *protocol.Hello:
		return s.handleHello(m, addr)
	case *protocol.Heartbeat:
		return s.handleHeartbeat(m, addr)
	case *protocol.Command:
		return s.handleCommand(m, addr)
	case *protocol.Status:
		// Status frames flow host to client only.
		s.log.Debug().Str("from", addr.String()).Msg("ignoring status frame from peer")
		return nil
	case *protocol.Error:
		s.log.Warn().Str("from", addr.String()).Str("reason", m.Reason).Msg("peer reported error")
		return nil
	default:
		s.log.Warn().Str("from", addr.String()).Msg("unhandled message kind")
		return nil
	}
}

// handleHello registers or refreshes the session and answers with a
// unicast status frame so the client sees the device state immediately.
func (s *Server) handleHello(m *protocol.Hello, addr *net.UDPAddr) []outbound {
	now := s.clk.Now()
	s.mu.Lock()
	_, created := s.table.Register(m.ClientID, addr, now)
	reply := s.encodeStatusLocked()
	s.mu.Unlock()

	if created {
		s.log.Info().Str("client", m.ClientID).Str("addr", addr.String()).Msg("client registered")
	} else {
		s.log.Info().Str("client", m.ClientID).Str("addr", addr.String()).Msg("hello refreshed existing session")
	}
	if reply == nil {
		return nil
	}
	return []outbound{{data: reply, addr: addr}}
}

func (s *Server) handleHeartbeat(m *protocol.Heartbeat, addr *net.UDPAddr) []outbound {
	now := s.clk.Now()
	s.mu.Lock()
	known := s.table.Touch(m.ClientID, addr, now)
	s.mu.Unlock()

	if !known {
		s.log.Warn().Str("client", m.ClientID).Str("addr", addr.String()).Msg("heartbeat from unknown client")
		return s.errorReply(addr, helloRequiredReason)
	}
	return nil
}

// handleCommand refreshes the issuer's session, runs the command through
// the arbiter and broadcasts the resulting status right away instead of
// waiting for the next periodic beat.
func (s *Server) handleCommand(m *protocol.Command, addr *net.UDPAddr) []outbound {
	now := s.clk.Now()
	s.mu.Lock()
	if !s.table.Touch(m.ClientID, addr, now) {
		s.mu.Unlock()
		s.log.Warn().Str("client", m.ClientID).Str("action", m.Action.String()).Msg("command from unknown client")
		return s.errorReply(addr, helloRequiredReason)
	}
	s.arb.Apply(m.Action, m.ClientID)
	outs := s.broadcastLocked()
	s.mu.Unlock()
	return outs
}

// errorReply composes a single ERROR frame addressed to addr.
func (s *Server) errorReply(addr *net.UDPAddr, reason string) []outbound {
	data, err := protocol.Encode(&protocol.Error{Reason: reason})
	if err != nil {
		s.log.Error().Err(err).Msg("encode error frame")
		return nil
	}
	return []outbound{{data: data, addr: addr}}
}
