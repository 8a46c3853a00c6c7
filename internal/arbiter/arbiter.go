// Package arbiter owns the device safety state and the rules for changing it.
package arbiter

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/AdarWa/DSControl/internal/backend"
	"github.com/AdarWa/DSControl/pkg/protocol"
)

// WatchdogIssuer marks command records created by the fail-safe watchdog
// rather than an operator terminal.
const WatchdogIssuer = "watchdog"

const rejectedMessage = "rejected: invalid transition"

// CommandRecord is the most recent command attempt, successful or not. It is
// overwritten on every Apply call regardless of outcome.
type CommandRecord struct {
	IssuerID  string
	Action    protocol.Action
	AppliedAt time.Time
	Success   bool
	Message   string
}

// Outcome converts the record to its wire form.
func (r CommandRecord) Outcome() *protocol.CommandOutcome {
	return &protocol.CommandOutcome{
		IssuerID:  r.IssuerID,
		Action:    r.Action,
		Success:   r.Success,
		Message:   r.Message,
		Timestamp: r.AppliedAt.UnixMilli(),
	}
}

// Arbiter guards every mutation of the device state. Like the session table
// it carries no lock of its own; the owning server serializes access.
type Arbiter struct {
	log     zerolog.Logger
	clk     clock.Clock
	backend backend.ActuationBackend

	state protocol.RobotState
	last  *CommandRecord
}

// New returns an arbiter starting in the Disabled state.
func New(b backend.ActuationBackend, log zerolog.Logger, clk clock.Clock) *Arbiter {
	return &Arbiter{
		log:     log.With().Str("component", "arbiter").Logger(),
		clk:     clk,
		backend: b,
		state:   protocol.Disabled,
	}
}

// State returns the current device state.
func (a *Arbiter) State() protocol.RobotState { return a.state }

// LastCommand returns a copy of the most recent command attempt, or nil
// before the first one.
func (a *Arbiter) LastCommand() *CommandRecord {
	if a.last == nil {
		return nil
	}
	rec := *a.last
	return &rec
}

// Apply runs one command through the transition guard and, when accepted,
// the actuation backend. Enable is rejected while the device is e-stopped;
// Disable and EStop are accepted from every state. The device state changes
// only when the backend reports success.
func (a *Arbiter) Apply(action protocol.Action, issuerID string) CommandRecord {
	rec := CommandRecord{IssuerID: issuerID, Action: action, AppliedAt: a.clk.Now()}

	if action == protocol.Enable && a.state == protocol.EStopped {
		rec.Message = rejectedMessage
		a.last = &rec
		a.log.Warn().Str("issuer", issuerID).Str("action", action.String()).
			Str("state", a.state.String()).Msg("command rejected")
		return rec
	}

	res := a.backend.Apply(action)
	rec.Success = res.Success
	rec.Message = res.Message
	if res.Success {
		// The watchdog re-asserts Disable on every sweep with no live
		// session; keep the steady-state repeats out of the info log.
		repeat := issuerID == WatchdogIssuer && action == protocol.Disable && a.state == protocol.Disabled
		a.state = stateAfter(action)
		evt := a.log.Info()
		if repeat {
			evt = a.log.Debug()
		}
		evt.Str("issuer", issuerID).Str("action", action.String()).
			Str("state", a.state.String()).Msg("command applied")
	} else {
		a.log.Warn().Str("issuer", issuerID).Str("action", action.String()).
			Str("message", res.Message).Msg("command failed")
	}
	a.last = &rec
	return rec
}

func stateAfter(action protocol.Action) protocol.RobotState {
	switch action {
	case protocol.Enable:
		return protocol.Enabled
	case protocol.EStop:
		return protocol.EStopped
	default:
		return protocol.Disabled
	}
}
