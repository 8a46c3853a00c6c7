package backend

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/AdarWa/DSControl/pkg/protocol"
)

// Simulation is a log-only backend for running the host without a driver
// station attached. Every action succeeds.
type Simulation struct {
	log zerolog.Logger
}

// NewSimulation returns a simulation backend logging through log.
func NewSimulation(log zerolog.Logger) *Simulation {
	return &Simulation{log: log.With().Str("backend", "simulation").Logger()}
}

// Apply logs the action and reports success. The watchdog repeats Disable
// on every sweep, so this logs at debug to keep the info log readable.
func (s *Simulation) Apply(action protocol.Action) Result {
	s.log.Debug().Str("action", action.String()).Msg("simulated actuation")
	return Result{Success: true, Message: fmt.Sprintf("%s simulated (simulation backend)", action)}
}

// Close is a no-op.
func (s *Simulation) Close() error { return nil }
