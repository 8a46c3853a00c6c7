package client

import (
	"context"
	"fmt"

	"github.com/AdarWa/DSControl/pkg/protocol"
)

// ExecuteOnce connects, issues a single command and reports the outcome
// the host recorded for it, then tears the session down. The ack window
// equals the status timeout; a rejected command is not an error here, the
// caller reads the outcome's Success field.
func ExecuteOnce(ctx context.Context, cfg Config, action protocol.Action, opts ...Option) (protocol.CommandOutcome, error) {
	statusCh := make(chan protocol.Status, 8)
	errCh := make(chan string, 4)
	// Dropped frames are fine: every later status repeats the record.
	opts = append(opts,
		WithStatusHandler(func(st protocol.Status) {
			select {
			case statusCh <- st:
			default:
			}
		}),
		WithErrorHandler(func(reason string) {
			select {
			case errCh <- reason:
			default:
			}
		}),
	)

	c, err := New(cfg, opts...)
	if err != nil {
		return protocol.CommandOutcome{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	// The first status doubles as the connect signal and as the baseline
	// to tell our outcome apart from whatever record came before it.
	var baseline *protocol.CommandOutcome
	select {
	case <-ctx.Done():
		return protocol.CommandOutcome{}, ctx.Err()
	case st := <-statusCh:
		baseline = st.LastCommand
	case reason := <-errCh:
		return protocol.CommandOutcome{}, fmt.Errorf("%w: %s", ErrServerError, reason)
	case err := <-runErr:
		if err == nil {
			// Run returns nil only on cancellation.
			err = ctx.Err()
		}
		return protocol.CommandOutcome{}, err
	}

	if err := c.SendCommand(action); err != nil {
		return protocol.CommandOutcome{}, err
	}

	ack := c.clk.Timer(cfg.StatusTimeout)
	defer ack.Stop()
	for {
		select {
		case <-ctx.Done():
			return protocol.CommandOutcome{}, ctx.Err()
		case st := <-statusCh:
			rec := st.LastCommand
			if rec == nil || (baseline != nil && *rec == *baseline) {
				continue
			}
			if rec.IssuerID == cfg.ClientID && rec.Action == action {
				return *rec, nil
			}
			// Someone else's command landed first; keep waiting.
		case reason := <-errCh:
			return protocol.CommandOutcome{}, fmt.Errorf("%w: %s", ErrServerError, reason)
		case err := <-runErr:
			if err == nil {
				err = ctx.Err()
			}
			return protocol.CommandOutcome{}, err
		case <-ack.C:
			return protocol.CommandOutcome{}, ErrAckTimeout
		}
	}
}
