package client

import "errors"

var (
	// ErrServerUnreachable means every hello attempt went unanswered.
	ErrServerUnreachable = errors.New("dscontrol: server unreachable")

	// ErrAckTimeout means a command's outcome never showed up in the
	// status feed.
	ErrAckTimeout = errors.New("dscontrol: command acknowledgement timed out")

	// ErrServerError wraps an ERROR frame received from the host.
	ErrServerError = errors.New("dscontrol: server error")
)
