// Package backend provides the actuation capability behind the command
// arbiter: the thing that actually enables, disables or e-stops the device.
package backend

import "github.com/AdarWa/DSControl/pkg/protocol"

// Result reports one actuation attempt.
type Result struct {
	Success bool
	Message string
}

// ActuationBackend applies a control action to the device. Apply must return
// promptly; implementations own their timeouts and report failures through
// the Result instead of blocking the caller.
type ActuationBackend interface {
	Apply(action protocol.Action) Result
	Close() error
}
