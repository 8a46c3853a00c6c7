package protocol

import "time"

// Defaults shared by host and terminal. All of them are configurable; the
// watchdog tick must stay at or below half the heartbeat timeout so detection
// latency stays bounded.
const (
	DefaultPort             = 8750
	DefaultHeartbeatPeriod  = 100 * time.Millisecond
	DefaultHeartbeatTimeout = 250 * time.Millisecond
	DefaultWatchdogTick     = 50 * time.Millisecond
	DefaultStatusPeriod     = 100 * time.Millisecond
)
