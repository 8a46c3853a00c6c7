package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType tags a wire message.
type MessageType string

const (
	TypeHello     MessageType = "HELLO"
	TypeHeartbeat MessageType = "HEARTBEAT"
	TypeCommand   MessageType = "COMMAND"
	TypeStatus    MessageType = "STATUS"
	TypeError     MessageType = "ERROR"
)

// Action is a control request a terminal can issue against the device.
type Action int

const (
	Enable Action = iota
	Disable
	EStop
)

var actionNames = map[Action]string{
	Enable:  "enable",
	Disable: "disable",
	EStop:   "estop",
}

var actionFromName = map[string]Action{
	"enable":  Enable,
	"disable": Disable,
	"estop":   EStop,
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

// ParseAction maps a wire/CLI action name to its Action.
func ParseAction(s string) (Action, error) {
	a, ok := actionFromName[s]
	if !ok {
		return 0, fmt.Errorf("%w: action %q", ErrMalformedMessage, s)
	}
	return a, nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	s, ok := actionNames[a]
	if !ok {
		return nil, fmt.Errorf("%w: action %d", ErrMalformedMessage, int(a))
	}
	return json.Marshal(s)
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: action: %v", ErrMalformedMessage, err)
	}
	v, ok := actionFromName[s]
	if !ok {
		return fmt.Errorf("%w: action %q", ErrMalformedMessage, s)
	}
	*a = v
	return nil
}

// RobotState is the three-valued safety state of the controlled device.
// The zero value is Disabled, the safe state.
type RobotState int

const (
	Disabled RobotState = iota
	Enabled
	EStopped
)

var robotStateNames = map[RobotState]string{
	Disabled: "disabled",
	Enabled:  "enabled",
	EStopped: "estopped",
}

var robotStateFromName = map[string]RobotState{
	"disabled": Disabled,
	"enabled":  Enabled,
	"estopped": EStopped,
}

func (s RobotState) String() string {
	if n, ok := robotStateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s RobotState) MarshalJSON() ([]byte, error) {
	n, ok := robotStateNames[s]
	if !ok {
		return nil, fmt.Errorf("%w: state %d", ErrMalformedMessage, int(s))
	}
	return json.Marshal(n)
}

func (s *RobotState) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: state: %v", ErrMalformedMessage, err)
	}
	v, ok := robotStateFromName[n]
	if !ok {
		return fmt.Errorf("%w: state %q", ErrMalformedMessage, n)
	}
	*s = v
	return nil
}

// Message is one of the five wire message kinds.
type Message interface {
	Kind() MessageType
}

// Hello registers a terminal with the host.
type Hello struct {
	ClientID string `json:"clientId"`
}

// Heartbeat keeps a registered terminal's session alive. Sequence increases
// by one per heartbeat sent.
type Heartbeat struct {
	ClientID string `json:"clientId"`
	Sequence uint64 `json:"sequence"`
}

// Command requests a state change on the controlled device.
type Command struct {
	ClientID string `json:"clientId"`
	Action   Action `json:"action"`
}

// CommandOutcome describes the most recent command attempt, successful or
// not, as carried inside a Status frame. Timestamp is Unix milliseconds.
type CommandOutcome struct {
	IssuerID  string `json:"issuerId"`
	Action    Action `json:"action"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Status is the host's report to every registered terminal. LastCommand is
// nil until a first command attempt exists.
type Status struct {
	State           RobotState      `json:"state"`
	LastCommand     *CommandOutcome `json:"lastCommand,omitempty"`
	ActiveClientIDs []string        `json:"activeClientIds"`
}

// Clone returns a deep copy, so callers can hold the status without
// racing whoever produced it.
func (s *Status) Clone() *Status {
	if s == nil {
		return nil
	}
	out := &Status{State: s.State}
	if s.LastCommand != nil {
		rec := *s.LastCommand
		out.LastCommand = &rec
	}
	if s.ActiveClientIDs != nil {
		out.ActiveClientIDs = append([]string(nil), s.ActiveClientIDs...)
	}
	return out
}

// Error reports a rejected or unintelligible datagram to its sender.
type Error struct {
	Reason string `json:"reason"`
}

func (*Hello) Kind() MessageType     { return TypeHello }
func (*Heartbeat) Kind() MessageType { return TypeHeartbeat }
func (*Command) Kind() MessageType   { return TypeCommand }
func (*Status) Kind() MessageType    { return TypeStatus }
func (*Error) Kind() MessageType     { return TypeError }
