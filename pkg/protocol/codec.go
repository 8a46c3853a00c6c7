package protocol

import (
	"encoding/json"
	"fmt"
)

// MaxDatagramSize is the receive buffer size for protocol sockets. Every
// valid wire message fits well within it.
const MaxDatagramSize = 2048

// Encode renders m as a single JSON object carrying its type tag.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case *Hello:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Hello
		}{TypeHello, v})
	case *Heartbeat:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Heartbeat
		}{TypeHeartbeat, v})
	case *Command:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Command
		}{TypeCommand, v})
	case *Status:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Status
		}{TypeStatus, v})
	case *Error:
		return json.Marshal(struct {
			Type MessageType `json:"type"`
			*Error
		}{TypeError, v})
	case nil:
		return nil, fmt.Errorf("%w: nil message", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
}

// Decode parses one datagram into its message. Errors wrap
// ErrMalformedMessage or ErrUnknownType.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch head.Type {
	case TypeHello:
		return decodeHello(data)
	case TypeHeartbeat:
		return decodeHeartbeat(data)
	case TypeCommand:
		return decodeCommand(data)
	case TypeStatus:
		return decodeStatus(data)
	case TypeError:
		return decodeError(data)
	case "":
		return nil, fmt.Errorf("%w: missing type field", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}

func decodeHello(data []byte) (Message, error) {
	var m Hello
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.ClientID == "" {
		return nil, fmt.Errorf("%w: clientId required", ErrMalformedMessage)
	}
	return &m, nil
}

func decodeHeartbeat(data []byte) (Message, error) {
	var raw struct {
		ClientID string  `json:"clientId"`
		Sequence *uint64 `json:"sequence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw.ClientID == "" {
		return nil, fmt.Errorf("%w: clientId required", ErrMalformedMessage)
	}
	if raw.Sequence == nil {
		return nil, fmt.Errorf("%w: sequence required", ErrMalformedMessage)
	}
	return &Heartbeat{ClientID: raw.ClientID, Sequence: *raw.Sequence}, nil
}

func decodeCommand(data []byte) (Message, error) {
	var raw struct {
		ClientID string  `json:"clientId"`
		Action   *Action `json:"action"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw.ClientID == "" {
		return nil, fmt.Errorf("%w: clientId required", ErrMalformedMessage)
	}
	if raw.Action == nil {
		return nil, fmt.Errorf("%w: action required", ErrMalformedMessage)
	}
	return &Command{ClientID: raw.ClientID, Action: *raw.Action}, nil
}

func decodeStatus(data []byte) (Message, error) {
	var raw struct {
		State           *RobotState     `json:"state"`
		LastCommand     *CommandOutcome `json:"lastCommand"`
		ActiveClientIDs []string        `json:"activeClientIds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw.State == nil {
		return nil, fmt.Errorf("%w: state required", ErrMalformedMessage)
	}
	return &Status{
		State:           *raw.State,
		LastCommand:     raw.LastCommand,
		ActiveClientIDs: raw.ActiveClientIDs,
	}, nil
}

func decodeError(data []byte) (Message, error) {
	var m Error
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Reason == "" {
		return nil, fmt.Errorf("%w: reason required", ErrMalformedMessage)
	}
	return &m, nil
}
