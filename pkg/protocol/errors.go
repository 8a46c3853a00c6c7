package protocol

import "errors"

// Decode failures wrap one of these sentinels and can be checked with
// errors.Is.
var (
	// ErrMalformedMessage is returned when a datagram is not a valid JSON
	// object or lacks a required field.
	ErrMalformedMessage = errors.New("dscontrol: malformed message")

	// ErrUnknownType is returned when the type field names none of the five
	// message kinds.
	ErrUnknownType = errors.New("dscontrol: unknown message type")
)
