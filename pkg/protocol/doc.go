// Package protocol defines the datagram wire format shared by the dscontrol
// host and its operator terminals.
//
// Every message is a single UTF-8 JSON object carrying a mandatory "type"
// field naming one of the five kinds: HELLO, HEARTBEAT, COMMAND, STATUS and
// ERROR. Encode and Decode are inverses for every valid message, so frames
// can be relayed or logged without loss.
package protocol
