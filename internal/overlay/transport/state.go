package transport

import "fmt"

// ConnState is a connection's position in the per-connection state
// machine (spec §4.8 "State machine per connection"). Modeled on
// doublezero's liveness.State: a small uint8 enum with a String() method
// used only for logging.
type ConnState uint8

const (
	StateConnecting ConnState = iota
	StateAwaitingChallenge
	StateSendingChallenge
	StateAwaitingIdentification
	StateEstablished
	StateStreaming
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateSendingChallenge:
		return "sending_challenge"
	case StateAwaitingIdentification:
		return "awaiting_identification"
	case StateEstablished:
		return "established"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}
