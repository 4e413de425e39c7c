package core

// NegotiationState is the lifecycle of one peer connection. It only moves
// forward; Failed and Closed are reachable from anywhere, and a connection
// never regresses from Connected to an earlier state.
type NegotiationState int

const (
	StateNew NegotiationState = iota
	StateOfferSent
	StateOfferReceived
	StateAnswered
	StateConnected
	StateFailed
	StateClosed
)

func (s NegotiationState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswered:
		return "answered"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Pending reports whether the connection is mid-negotiation: created but not
// yet established, failed, or closed. Connections stuck here past the
// negotiation timeout are failed by the mesh controller.
func (s NegotiationState) Pending() bool {
	switch s {
	case StateOfferSent, StateOfferReceived, StateAnswered:
		return true
	}
	return false
}

// Terminal reports whether the connection can make no further progress.
func (s NegotiationState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}
