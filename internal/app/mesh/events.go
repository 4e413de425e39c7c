package mesh

import (
	"github.com/pion/webrtc/v4"

	"github.com/crisjonblvx/stoop/internal/adapters/signal"
	"github.com/crisjonblvx/stoop/internal/core"
	"github.com/crisjonblvx/stoop/internal/domain"
)

// loopEvent is anything the event loop consumes. Commands and asynchronous
// completions all arrive through the same channel so no two transitions
// interleave.
type loopEvent interface{ isLoopEvent() }

// cmdToggleMute flips the microphone; reply carries the acquire error, if any.
type cmdToggleMute struct{ reply chan error }

// cmdLeave requests the single teardown sequence.
type cmdLeave struct{ reply chan struct{} }

// evMediaState reports a capturing transition from the media source. The
// loop answers it with a mic_status broadcast.
type evMediaState struct{ capturing bool }

// evMediaAcquired completes an asynchronous device acquire.
type evMediaAcquired struct {
	track webrtc.TrackLocal
	err   error
	reply chan error
}

// evLocalSDP completes an asynchronous offer or answer build for one peer.
// gen pins the link generation the build was started under.
type evLocalSDP struct {
	id   domain.UserID
	gen  uint64
	kind signal.SignalType
	sd   webrtc.SessionDescription
	err  error
}

// evLocalCandidate carries a locally gathered ICE candidate to forward.
type evLocalCandidate struct {
	id   domain.UserID
	gen  uint64
	cand webrtc.ICECandidateInit
}

// evLinkState reports a connection-state callback from a link.
type evLinkState struct {
	id    domain.UserID
	gen   uint64
	state core.NegotiationState
}

// evReconnect fires when the fixed reconnect delay elapses.
type evReconnect struct{}

// evDialed completes an asynchronous reconnect dial.
type evDialed struct {
	tr  Transport
	err error
}

func (cmdToggleMute) isLoopEvent()   {}
func (cmdLeave) isLoopEvent()        {}
func (evMediaState) isLoopEvent()    {}
func (evMediaAcquired) isLoopEvent() {}
func (evLocalSDP) isLoopEvent()      {}
func (evLocalCandidate) isLoopEvent() {}
func (evLinkState) isLoopEvent()     {}
func (evReconnect) isLoopEvent()     {}
func (evDialed) isLoopEvent()        {}
