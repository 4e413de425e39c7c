// Package rtc wraps one pion PeerConnection per remote participant behind an
// explicit negotiation state machine. The browser-style implicit callback
// sequencing is replaced by tagged states so that ordering survives
// reconnects.
package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/core"
	"github.com/crisjonblvx/stoop/internal/domain"
)

// STUN-only ICE. No TURN relay is configured: peers behind symmetric NATs
// may fail to connect. Known limitation, not a bug to fix silently.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// DefaultConfig returns the PeerConnection configuration used for every link.
func DefaultConfig() webrtc.Configuration {
	return Config(nil)
}

// Config builds a PeerConnection configuration for the given STUN list,
// falling back to the built-in defaults when empty.
func Config(stun []string) webrtc.Configuration {
	if len(stun) == 0 {
		stun = stunServers
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: stun},
		},
	}
}

// peerConn is the slice of *webrtc.PeerConnection the link drives.
// Tests substitute a fake.
type peerConn interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(*webrtc.RTPSender) error
	OnICECandidate(func(*webrtc.ICECandidate))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	Close() error
}

// Link implements core.Link for a single remote participant.
//
// Remote ICE candidates arriving before the remote description are buffered
// and flushed in arrival order once it is applied.
type Link struct {
	id domain.UserID
	pc peerConn

	mu        sync.Mutex
	state     core.NegotiationState
	remoteSet bool
	buffered  []webrtc.ICECandidateInit
	sender    *webrtc.RTPSender

	onState func(core.NegotiationState)
}

var _ core.Link = (*Link)(nil)

// New creates a link backed by a fresh PeerConnection.
func New(id domain.UserID, cfg webrtc.Configuration) (*Link, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return newWith(id, pc), nil
}

func newWith(id domain.UserID, pc peerConn) *Link {
	l := &Link{id: id, pc: pc, state: core.StateNew}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(id)).
			Str("pc_state", s.String()).Msg("peer connection state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			l.setState(core.StateConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			l.setState(core.StateFailed)
		case webrtc.PeerConnectionStateClosed:
			l.setState(core.StateClosed)
		}
	})

	return l
}

func (l *Link) State() core.NegotiationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// setState enforces monotonicity: terminal states are sticky, and the state
// never moves backwards. Renegotiation of an established link therefore
// stays in connected rather than regressing to offer-sent.
func (l *Link) setState(s core.NegotiationState) {
	l.mu.Lock()
	if l.state.Terminal() || (s <= l.state && !s.Terminal()) {
		l.mu.Unlock()
		return
	}
	l.state = s
	fn := l.onState
	l.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

func (l *Link) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.setState(core.StateFailed)
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.setState(core.StateFailed)
		return webrtc.SessionDescription{}, err
	}
	l.setState(core.StateOfferSent)
	return offer, nil
}

func (l *Link) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	l.setState(core.StateOfferReceived)
	if err := l.applyRemote(offer); err != nil {
		l.setState(core.StateFailed)
		return webrtc.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		l.setState(core.StateFailed)
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		l.setState(core.StateFailed)
		return webrtc.SessionDescription{}, err
	}
	l.setState(core.StateAnswered)
	return answer, nil
}

func (l *Link) HandleAnswer(answer webrtc.SessionDescription) error {
	if err := l.applyRemote(answer); err != nil {
		l.setState(core.StateFailed)
		return err
	}
	// Connected pending ICE; the transport callback confirms it later.
	l.setState(core.StateConnected)
	return nil
}

// applyRemote sets the remote description and flushes candidates buffered
// before it, in their original arrival order.
func (l *Link) applyRemote(sd webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sd); err != nil {
		return err
	}

	l.mu.Lock()
	l.remoteSet = true
	flush := l.buffered
	l.buffered = nil
	l.mu.Unlock()

	for _, c := range flush {
		if err := l.pc.AddICECandidate(c); err != nil {
			// A single unusable candidate does not doom the link.
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(l.id)).
				Msg("buffered candidate rejected")
		}
	}
	return nil
}

func (l *Link) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.buffered = append(l.buffered, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(c)
}

func (l *Link) AttachTrack(track webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sender != nil {
		return nil
	}
	sender, err := l.pc.AddTrack(track)
	if err != nil {
		return err
	}
	l.sender = sender
	return nil
}

func (l *Link) DetachTrack() error {
	l.mu.Lock()
	sender := l.sender
	l.sender = nil
	l.mu.Unlock()
	if sender == nil {
		return nil
	}
	return l.pc.RemoveTrack(sender)
}

func (l *Link) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

func (l *Link) OnStateChange(fn func(core.NegotiationState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
}

func (l *Link) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	l.pc.OnTrack(fn)
}

func (l *Link) Close() {
	l.setState(core.StateClosed)
	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(l.id)).Msg("close error")
	}
}
