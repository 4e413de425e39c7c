// Package core defines the interfaces between the mesh controller and its
// adapters. It owns no transport or media resources itself.
package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Link is the negotiated audio connection to a single remote participant.
// Owned exclusively by the registry entry for that participant; never shared.
//
// The SDP-building methods may suspend; callers re-check that the target
// entry still exists after resuming, because a user_left may have torn the
// link down in the meantime.
type Link interface {
	State() NegotiationState

	// CreateOffer builds an offer and applies it as the local description.
	// Moves the link to offer-sent.
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	// HandleOffer applies a remote offer, builds the answer and applies it
	// as the local description. Moves the link to answered.
	HandleOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// HandleAnswer applies a remote answer. Moves the link to connected,
	// pending ICE.
	HandleAnswer(answer webrtc.SessionDescription) error
	// AddRemoteCandidate applies a candidate, or buffers it when the remote
	// description is not yet set. Buffered candidates are flushed in arrival
	// order once it is.
	AddRemoteCandidate(webrtc.ICECandidateInit) error

	// AttachTrack adds the shared local track for sending. At most one
	// outbound track per link.
	AttachTrack(webrtc.TrackLocal) error
	// DetachTrack removes the outbound track without renegotiating;
	// receivers simply stop getting audio. Idempotent.
	DetachTrack() error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(NegotiationState))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	// Close tears the link down. Idempotent.
	Close()
}

// CaptureDevice is the underlying audio input. The default implementation
// pumps Opus frames into a pion local track; tests inject a fake.
type CaptureDevice interface {
	Open(ctx context.Context) (webrtc.TrackLocal, error)
	Close() error
}

// MediaSource owns the capture device and the single shared outbound track.
// All links read the same track; only the mesh controller starts and stops it.
type MediaSource interface {
	Acquire(ctx context.Context) (webrtc.TrackLocal, error)
	Release()
	Capturing() bool
}
