// Package signal implements the client side of the room signaling channel:
// a WebSocket connection carrying JSON-framed control messages, with the
// bearer token passed as a query parameter since the channel cannot carry
// custom headers at connect time.
package signal

import (
	"encoding/json"

	"github.com/crisjonblvx/stoop/internal/domain"
)

// MessageType discriminates signaling envelopes.
type MessageType string

const (
	MsgUserJoined   MessageType = "user_joined"
	MsgUserLeft     MessageType = "user_left"
	MsgWebRTCSignal MessageType = "webrtc_signal"
	MsgMicStatus    MessageType = "mic_status"
)

// SignalType discriminates webrtc_signal payloads.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "ice_candidate"
)

// Envelope is the single JSON frame exchanged on the signaling channel.
// UserID is the originating identity; the relay stamps it on every message
// it forwards, which is what makes the ignore-self rule decidable.
//
// SignalData is opaque here: a session description or an ICE candidate,
// passed through unmodified.
type Envelope struct {
	Type         MessageType     `json:"type"`
	UserID       domain.UserID   `json:"user_id,omitempty"`
	Username     string          `json:"username,omitempty"`
	Name         string          `json:"name,omitempty"`
	TargetUserID domain.UserID   `json:"target_user_id,omitempty"`
	SignalType   SignalType      `json:"signal_type,omitempty"`
	SignalData   json.RawMessage `json:"signal_data,omitempty"`
	IsMuted      *bool           `json:"is_muted,omitempty"`
}

// NewSignal builds a point-to-point negotiation envelope for target.
func NewSignal(target domain.UserID, st SignalType, data json.RawMessage) *Envelope {
	return &Envelope{
		Type:         MsgWebRTCSignal,
		TargetUserID: target,
		SignalType:   st,
		SignalData:   data,
	}
}

// NewMicStatus builds the broadcast mic-state envelope. Receivers update
// their projection only; no renegotiation happens on either side.
func NewMicStatus(muted bool) *Envelope {
	return &Envelope{Type: MsgMicStatus, IsMuted: &muted}
}

// Muted reads the is_muted field, defaulting to muted when absent.
func (e *Envelope) Muted() bool {
	if e.IsMuted == nil {
		return true
	}
	return *e.IsMuted
}
