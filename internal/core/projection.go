package core

import "github.com/crisjonblvx/stoop/internal/domain"

// PeerStatus is a read-only view of one remote participant (no transport
// fields), for the UI layer.
type PeerStatus struct {
	ID       domain.UserID    `json:"id"`
	Username string           `json:"username"`
	Name     string           `json:"name"`
	Muted    bool             `json:"muted"`
	State    NegotiationState `json:"-"`
	StateStr string           `json:"connection_state"`
}

// RoomState is the derived projection surfaced to the UI. It is recomputed
// from live state on every request, never cached, so it cannot go stale.
type RoomState struct {
	Room         domain.RoomID `json:"room"`
	Connected    bool          `json:"connected"`
	LocalMuted   bool          `json:"local_muted"`
	Participants []PeerStatus  `json:"participants"`
}
