package mesh

import "github.com/crisjonblvx/stoop/internal/core"

// Snapshot recomputes the room projection from live state. Nothing is
// cached, so a stale view is impossible by construction.
func (c *Controller) Snapshot() core.RoomState {
	return core.RoomState{
		Room:         c.cfg.Room,
		Connected:    c.isConnected(),
		LocalMuted:   !c.deps.Media.Capturing(),
		Participants: c.reg.Statuses(),
	}
}

// notify pushes a fresh projection to the subscriber, if any. Called by the
// loop after every mutating event.
func (c *Controller) notify() {
	if c.deps.OnUpdate != nil {
		c.deps.OnUpdate(c.Snapshot())
	}
}
