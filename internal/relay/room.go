package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/domain"
)

// member binds an identity to its live connection.
type member struct {
	user *domain.User
	conn *memberConn
}

// room is a threadsafe in-memory membership set. It never closes
// connections; the signal handler owns those.
type room struct {
	id domain.RoomID

	mu      sync.RWMutex
	members map[domain.UserID]*member
}

func newRoom(id domain.RoomID) *room {
	return &room{id: id, members: make(map[domain.UserID]*member)}
}

// add inserts the member and returns the membership as it was just before,
// both under one lock. Callers replay that view to the newcomer and announce
// the newcomer to it; splitting those reads from the insert lets two
// simultaneous joiners each miss the other.
func (r *room) add(m *member) []*member {
	r.mu.Lock()
	defer r.mu.Unlock()
	prior := make([]*member, 0, len(r.members))
	for _, x := range r.members {
		prior = append(prior, x)
	}
	r.members[m.user.ID] = m
	log.Info().Str("module", "relay.room").Str("room", string(r.id)).
		Str("user", string(m.user.ID)).Msg("member added")
	return prior
}

func (r *room) remove(id domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	log.Info().Str("module", "relay.room").Str("room", string(r.id)).
		Str("user", string(id)).Msg("member removed")
}

func (r *room) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members) == 0
}

func (r *room) snapshot() []*member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

// broadcast fans data out to every member except from. Backpressured
// members are skipped; signaling frames are droppable by design.
func (r *room) broadcast(from domain.UserID, data []byte) {
	for _, m := range r.snapshot() {
		if m.user.ID == from {
			continue
		}
		if err := m.conn.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "relay.room").
				Str("user", string(m.user.ID)).Msg("broadcast drop")
		}
	}
}

// sendTo routes data to one member. Unknown targets are dropped quietly;
// the peer may have just left.
func (r *room) sendTo(target domain.UserID, data []byte) {
	r.mu.RLock()
	m, ok := r.members[target]
	r.mu.RUnlock()
	if !ok {
		log.Debug().Str("module", "relay.room").Str("target", string(target)).Msg("no such target")
		return
	}
	if err := m.conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay.room").
			Str("user", string(target)).Msg("direct send drop")
	}
}
