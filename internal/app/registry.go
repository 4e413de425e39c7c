// Package app holds the mesh's shared application state.
package app

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/core"
	"github.com/crisjonblvx/stoop/internal/domain"
)

// Peer is one registry entry: a remote participant and its connection.
// Gen changes whenever the link is replaced; asynchronous completions carry
// the gen they were started under and are dropped when it no longer matches,
// which is what guards against acting on a torn-down connection.
type Peer struct {
	Part *domain.Participant
	Link core.Link
	Gen  uint64

	// PendingSince is set while the link is mid-negotiation; zero otherwise.
	// The mesh fails links stuck here past the negotiation timeout.
	PendingSince time.Time
}

// Registry maps remote identity to its single peer entry. The mesh
// controller's event loop is the only writer; the read lock exists for the
// projection, which other goroutines recompute on demand.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.UserID]*Peer
	gen   uint64
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.UserID]*Peer)}
}

// NextGen mints a fresh generation for a new or rebuilt link.
func (r *Registry) NextGen() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	return r.gen
}

func (r *Registry) Put(id domain.UserID, p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[id] = p
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("peer bound")
}

func (r *Registry) Get(id domain.UserID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Same reports whether id is still present with the given link generation.
func (r *Registry) Same(id domain.UserID, gen uint64) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok || p.Gen != gen {
		return nil, false
	}
	return p, true
}

func (r *Registry) Remove(id domain.UserID) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
		log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("peer removed")
	}
	return p, ok
}

// Drain removes and returns every entry, for whole-room teardown.
func (r *Registry) Drain() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		out = append(out, p)
		delete(r.peers, id)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns the entries ordered by identity for stable iteration.
func (r *Registry) Snapshot() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Part.User.ID < out[j].Part.User.ID
	})
	return out
}

// Update mutates one entry under the write lock, so readers of Statuses
// never observe a half-written peer. No-op when id is absent.
func (r *Registry) Update(id domain.UserID, fn func(*Peer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[id]; ok {
		fn(p)
	}
}

// Statuses builds the read-only per-peer view for the projection, ordered
// by identity.
func (r *Registry) Statuses() []core.PeerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.PeerStatus, 0, len(r.peers))
	for id, p := range r.peers {
		st := core.StateClosed
		if p.Link != nil {
			st = p.Link.State()
		}
		out = append(out, core.PeerStatus{
			ID:       id,
			Username: p.Part.User.Username,
			Name:     p.Part.User.DisplayName(),
			Muted:    p.Part.Muted,
			State:    st,
			StateStr: st.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the current key set, ordered.
func (r *Registry) IDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
