package mesh

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/adapters/signal"
	"github.com/crisjonblvx/stoop/internal/app"
	"github.com/crisjonblvx/stoop/internal/core"
	"github.com/crisjonblvx/stoop/internal/domain"
)

// handleJoined creates the registry entry for a newcomer. The side that
// observes the join is the offering side, but only once it has live media;
// otherwise the link idles in new until the mic starts.
func (c *Controller) handleJoined(ctx context.Context, env *signal.Envelope) {
	id := env.UserID
	if _, ok := c.reg.Get(id); ok {
		// rejoin without an observed leave: never resurrect the stale link
		c.closePeer(id)
	}

	user, err := domain.NewUser(id, env.Username, env.Name)
	if err != nil {
		user = &domain.User{ID: id, Username: string(id)}
	}
	p := c.bindPeer(domain.NewParticipant(user))

	log.Info().Str("module", "mesh").Str("peer", string(id)).
		Str("username", user.Username).Msg("participant joined")

	if c.deps.Media.Capturing() {
		track, err := c.deps.Media.Acquire(ctx)
		if err == nil {
			c.attachAndOffer(ctx, p, track)
		}
	}
	c.notify()
}

func (c *Controller) handleLeft(env *signal.Envelope) {
	c.closePeer(env.UserID)
	log.Info().Str("module", "mesh").Str("peer", string(env.UserID)).Msg("participant left")
	c.notify()
}

// closePeer tears the entry down synchronously: close the link, drop the
// registry entry, and with it the audio sink keyed by this identity.
func (c *Controller) closePeer(id domain.UserID) {
	p, ok := c.reg.Remove(id)
	if !ok {
		return
	}
	if p.Link != nil {
		p.Link.OnStateChange(nil)
		p.Link.Close()
	}
}

// bindPeer builds a fresh link for the participant and registers the entry.
func (c *Controller) bindPeer(part *domain.Participant) *app.Peer {
	id := part.User.ID
	gen := c.reg.NextGen()
	p := &app.Peer{Part: part, Gen: gen}

	link, err := c.deps.NewLink(id)
	if err != nil {
		// negotiation errors stay local to this peer; the entry exists so
		// the roster is right, and a later renegotiation retries the link
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("link create failed")
	} else {
		p.Link = link
		c.wireLink(id, gen, link)
	}

	c.reg.Put(id, p)
	return p
}

// wireLink funnels the link's callbacks into the event loop, pinned to the
// generation they were created under.
func (c *Controller) wireLink(id domain.UserID, gen uint64, link core.Link) {
	link.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		c.post(evLocalCandidate{id: id, gen: gen, cand: cand})
	})
	link.OnStateChange(func(s core.NegotiationState) {
		c.post(evLinkState{id: id, gen: gen, state: s})
	})
	link.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if c.deps.OnTrack != nil {
			c.deps.OnTrack(id, track)
		}
	})
}

// rebuildLink replaces a dead or timed-out link with a fresh idle one and,
// when the mic is live, re-offers immediately. The roster entry is reused;
// only the connection is new.
func (c *Controller) rebuildLink(ctx context.Context, id domain.UserID) {
	p, ok := c.reg.Get(id)
	if !ok {
		return
	}
	if p.Link != nil {
		p.Link.OnStateChange(nil)
		p.Link.Close()
	}

	gen := c.reg.NextGen()
	link, err := c.deps.NewLink(id)
	c.reg.Update(id, func(q *app.Peer) {
		q.Gen = gen
		q.Link = nil
		q.PendingSince = time.Time{}
		if err == nil {
			q.Link = link
		}
	})
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(id)).Msg("link rebuild failed")
		return
	}
	c.wireLink(id, gen, link)

	if c.deps.Media.Capturing() {
		if track, aerr := c.deps.Media.Acquire(ctx); aerr == nil {
			p, _ = c.reg.Get(id)
			c.attachAndOffer(ctx, p, track)
		}
	}
	c.notify()
}

// attachAndOffer puts the shared track on the link and starts an offer.
func (c *Controller) attachAndOffer(ctx context.Context, p *app.Peer, track webrtc.TrackLocal) {
	if p == nil || p.Link == nil || p.Link.State().Terminal() {
		return
	}
	if err := p.Link.AttachTrack(track); err != nil {
		log.Warn().Err(err).Str("module", "mesh").
			Str("peer", string(p.Part.User.ID)).Msg("attach track failed")
		return
	}
	c.startOffer(ctx, p)
}

// startOffer builds the offer off-loop; the result lands back as evLocalSDP
// and is re-checked against the registry before it is sent.
func (c *Controller) startOffer(ctx context.Context, p *app.Peer) {
	id := p.Part.User.ID
	gen := p.Gen
	link := p.Link
	c.reg.Update(id, func(q *app.Peer) { q.PendingSince = time.Now() })

	go func() {
		sd, err := link.CreateOffer(ctx)
		c.post(evLocalSDP{id: id, gen: gen, kind: signal.SignalOffer, sd: sd, err: err})
	}()
}

// handleSignal routes one point-to-point negotiation payload.
func (c *Controller) handleSignal(ctx context.Context, env *signal.Envelope) {
	if env.TargetUserID != "" && env.TargetUserID != c.cfg.Local.ID {
		// not ours; broadcast-style delivery can hand us strays
		return
	}
	from := env.UserID

	switch env.SignalType {
	case signal.SignalOffer:
		c.handleRemoteOffer(ctx, from, env.SignalData)
	case signal.SignalAnswer:
		c.handleRemoteAnswer(from, env.SignalData)
	case signal.SignalCandidate:
		c.handleRemoteCandidate(from, env.SignalData)
	default:
		log.Warn().Str("module", "mesh").Str("signal_type", string(env.SignalType)).Msg("unknown signal type")
	}
	c.notify()
}

func (c *Controller) handleRemoteOffer(ctx context.Context, from domain.UserID, data json.RawMessage) {
	p, ok := c.reg.Get(from)
	if !ok {
		// an offer can beat the roster event; the offerer is definitely in
		// the room, so create the entry now
		user := &domain.User{ID: from, Username: string(from)}
		p = c.bindPeer(domain.NewParticipant(user))
	}
	if p.Link == nil || p.Link.State().Terminal() {
		c.rebuildLink(ctx, from)
		p, ok = c.reg.Get(from)
		if !ok || p.Link == nil {
			return
		}
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("malformed offer")
		return
	}

	id, gen, link := from, p.Gen, p.Link
	c.reg.Update(id, func(q *app.Peer) { q.PendingSince = time.Now() })

	// answer construction may suspend; completion re-checks the registry
	go func() {
		sd, err := link.HandleOffer(ctx, offer)
		c.post(evLocalSDP{id: id, gen: gen, kind: signal.SignalAnswer, sd: sd, err: err})
	}()
}

func (c *Controller) handleRemoteAnswer(from domain.UserID, data json.RawMessage) {
	p, ok := c.reg.Get(from)
	if !ok || p.Link == nil {
		log.Warn().Str("module", "mesh").Str("peer", string(from)).Msg("answer for unknown peer")
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("malformed answer")
		return
	}
	if err := p.Link.HandleAnswer(answer); err != nil {
		// contained: this link heads to failed, siblings are untouched
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("answer apply failed")
	}
}

func (c *Controller) handleRemoteCandidate(from domain.UserID, data json.RawMessage) {
	p, ok := c.reg.Get(from)
	if !ok || p.Link == nil {
		log.Warn().Str("module", "mesh").Str("peer", string(from)).Msg("candidate for unknown peer")
		return
	}

	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &cand); err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("malformed candidate")
		return
	}
	if err := p.Link.AddRemoteCandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("candidate apply failed")
	}
}

func (c *Controller) handleMicStatus(env *signal.Envelope) {
	muted := env.Muted()
	c.reg.Update(env.UserID, func(q *app.Peer) { q.Part.Muted = muted })
	c.notify()
}

// handleLocalSDP finishes an asynchronous offer/answer build. The gen check
// is the stale-guard: a user_left may have invalidated the link while the
// build was in flight.
func (c *Controller) handleLocalSDP(ctx context.Context, ev evLocalSDP) {
	if _, ok := c.reg.Same(ev.id, ev.gen); !ok {
		log.Debug().Str("module", "mesh").Str("peer", string(ev.id)).Msg("stale sdp result dropped")
		return
	}
	if ev.err != nil {
		log.Error().Err(ev.err).Str("module", "mesh").Str("peer", string(ev.id)).
			Str("kind", string(ev.kind)).Msg("sdp build failed")
		c.rebuildLink(ctx, ev.id)
		return
	}

	data, err := json.Marshal(ev.sd)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(ev.id)).Msg("sdp marshal")
		return
	}
	c.trySend(signal.NewSignal(ev.id, ev.kind, data))
	c.notify()
}

func (c *Controller) handleLocalCandidate(ev evLocalCandidate) {
	if _, ok := c.reg.Same(ev.id, ev.gen); !ok {
		return
	}
	data, err := json.Marshal(ev.cand)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(ev.id)).Msg("candidate marshal")
		return
	}
	c.trySend(signal.NewSignal(ev.id, signal.SignalCandidate, data))
}

// handleLinkState reacts to connection-state callbacks from a link.
func (c *Controller) handleLinkState(ctx context.Context, ev evLinkState) {
	if _, ok := c.reg.Same(ev.id, ev.gen); !ok {
		return
	}
	switch ev.state {
	case core.StateConnected:
		c.reg.Update(ev.id, func(q *app.Peer) { q.PendingSince = time.Time{} })
	case core.StateFailed:
		// scheduled teardown: replace with a fresh idle link; siblings and
		// the room itself are unaffected
		log.Warn().Str("module", "mesh").Str("peer", string(ev.id)).Msg("link failed")
		c.rebuildLink(ctx, ev.id)
	}
	c.notify()
}
