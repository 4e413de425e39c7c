package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/adapters/signal"
	"github.com/crisjonblvx/stoop/internal/app"
	"github.com/crisjonblvx/stoop/internal/core"
)

// Run dials the signaling channel and processes events until the local user
// leaves, the server ends the session, the context is cancelled, or the
// reconnect budget is exhausted. It must be called exactly once.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	tr, err := c.deps.Dial(ctx)
	if err != nil {
		return fmt.Errorf("mesh: initial dial: %w", err)
	}
	c.adoptTransport(tr)

	var sweep <-chan time.Time
	if c.cfg.NegotiationTimeout > 0 {
		ticker := time.NewTicker(c.cfg.NegotiationTimeout / 4)
		defer ticker.Stop()
		sweep = ticker.C
	}

	stopped := false
	for !stopped {
		select {
		case <-ctx.Done():
			c.leaving = true
			c.teardown(websocket.CloseGoingAway, "shutting down")
			return ctx.Err()

		case ev, ok := <-c.trEvents:
			if !ok {
				// transport stream drained; a Closed event already ran
				c.trEvents = nil
				continue
			}
			stopped = c.handleTransportEvent(ctx, ev)

		case le := <-c.events:
			stopped = c.handleLoopEvent(ctx, le)

		case <-sweep:
			c.sweepNegotiations(ctx)
		}
	}
	return c.runErr
}

func (c *Controller) adoptTransport(tr Transport) {
	c.tr = tr
	c.trEvents = tr.Events()
}

// handleTransportEvent applies one signaling event. Returns true to stop.
func (c *Controller) handleTransportEvent(ctx context.Context, ev signal.Event) bool {
	switch ev.Kind {
	case signal.EventOpened:
		c.setConnected(true)
		c.reconnects = 0
		c.notify()

	case signal.EventMessage:
		c.dispatch(ctx, ev.Msg)

	case signal.EventClosed:
		c.setConnected(false)
		c.notify()
		if c.leaving {
			return false
		}
		if ev.Code == websocket.CloseNormalClosure {
			// session ended server-side; not a failure, nothing to retry
			log.Info().Str("module", "mesh").Msg("session closed by server")
			c.leaving = true
			c.teardown(websocket.CloseNormalClosure, "session over")
			return true
		}
		log.Warn().Str("module", "mesh").Int("code", ev.Code).
			Str("reason", ev.Reason).Msg("signaling lost, scheduling reconnect")
		return c.scheduleReconnect()
	}
	return false
}

// handleLoopEvent applies one command or asynchronous completion.
// Returns true to stop.
func (c *Controller) handleLoopEvent(ctx context.Context, le loopEvent) bool {
	switch ev := le.(type) {
	case cmdLeave:
		c.leaving = true
		c.teardown(websocket.CloseNormalClosure, "user left")
		close(ev.reply)
		return true

	case cmdToggleMute:
		c.handleToggleMute(ctx, ev)

	case evMediaState:
		// every capturing transition is broadcast so remote projections
		// track mic state without renegotiating
		c.trySend(signal.NewMicStatus(!ev.capturing))
		c.notify()

	case evMediaAcquired:
		c.handleMediaAcquired(ctx, ev)

	case evLocalSDP:
		c.handleLocalSDP(ctx, ev)

	case evLocalCandidate:
		c.handleLocalCandidate(ev)

	case evLinkState:
		c.handleLinkState(ctx, ev)

	case evReconnect:
		if c.leaving {
			return false
		}
		go func() {
			tr, err := c.deps.Dial(ctx)
			c.post(evDialed{tr: tr, err: err})
		}()

	case evDialed:
		return c.handleDialed(ev)
	}
	return false
}

func (c *Controller) handleDialed(ev evDialed) bool {
	if c.leaving {
		if ev.tr != nil {
			ev.tr.Close(websocket.CloseNormalClosure, "left during reconnect")
		}
		return false
	}
	if ev.err != nil {
		log.Warn().Err(ev.err).Str("module", "mesh").Msg("reconnect dial failed")
		return c.scheduleReconnect()
	}
	// Pre-existing links survive the signaling reconnect; only user_left or
	// link failure tears them down.
	log.Info().Str("module", "mesh").Msg("signaling reconnected")
	c.adoptTransport(ev.tr)
	return false
}

// scheduleReconnect arms the fixed-interval retry. Returns true when the
// attempt budget is exhausted and the mesh should stop.
func (c *Controller) scheduleReconnect() bool {
	c.reconnects++
	if c.cfg.MaxReconnects > 0 && c.reconnects > c.cfg.MaxReconnects {
		c.runErr = fmt.Errorf("mesh: reconnect attempts exhausted after %d tries", c.cfg.MaxReconnects)
		c.leaving = true
		c.teardown(websocket.CloseGoingAway, "reconnect exhausted")
		return true
	}
	delay := c.cfg.ReconnectDelay
	time.AfterFunc(delay, func() { c.post(evReconnect{}) })
	return false
}

// dispatch routes one inbound envelope. Anything originated by the local
// identity is discarded whole: broadcast-style delivery must not self-loop.
func (c *Controller) dispatch(ctx context.Context, env *signal.Envelope) {
	if env == nil {
		return
	}
	if env.UserID == c.cfg.Local.ID {
		return
	}

	switch env.Type {
	case signal.MsgUserJoined:
		c.handleJoined(ctx, env)
	case signal.MsgUserLeft:
		c.handleLeft(env)
	case signal.MsgWebRTCSignal:
		c.handleSignal(ctx, env)
	case signal.MsgMicStatus:
		c.handleMicStatus(env)
	default:
		log.Warn().Str("module", "mesh").Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func (c *Controller) handleToggleMute(ctx context.Context, ev cmdToggleMute) {
	if c.deps.Media.Capturing() {
		// mute: drop the track everywhere, no renegotiation; receivers just
		// stop getting audio
		for _, p := range c.reg.Snapshot() {
			if p.Link == nil {
				continue
			}
			if err := p.Link.DetachTrack(); err != nil {
				log.Warn().Err(err).Str("module", "mesh").
					Str("peer", string(p.Part.User.ID)).Msg("detach failed")
			}
		}
		c.deps.Media.Release()
		ev.reply <- nil
		return
	}

	// unmute: device acquire may suspend, so it runs off-loop and completes
	// as evMediaAcquired
	go func() {
		track, err := c.deps.Media.Acquire(ctx)
		c.post(evMediaAcquired{track: track, err: err, reply: ev.reply})
	}()
}

func (c *Controller) handleMediaAcquired(ctx context.Context, ev evMediaAcquired) {
	if ev.err != nil {
		// permission errors are the caller's to see; nothing is retried here
		ev.reply <- ev.err
		return
	}
	// Full renegotiation: attach the new track to every link and re-offer
	// each. O(n²) across the mesh per toggle, accepted for room-sized n.
	for _, p := range c.reg.Snapshot() {
		c.attachAndOffer(ctx, p, ev.track)
	}
	ev.reply <- nil
	c.notify()
}

// trySend forwards an envelope over the current transport. Messages offered
// while the transport is down are dropped, never queued: nothing stale can
// replay out of order after a reconnect.
func (c *Controller) trySend(env *signal.Envelope) {
	if c.tr == nil {
		log.Debug().Str("module", "mesh").Str("type", string(env.Type)).Msg("no transport, dropping")
		return
	}
	if err := c.tr.TrySend(env); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("type", string(env.Type)).Msg("send dropped")
	}
}

// teardown is the single leave sequence: transport close, every link closed,
// capture released. Triggered by one call, never as three separate steps.
func (c *Controller) teardown(code int, reason string) {
	if c.tr != nil {
		c.tr.Close(code, reason)
		c.tr = nil
	}
	for _, p := range c.reg.Drain() {
		if p.Link != nil {
			p.Link.OnStateChange(nil)
			p.Link.Close()
		}
	}
	c.deps.Media.Release()
	c.setConnected(false)
	c.notify()
}

// sweepNegotiations fails links stuck mid-negotiation past the timeout.
// The participant stays in the roster; the link is rebuilt idle and
// re-offered if the mic is live.
func (c *Controller) sweepNegotiations(ctx context.Context) {
	now := time.Now()
	for _, p := range c.reg.Snapshot() {
		if p.Link == nil || p.PendingSince.IsZero() {
			continue
		}
		st := p.Link.State()
		if st == core.StateConnected {
			c.reg.Update(p.Part.User.ID, func(q *app.Peer) { q.PendingSince = time.Time{} })
			continue
		}
		if !st.Pending() {
			continue
		}
		if now.Sub(p.PendingSince) < c.cfg.NegotiationTimeout {
			continue
		}
		log.Warn().Str("module", "mesh").Str("peer", string(p.Part.User.ID)).
			Str("state", st.String()).Msg("negotiation timed out")
		c.rebuildLink(ctx, p.Part.User.ID)
	}
}
