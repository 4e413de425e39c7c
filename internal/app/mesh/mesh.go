// Package mesh drives the full-mesh audio topology for one room: it owns
// the peer registry, reacts to roster and negotiation events from the
// signaling channel, and renegotiates every link when the local microphone
// starts. Every participant connects directly to every other; the O(n²)
// connection count is deliberate and sized for rooms of tens, not thousands.
// A bigger room would need a selective-forwarding relay, which this is not.
package mesh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/crisjonblvx/stoop/internal/adapters/signal"
	"github.com/crisjonblvx/stoop/internal/app"
	"github.com/crisjonblvx/stoop/internal/core"
	"github.com/crisjonblvx/stoop/internal/domain"
)

// ErrStopped is returned by commands issued after the controller exited.
var ErrStopped = errors.New("mesh stopped")

// Transport is the signaling channel as the mesh sees it. Implemented by
// signal.Client; tests substitute a fake.
type Transport interface {
	TrySend(*signal.Envelope) error
	Events() <-chan signal.Event
	Close(code int, reason string)
}

// Config carries the per-session knobs.
type Config struct {
	Room  domain.RoomID
	Local domain.User

	// ReconnectDelay is the fixed interval between reconnect attempts after
	// an abnormal close. No backoff escalation: the interval stays constant.
	ReconnectDelay time.Duration
	// MaxReconnects caps retry attempts; 0 retries forever.
	MaxReconnects int
	// NegotiationTimeout fails a link stuck mid-negotiation; 0 disables.
	NegotiationTimeout time.Duration
}

// Deps are the collaborators the controller orchestrates.
type Deps struct {
	// Dial opens (or reopens) the signaling channel.
	Dial func(ctx context.Context) (Transport, error)
	// NewLink builds a connection for one remote participant.
	NewLink func(id domain.UserID) (core.Link, error)
	// Media is the shared local capture source.
	Media core.MediaSource
	// OnTrack receives each participant's inbound audio, keyed by identity.
	OnTrack func(id domain.UserID, track *webrtc.TrackRemote)
	// OnUpdate fires with a fresh projection after every mutating event.
	OnUpdate func(core.RoomState)
}

// Controller is the peer mesh controller. All state transitions run on its
// single event loop goroutine; transport callbacks, link callbacks and
// public commands are funneled through one channel and never interleave.
type Controller struct {
	cfg  Config
	deps Deps
	reg  *app.Registry

	events chan loopEvent
	done   chan struct{}

	// loop-owned; never touched off the loop goroutine
	tr         Transport
	trEvents   <-chan signal.Event
	reconnects int
	leaving    bool
	runErr     error

	// guarded by mu only because the projection is recomputed from other
	// goroutines; the loop is the only writer
	mu        sync.RWMutex
	connected bool
}

func (c *Controller) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Controller) isConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// New wires a controller. Call Run to start it.
func New(cfg Config, deps Deps) *Controller {
	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		reg:    app.NewRegistry(),
		events: make(chan loopEvent, 256),
		done:   make(chan struct{}),
	}
	if src, ok := deps.Media.(interface{ OnStateChange(func(bool)) }); ok {
		src.OnStateChange(func(capturing bool) {
			c.post(evMediaState{capturing: capturing})
		})
	}
	return c
}

// ToggleMute flips the microphone. Unmuting acquires the capture device and
// renegotiates every link; a permission failure comes back to the caller
// here, untouched. Muting detaches the shared track without renegotiating.
func (c *Controller) ToggleMute(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case c.events <- cmdToggleMute{reply: reply}:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave tears the whole session down as one sequence: normal-close the
// transport (suppressing reconnect), close every link, release the mic.
func (c *Controller) Leave() {
	reply := make(chan struct{})
	select {
	case c.events <- cmdLeave{reply: reply}:
	case <-c.done:
		return
	}
	select {
	case <-reply:
	case <-c.done:
	}
}

// post hands an event to the loop. The buffer absorbs synchronous callback
// chains; if it is ever full the handoff moves to a goroutine rather than
// deadlocking a callback that the loop itself triggered.
func (c *Controller) post(ev loopEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		go func() {
			select {
			case c.events <- ev:
			case <-c.done:
			}
		}()
	}
}
