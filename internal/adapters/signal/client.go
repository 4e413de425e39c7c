package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/crisjonblvx/stoop/internal/domain"
)

const (
	sendBufferSize = 32
	writeTimeout   = 5 * time.Second
)

// EventKind identifies what a transport event carries.
type EventKind int

const (
	EventOpened EventKind = iota
	EventMessage
	EventClosed
)

// Event is delivered to the owner in the order the remote side sent it.
// After EventClosed the events channel is closed; reconnecting is the
// owner's job, not the transport's.
type Event struct {
	Kind   EventKind
	Msg    *Envelope
	Code   int
	Reason string
}

// Client is one live signaling connection. It owns a read pump and a write
// pump; all writes go through the buffered send channel so the websocket
// sees a single writer.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	events chan Event

	mu     sync.RWMutex
	closed bool
}

// Dial opens the room-scoped signaling channel. The token rides as a query
// parameter. The returned client is already pumping; the first event on
// Events() is EventOpened.
func Dial(ctx context.Context, baseURL string, room domain.RoomID, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("bad signal base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = path.Join(u.Path, "rooms", string(room), "signal")
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("signal dial: %w", err)
	}

	c := &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		events: make(chan Event, sendBufferSize),
	}
	c.events <- Event{Kind: EventOpened}

	go c.writePump()
	go c.readPump()

	log.Info().Str("module", "signal").Str("room", string(room)).Msg("signaling connected")
	return c, nil
}

// Events returns the ordered event stream. Closed after EventClosed.
func (c *Client) Events() <-chan Event { return c.events }

// TrySend marshals and enqueues an envelope. Messages offered while the
// channel is closed or the buffer is full are dropped, never queued: after a
// reconnect nothing stale is replayed.
func (c *Client) TrySend(e *Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("signal marshal: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrTransportClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return domain.ErrBackpressure
	}
}

// Close shuts the connection down with the given close code. A normal
// closure tells the server the user left on purpose; the owner suppresses
// reconnect for it. Idempotent.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			return
		}
	}
}

func (c *Client) readPump() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			code, reason := websocket.CloseAbnormalClosure, err.Error()
			if ce, ok := err.(*websocket.CloseError); ok {
				code, reason = ce.Code, ce.Text
			}
			c.markClosed()
			c.events <- Event{Kind: EventClosed, Code: code, Reason: reason}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("dropping malformed frame")
			continue
		}
		c.events <- Event{Kind: EventMessage, Msg: &env}
	}
}

// markClosed flips the closed flag without sending a close frame, for the
// path where the remote side went away first.
func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
