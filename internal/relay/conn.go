// Package relay is the development signaling relay: a room-scoped WebSocket
// endpoint speaking the same wire protocol the production backend does, plus
// the token-issuing HTTP endpoint. It exists so the client and the
// integration tests have something real to talk to; it is not the backend.
package relay

import (
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

// memberConn is one member's WebSocket, with writes serialized through a
// buffered channel. Slow consumers get frames dropped, not queued.
type memberConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func newMemberConn(conn *websocket.Conn) *memberConn {
	return &memberConn{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

func (c *memberConn) TrySend(data []byte) error {
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

func (c *memberConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

func (c *memberConn) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
			return
		}
	}
}
