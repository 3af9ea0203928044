package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 64
)

// wsConn adapts a gorilla websocket to the engine's Conn interface. gorilla
// permits only one concurrent writer, so all outbound traffic is funnelled
// through a buffered queue drained by a single pump goroutine. A consumer
// that can't keep up is closed; it re-syncs from the snapshot on reconnect.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	log  *slog.Logger
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn, log *slog.Logger) *wsConn {
	c := &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		log:  log,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		c.log.Warn("closing slow consumer", "conn", c.id)
		c.close()
		return websocket.ErrCloseSent
	}
}

// reject signals an authorization failure and closes. This is the only thing
// an unauthorized connection ever receives.
func (c *wsConn) reject(reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(closeCodeUnauthorized, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		c.log.Debug("failed to write close frame", "conn", c.id, "err", err)
	}
	c.close()
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *wsConn) writePump() {
	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				c.log.Debug("failed to write", "conn", c.id, "err", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
