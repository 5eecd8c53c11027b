package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Conn is one client websocket. Frames are written only by writePump.
type Conn struct {
	id      string
	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, buffer int, limiter *rate.Limiter) *Conn {
	return &Conn{
		id:      id,
		ws:      ws,
		send:    make(chan []byte, buffer),
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

// ID is the handle that tracking sessions are bound to.
func (c *Conn) ID() string { return c.id }

// enqueue hands frame to the write pump. A client that cannot keep up with its
// buffer is disconnected rather than allowed to stall senders.
func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.close()
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump drains send and keeps the peer alive with pings. It owns all writes
// and closes the socket on exit, which also unblocks the reader.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
