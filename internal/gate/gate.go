// Package gate admits transport connections into the relay hub.
//
// A connection must send {"type":"auth","code":...} with the room code
// within HandshakeTimeout. Anything else before that closes it. Once
// admitted, its clipboard events are broadcast to the rest of its room.
package gate

import (
	"crypto/subtle"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/clippy/internal/clock"
	"go.klb.dev/clippy/internal/hub"
	"go.klb.dev/clippy/internal/message"
	"go.klb.dev/clippy/internal/wire"
)

const (
	// HandshakeTimeout is how long a new connection has to authenticate.
	HandshakeTimeout = 5 * time.Second

	sendQueueSize = 64
)

// Gate authenticates connections against a single room code.
type Gate struct {
	hub   *hub.Hub
	clock clock.Clock
	code  string
}

// New returns a Gate that admits connections presenting code into h.
func New(h *hub.Hub, clk clock.Clock, code string) *Gate {
	return &Gate{hub: h, clock: clk, code: code}
}

// Serve runs the handshake and then the read loop for t. It blocks until
// the connection is finished and always closes t.
func (g *Gate) Serve(t wire.Conn) {
	c := newConn(t, g.clock.Now())
	c.log.Debug("connection opened", "addr", t.RemoteAddr())

	timer := g.clock.AfterFunc(HandshakeTimeout, func() {
		if c.expire() {
			c.log.Warn("handshake timeout, closing")
			c.close()
		}
	})
	c.mu.Lock()
	c.timer = timer
	c.mu.Unlock()

	defer func() {
		c.close()
		g.hub.Remove(c)
		c.log.Debug("connection finished", "age", g.clock.Now().Sub(c.created))
	}()

	for {
		msg, err := t.ReadMsg()
		if err != nil {
			if wire.IsMalformed(err) {
				if !c.Authenticated() {
					c.log.Warn("malformed message before auth, closing", "err", err)
					return
				}
				c.log.Warn("dropping malformed message", "err", err)
				continue
			}
			if !c.closed.Load() && !wire.IsNormalClose(err) {
				c.log.Info("connection closed", "err", err)
			}
			return
		}

		if !c.Authenticated() {
			if msg.Type != message.TypeAuth {
				c.log.Warn("rejecting message from unauthenticated connection", "type", msg.Type)
				return
			}
			if !g.authenticate(c, msg.Code) {
				return
			}
			continue
		}

		switch msg.Type {
		case message.TypeClipboard:
			g.hub.Broadcast(c, msg)
		case message.TypeAuth:
			c.log.Debug("ignoring repeated auth")
		default:
			c.log.Debug("ignoring message", "type", msg.Type)
		}
	}
}

// authenticate checks code and either admits c or rejects it. It reports
// whether the connection should stay open.
func (g *Gate) authenticate(c *Conn, code string) bool {
	if subtle.ConstantTimeCompare([]byte(code), []byte(g.code)) != 1 {
		c.log.Warn("auth failed: wrong room code")
		if err := c.transport.WriteMsg(message.AuthFailed()); err != nil {
			c.log.Debug("auth_failed write", "err", err)
		}
		return false
	}

	if !c.admit(code) {
		// The handshake timer won the race.
		return false
	}
	if err := g.hub.Admit(c); err != nil {
		c.log.Error("admit failed", "err", err)
		return false
	}
	if err := c.transport.WriteMsg(message.AuthSuccess()); err != nil {
		c.log.Warn("auth_success write failed", "err", err)
		return false
	}
	c.log.Info("authenticated", "room", hub.RoomID(code))
	go c.writeLoop()
	return true
}

// Conn is one server-side connection. It implements hub.Member.
type Conn struct {
	id        string
	transport wire.Conn
	created   time.Time
	log       *slog.Logger

	sendCh chan *message.Message
	done   chan struct{}

	mu       sync.Mutex
	room     string
	timedOut bool
	timer    *clock.Timer

	authed    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func newConn(t wire.Conn, now time.Time) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:        id,
		transport: t,
		created:   now,
		log:       slog.With("conn", id),
		sendCh:    make(chan *message.Message, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// ID returns the connection's uuid.
func (c *Conn) ID() string { return c.id }

// Room returns the room code the connection authenticated with, or "" before
// auth.
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Authenticated reports whether the handshake succeeded.
func (c *Conn) Authenticated() bool { return c.authed.Load() }

// Sendable reports whether the connection is still open.
func (c *Conn) Sendable() bool { return !c.closed.Load() }

// Created returns when the connection was opened.
func (c *Conn) Created() time.Time { return c.created }

// Send queues msg for the writer goroutine. It never blocks; a full queue
// drops the message.
func (c *Conn) Send(msg *message.Message) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case <-c.done:
		return false
	case c.sendCh <- msg:
		return true
	default:
		c.log.Warn("send queue full, dropping")
		return false
	}
}

// admit marks c authenticated for room and cancels the handshake timer.
// It fails if the timer has already expired.
func (c *Conn) admit(room string) bool {
	c.mu.Lock()
	if c.timedOut || c.closed.Load() {
		c.mu.Unlock()
		return false
	}
	c.room = room
	c.authed.Store(true)
	timer := c.timer
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	return true
}

// expire is called by the handshake timer. It reports whether the
// connection was still unauthenticated and must be closed.
func (c *Conn) expire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authed.Load() {
		return false
	}
	c.timedOut = true
	return true
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.mu.Lock()
		timer := c.timer
		c.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		close(c.done)
		_ = c.transport.Close()
	})
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			if err := c.transport.WriteMsg(msg); err != nil {
				c.log.Warn("write failed, closing", "err", err)
				c.close()
				return
			}
		}
	}
}
