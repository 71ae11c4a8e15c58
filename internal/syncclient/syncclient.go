// Package syncclient keeps the local clipboard in sync with a relay room.
//
// The client is a small state machine driven by a single goroutine (Run):
//
//	Disconnected → Connecting → AwaitingAuth → Synced
//	      ↑____________|______________|___________|
//
// Dial results, inbound messages, transport closure, the reconnect timer and
// the clipboard poll tick all arrive as events on one channel, so no two
// transitions ever interleave. A lost transport schedules exactly one
// reconnect attempt after ReconnectDelay. A rejected room code does not.
package syncclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/clippy/internal/clock"
	"go.klb.dev/clippy/internal/hub"
	"go.klb.dev/clippy/internal/message"
	"go.klb.dev/clippy/internal/watch"
	"go.klb.dev/clippy/internal/wire"
)

const (
	// ReconnectDelay is the fixed wait between a lost connection and the next
	// attempt.
	ReconnectDelay = 5 * time.Second

	eventQueueSize = 16
	sendQueueSize  = 8
)

// ErrAuthFailed is reported through OnStateChange when the server rejects
// the room code. The client stays disconnected until Connect is called.
var ErrAuthFailed = errors.New("room code rejected by server")

// State is the connection phase.
type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingAuth
	Synced
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingAuth:
		return "awaiting_auth"
	case Synced:
		return "synced"
	}
	return "unknown"
}

// Dialer opens a transport to the server at url.
type Dialer func(ctx context.Context, url string) (wire.Conn, error)

// Config holds everything a Client needs.
type Config struct {
	ServerURL string
	RoomCode  string

	// Clock defaults to clock.Real().
	Clock clock.Clock
	// Dial defaults to wire.Dial.
	Dial Dialer
	// OnStateChange, if set, is called from the Run goroutine after every
	// transition. err is non-nil when the transition was caused by a failure.
	OnStateChange func(s State, err error)
}

// Status is a point-in-time view of the client for status reporting.
type Status struct {
	State     State
	ServerURL string
	RoomID    string
	Since     time.Time
	LastError string
}

// Client syncs one clipboard with one room.
type Client struct {
	cfg     Config
	clock   clock.Clock
	watcher *watch.Watcher

	events chan any
	done   chan struct{}

	// postMu orders posts against shutdown so nothing is queued once the
	// loop has drained.
	postMu  sync.RWMutex
	stopped bool

	mu     sync.Mutex
	status Status

	// Owned by the Run goroutine.
	state     State
	gen       uint64
	sess      *session
	reconnect *clock.Timer
	dialStop  context.CancelFunc
}

// session is one live transport.
type session struct {
	gen    uint64
	conn   wire.Conn
	sendCh chan *message.Message
	once   sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.sendCh)
		_ = s.conn.Close()
	})
}

type (
	connectEvent    struct{}
	disconnectEvent struct{}
	dialedEvent     struct {
		gen  uint64
		conn wire.Conn
		err  error
	}
	messageEvent struct {
		gen uint64
		msg *message.Message
	}
	closedEvent struct {
		gen uint64
		err error
	}
	reconnectEvent struct{ gen uint64 }
)

// New returns a Client that applies inbound content and reads local changes
// through w.
func New(cfg Config, w *watch.Watcher) *Client {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Dial == nil {
		cfg.Dial = wire.Dial
	}
	c := &Client{
		cfg:     cfg,
		clock:   cfg.Clock,
		watcher: w,
		events:  make(chan any, eventQueueSize),
		done:    make(chan struct{}),
	}
	c.status = Status{
		State:     Disconnected,
		ServerURL: cfg.ServerURL,
		RoomID:    hub.RoomID(cfg.RoomCode),
		Since:     c.clock.Now(),
	}
	return c
}

// Connect starts a connection attempt if the client is disconnected. It
// cancels any pending reconnect.
func (c *Client) Connect() { c.post(connectEvent{}) }

// Disconnect drops the current connection, if any, without scheduling a
// reconnect.
func (c *Client) Disconnect() { c.post(disconnectEvent{}) }

// State returns the current status. Safe for concurrent use.
func (c *Client) State() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// post hands ev to the event loop. It reports false once Run has returned.
func (c *Client) post(ev any) bool {
	c.postMu.RLock()
	defer c.postMu.RUnlock()
	if c.stopped {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// stop ends event delivery and closes any transport still waiting in the
// queue.
func (c *Client) stop() {
	close(c.done)
	c.postMu.Lock()
	c.stopped = true
	c.postMu.Unlock()
	for {
		select {
		case ev := <-c.events:
			if d, ok := ev.(dialedEvent); ok && d.conn != nil {
				_ = d.conn.Close()
			}
		default:
			return
		}
	}
}

// Run drives the client until ctx is cancelled. It primes the watcher with
// the current clipboard, connects, and then polls the clipboard every
// watch.Interval. The active transport is closed before Run returns.
func (c *Client) Run(ctx context.Context) error {
	defer c.stop()

	if err := c.watcher.Prime(); err != nil {
		slog.Warn("clipboard prime failed", "err", err)
	}

	ticker := c.clock.NewTicker(watch.Interval)
	defer ticker.Stop()

	c.startDial(ctx)
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			c.setState(Disconnected, nil)
			slog.Info("sync client stopped")
			return nil
		case <-ticker.C:
			if content, ok := c.watcher.Tick(); ok {
				c.publish(content)
			}
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Client) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case connectEvent:
		if c.state != Disconnected {
			slog.Debug("connect ignored", "state", c.state)
			return
		}
		c.startDial(ctx)

	case disconnectEvent:
		if c.state == Disconnected && c.reconnect == nil {
			return
		}
		c.teardown()
		slog.Info("disconnected on request")
		c.setState(Disconnected, nil)

	case dialedEvent:
		if ev.gen != c.gen || c.state != Connecting {
			if ev.conn != nil {
				_ = ev.conn.Close()
			}
			return
		}
		c.dialStop = nil
		if ev.err != nil {
			slog.Warn("connection failed", "server", c.cfg.ServerURL, "err", ev.err, "retry_in", ReconnectDelay)
			c.setState(Disconnected, ev.err)
			c.scheduleReconnect()
			return
		}
		c.open(ev.conn)

	case messageEvent:
		if c.sess == nil || ev.gen != c.sess.gen {
			return
		}
		c.receive(ev.msg)

	case closedEvent:
		if c.sess == nil || ev.gen != c.sess.gen {
			return
		}
		c.sess.close()
		c.sess = nil
		slog.Warn("connection lost", "err", ev.err, "retry_in", ReconnectDelay)
		c.setState(Disconnected, ev.err)
		c.scheduleReconnect()

	case reconnectEvent:
		if ev.gen != c.gen || c.state != Disconnected {
			return
		}
		c.reconnect = nil
		c.startDial(ctx)
	}
}

// startDial moves to Connecting and dials in the background.
func (c *Client) startDial(ctx context.Context) {
	c.stopReconnect()
	c.gen++
	gen := c.gen

	dctx, cancel := context.WithCancel(ctx)
	c.dialStop = cancel
	c.setState(Connecting, nil)
	slog.Info("connecting", "server", c.cfg.ServerURL)

	go func() {
		defer cancel()
		conn, err := c.cfg.Dial(dctx, c.cfg.ServerURL)
		if !c.post(dialedEvent{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

// open starts the reader and writer for a fresh transport and sends auth.
func (c *Client) open(conn wire.Conn) {
	s := &session{gen: c.gen, conn: conn, sendCh: make(chan *message.Message, sendQueueSize)}
	c.sess = s

	// auth is queued first so it precedes anything else on the wire.
	s.sendCh <- message.Auth(c.cfg.RoomCode)
	c.setState(AwaitingAuth, nil)

	go c.writeLoop(s)
	go c.readLoop(s)
}

func (c *Client) writeLoop(s *session) {
	for msg := range s.sendCh {
		if err := s.conn.WriteMsg(msg); err != nil {
			slog.Warn("write failed", "type", msg.Type, "err", err)
			// The reader sees the closed transport and reports it.
			_ = s.conn.Close()
			return
		}
	}
}

func (c *Client) readLoop(s *session) {
	for {
		msg, err := s.conn.ReadMsg()
		if err != nil {
			if wire.IsMalformed(err) {
				slog.Warn("dropping malformed message from server", "err", err)
				continue
			}
			c.post(closedEvent{gen: s.gen, err: err})
			return
		}
		c.post(messageEvent{gen: s.gen, msg: msg})
	}
}

func (c *Client) receive(msg *message.Message) {
	switch msg.Type {
	case message.TypeAuthSuccess:
		if c.state != AwaitingAuth {
			return
		}
		slog.Info("joined room", "room", c.status.RoomID)
		c.setState(Synced, nil)

	case message.TypeAuthFailed:
		if c.state != AwaitingAuth {
			return
		}
		slog.Error("authentication failed: room code rejected")
		c.teardown()
		c.setState(Disconnected, ErrAuthFailed)

	case message.TypeClipboard:
		if c.state != Synced {
			slog.Debug("clipboard before auth, dropped")
			return
		}
		if err := c.watcher.Apply(msg.Content); err != nil {
			slog.Warn("clipboard update not applied", "kind", msg.Content.Type, "err", err)
			return
		}
		slog.Info("clipboard updated from room", "kind", msg.Content.Type)
		slog.Debug("clipboard content", "preview", msg.Content.Preview())

	default:
		slog.Debug("ignoring message", "type", msg.Type)
	}
}

// publish sends a local clipboard change to the room.
func (c *Client) publish(content message.Content) {
	if c.state != Synced || c.sess == nil {
		slog.Debug("not synced, local change not sent", "state", c.state, "kind", content.Type)
		return
	}
	msg := message.Clipboard(content, message.Millis(c.clock.Now()))
	select {
	case c.sess.sendCh <- msg:
		slog.Info("clipboard sent", "kind", content.Type)
	default:
		slog.Warn("send queue full, local change dropped", "kind", content.Type)
	}
}

func (c *Client) scheduleReconnect() {
	c.stopReconnect()
	gen := c.gen
	c.reconnect = c.clock.AfterFunc(ReconnectDelay, func() {
		c.post(reconnectEvent{gen: gen})
	})
}

func (c *Client) stopReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

// teardown cancels everything in flight: the reconnect timer, a pending
// dial and the live session. Late events from any of them are ignored.
func (c *Client) teardown() {
	c.stopReconnect()
	if c.dialStop != nil {
		c.dialStop()
		c.dialStop = nil
	}
	if c.sess != nil {
		c.sess.close()
		c.sess = nil
	}
	c.gen++
}

func (c *Client) setState(s State, err error) {
	c.state = s
	c.mu.Lock()
	if c.status.State != s {
		c.status.Since = c.clock.Now()
	}
	c.status.State = s
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.mu.Unlock()

	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s, err)
	}
}
