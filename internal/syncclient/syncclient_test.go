package syncclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"go.klb.dev/clippy/internal/clip"
	"go.klb.dev/clippy/internal/clock"
	"go.klb.dev/clippy/internal/message"
	"go.klb.dev/clippy/internal/watch"
	"go.klb.dev/clippy/internal/wire"
)

var epoch = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

// peer is the server end of one dialed connection.
type peer struct {
	raw  net.Conn
	conn *wire.LineConn
	at   time.Time
}

func (p *peer) send(t *testing.T, m *message.Message) {
	t.Helper()
	if err := p.conn.WriteMsg(m); err != nil {
		t.Fatalf("WriteMsg(%s): %v", m.Type, err)
	}
}

func (p *peer) recv(t *testing.T) *message.Message {
	t.Helper()
	_ = p.raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	m, err := p.conn.ReadMsg()
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	return m
}

func (p *peer) expectSilence(t *testing.T) {
	t.Helper()
	_ = p.raw.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if m, err := p.conn.ReadMsg(); err == nil {
		t.Fatalf("unexpected message %+v", *m)
	}
}

type stateChange struct {
	state State
	err   error
}

type harness struct {
	client  *Client
	clock   *clock.FakeClock
	mem     *clip.Memory
	watcher *watch.Watcher
	dials   chan *peer
	states  chan stateChange

	mu      sync.Mutex
	dialErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:  clock.Fake(epoch),
		mem:    clip.NewMemory(),
		dials:  make(chan *peer, 8),
		states: make(chan stateChange, 64),
	}
	h.watcher = watch.New(h.mem, h.clock)
	h.client = New(Config{
		ServerURL: "tcp://relay.test:3001",
		RoomCode:  "room1",
		Clock:     h.clock,
		Dial:      h.dial,
		OnStateChange: func(s State, err error) {
			h.states <- stateChange{s, err}
		},
	}, h.watcher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.client.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) dial(ctx context.Context, _ string) (wire.Conn, error) {
	h.mu.Lock()
	err := h.dialErr
	h.mu.Unlock()
	p := &peer{at: h.clock.Now()}
	if err != nil {
		h.dials <- p
		return nil, err
	}
	a, b := net.Pipe()
	p.raw, p.conn = b, wire.NewLineConn(b)
	h.dials <- p
	return wire.NewLineConn(a), nil
}

func (h *harness) failDials(err error) {
	h.mu.Lock()
	h.dialErr = err
	h.mu.Unlock()
}

func (h *harness) nextDial(t *testing.T) *peer {
	t.Helper()
	select {
	case p := <-h.dials:
		if p.conn != nil {
			t.Cleanup(func() { _ = p.conn.Close() })
		}
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no dial attempt")
		return nil
	}
}

func (h *harness) expectNoDial(t *testing.T) {
	t.Helper()
	select {
	case p := <-h.dials:
		t.Fatalf("unexpected dial at %s", p.at.Sub(epoch))
	case <-time.After(100 * time.Millisecond):
	}
}

func (h *harness) waitState(t *testing.T, want State) stateChange {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case sc := <-h.states:
			if sc.state == want {
				return sc
			}
		case <-deadline:
			t.Fatalf("state %s never reached (now %s)", want, h.client.State().State)
		}
	}
}

// synced dials, answers the handshake and returns the server end.
func (h *harness) synced(t *testing.T) *peer {
	t.Helper()
	p := h.nextDial(t)
	if m := p.recv(t); m.Type != message.TypeAuth || m.Code != "room1" {
		t.Fatalf("first message = %+v, want auth room1", *m)
	}
	p.send(t, message.AuthSuccess())
	h.waitState(t, Synced)
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSyncRoundTrip(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := h.synced(t)

	p.send(t, message.Clipboard(message.Text("from a peer"), 1))
	waitFor(t, "inbound text applied", func() bool {
		s, _ := h.mem.ReadText()
		return s == "from a peer"
	})

	// The applied content must not come back.
	h.clock.Advance(watch.Interval)
	p.expectSilence(t)

	_ = h.mem.WriteText("copied here")
	h.clock.Advance(watch.Interval)
	got := p.recv(t)
	if got.Type != message.TypeClipboard || got.Content != message.Text("copied here") {
		t.Fatalf("sent %+v", *got)
	}
	if got.Timestamp <= epoch.UnixMilli() || got.Timestamp > h.clock.Now().UnixMilli() {
		t.Errorf("timestamp = %d, outside (%d, %d]", got.Timestamp, epoch.UnixMilli(), h.clock.Now().UnixMilli())
	}

	if st := h.client.State(); st.State != Synced || st.ServerURL != "tcp://relay.test:3001" {
		t.Errorf("State = %+v", st)
	}
}

func TestLocalChangeDroppedUntilSynced(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := h.nextDial(t)
	_ = p.recv(t) // auth

	_ = h.mem.WriteText("too early")
	h.clock.Advance(watch.Interval)
	waitFor(t, "watcher to record the change", func() bool {
		return h.watcher.State().Payload == "too early"
	})
	p.expectSilence(t)

	p.send(t, message.AuthSuccess())
	h.waitState(t, Synced)
	h.clock.Advance(watch.Interval)
	p.expectSilence(t)
}

func TestClipboardBeforeAuthSuccessIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := h.nextDial(t)
	_ = p.recv(t)

	p.send(t, message.Clipboard(message.Text("sneaky"), 1))
	p.send(t, message.AuthSuccess())
	h.waitState(t, Synced)
	if s, _ := h.mem.ReadText(); s != "" {
		t.Fatalf("clipboard = %q, want untouched", s)
	}
}

func TestAuthFailedStopsClient(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := h.nextDial(t)
	_ = p.recv(t)
	p.send(t, message.AuthFailed())

	sc := h.waitState(t, Disconnected)
	if !errors.Is(sc.err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", sc.err)
	}
	h.clock.Advance(time.Minute)
	h.expectNoDial(t)
	if st := h.client.State(); st.LastError != ErrAuthFailed.Error() {
		t.Errorf("LastError = %q", st.LastError)
	}

	// An explicit Connect tries again.
	h.client.Connect()
	_ = h.nextDial(t)
}

func TestReconnectAfterDelay(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := h.synced(t)

	_ = p.conn.Close()
	h.waitState(t, Disconnected)
	h.clock.WaitForTimers(2) // poll ticker + reconnect timer
	lost := h.clock.Now()

	h.clock.Advance(ReconnectDelay - time.Millisecond)
	h.expectNoDial(t)

	h.clock.Advance(time.Millisecond)
	again := h.nextDial(t)
	if d := again.at.Sub(lost); d < 5000*time.Millisecond || d >= 6000*time.Millisecond {
		t.Fatalf("reconnect after %s, want [5s, 6s)", d)
	}

	h.clock.Advance(999 * time.Millisecond)
	h.expectNoDial(t)
}

func TestFailedDialRetries(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.failDials(errors.New("connection refused"))

	first := h.nextDial(t)
	sc := h.waitState(t, Disconnected)
	if sc.err == nil {
		t.Fatal("failed dial reported no error")
	}
	h.clock.WaitForTimers(2)

	h.failDials(nil)
	h.clock.Advance(ReconnectDelay)
	second := h.nextDial(t)
	if d := second.at.Sub(first.at); d != ReconnectDelay {
		t.Fatalf("retry after %s, want %s", d, ReconnectDelay)
	}
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := h.synced(t)

	_ = p.conn.Close()
	h.waitState(t, Disconnected)
	h.clock.WaitForTimers(2)

	h.client.Disconnect()
	waitFor(t, "reconnect timer to be cancelled", func() bool { return h.clock.Pending() == 1 })
	h.clock.Advance(time.Minute)
	h.expectNoDial(t)

	h.client.Connect()
	_ = h.synced(t)
}

func TestStateString(t *testing.T) {
	t.Parallel()
	tests := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		AwaitingAuth: "awaiting_auth",
		Synced:       "synced",
		State(42):    "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

// trackedConn records Close on a transport nothing reads from.
type trackedConn struct {
	closed chan struct{}
	once   sync.Once
}

func (c *trackedConn) ReadMsg() (*message.Message, error) {
	<-c.closed
	return nil, net.ErrClosed
}

func (c *trackedConn) WriteMsg(*message.Message) error { return nil }
func (c *trackedConn) RemoteAddr() net.Addr            { return &net.TCPAddr{} }

func (c *trackedConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestDialFinishingAfterShutdownIsClosed(t *testing.T) {
	t.Parallel()
	clk := clock.Fake(epoch)
	mem := clip.NewMemory()
	conn := &trackedConn{closed: make(chan struct{})}
	dialing := make(chan struct{})
	release := make(chan struct{})

	client := New(Config{
		ServerURL: "tcp://relay.test:3001",
		RoomCode:  "room1",
		Clock:     clk,
		// Ignores ctx, like a dialer stuck in a handshake.
		Dial: func(context.Context, string) (wire.Conn, error) {
			close(dialing)
			<-release
			return conn, nil
		},
	}, watch.New(mem, clk))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = client.Run(ctx)
		close(done)
	}()

	<-dialing
	cancel()
	<-done
	close(release)

	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("transport dialed after shutdown was never closed")
	}
}
