package hub

import (
	"sync"
	"testing"
	"time"

	"go.klb.dev/clippy/internal/clock"
	"go.klb.dev/clippy/internal/message"
)

var epoch = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

type fakeMember struct {
	id       string
	room     string
	authed   bool
	sendable bool

	mu   sync.Mutex
	got  []*message.Message
	full bool
}

func newMember(id, room string) *fakeMember {
	return &fakeMember{id: id, room: room, authed: true, sendable: true}
}

func (m *fakeMember) ID() string          { return m.id }
func (m *fakeMember) Room() string        { return m.room }
func (m *fakeMember) Authenticated() bool { return m.authed }
func (m *fakeMember) Sendable() bool      { return m.sendable }

func (m *fakeMember) Send(msg *message.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return false
	}
	m.got = append(m.got, msg)
	return true
}

func (m *fakeMember) received() []*message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*message.Message(nil), m.got...)
}

type fakeRelay struct {
	rooms []string
	msgs  []*message.Message
}

func (r *fakeRelay) Publish(room string, msg *message.Message) {
	r.rooms = append(r.rooms, room)
	r.msgs = append(r.msgs, msg)
}

func TestBroadcastExcludesSenderAndDeliversOnce(t *testing.T) {
	t.Parallel()
	h := New(clock.Fake(epoch))
	a, b, c := newMember("a", "room1"), newMember("b", "room1"), newMember("c", "room1")
	for _, m := range []*fakeMember{a, b, c} {
		if err := h.Admit(m); err != nil {
			t.Fatalf("Admit(%s): %v", m.id, err)
		}
	}

	n := h.Broadcast(a, message.Clipboard(message.Text("hello"), 1234))
	if n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if got := a.received(); len(got) != 0 {
		t.Errorf("sender received its own message: %+v", got)
	}
	for _, m := range []*fakeMember{b, c} {
		got := m.received()
		if len(got) != 1 {
			t.Fatalf("%s received %d messages, want 1", m.id, len(got))
		}
		if got[0].Type != message.TypeClipboard || got[0].Content.Data != "hello" || got[0].Timestamp != 1234 {
			t.Errorf("%s received %+v", m.id, *got[0])
		}
	}
}

func TestBroadcastDefaultsTimestamp(t *testing.T) {
	t.Parallel()
	h := New(clock.Fake(epoch))
	a, b := newMember("a", "r"), newMember("b", "r")
	_ = h.Admit(a)
	_ = h.Admit(b)

	h.Broadcast(a, message.Clipboard(message.Text("x"), 0))
	got := b.received()
	if len(got) != 1 || got[0].Timestamp != epoch.UnixMilli() {
		t.Fatalf("received %+v, want timestamp %d", got, epoch.UnixMilli())
	}
}

func TestBroadcastSkipsIneligibleMembers(t *testing.T) {
	t.Parallel()
	h := New(clock.Fake(epoch))
	sender := newMember("sender", "r")
	closed := newMember("closed", "r")
	other := newMember("other", "elsewhere")
	full := newMember("full", "r")
	ok := newMember("ok", "r")
	for _, m := range []*fakeMember{sender, closed, other, full, ok} {
		_ = h.Admit(m)
	}
	closed.sendable = false
	full.full = true

	if n := h.Broadcast(sender, message.Clipboard(message.Text("x"), 1)); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	if len(closed.received()) != 0 || len(other.received()) != 0 {
		t.Error("message reached a closed member or another room")
	}
	if len(ok.received()) != 1 {
		t.Error("eligible member missed the message")
	}
}

func TestUnauthenticatedIsolation(t *testing.T) {
	t.Parallel()
	h := New(clock.Fake(epoch))
	anon := newMember("anon", "r")
	anon.authed = false
	if err := h.Admit(anon); err != ErrNotAuthenticated {
		t.Fatalf("Admit(unauthenticated) = %v", err)
	}

	peer := newMember("peer", "r")
	_ = h.Admit(peer)
	if n := h.Broadcast(anon, message.Clipboard(message.Text("inject"), 1)); n != 0 {
		t.Fatalf("unauthenticated broadcast delivered %d", n)
	}
	if len(peer.received()) != 0 {
		t.Fatal("peer received a message from an unauthenticated sender")
	}

	// A member that loses its authenticated flag stops receiving.
	sender := newMember("sender", "r")
	_ = h.Admit(sender)
	peer.authed = false
	if n := h.Broadcast(sender, message.Clipboard(message.Text("x"), 1)); n != 0 {
		t.Fatalf("delivered to unauthenticated member: %d", n)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	h := New(clock.Fake(epoch))
	never := newMember("never", "r")
	if h.Remove(never) {
		t.Fatal("Remove of a never-admitted member reported a change")
	}

	a := newMember("a", "r")
	_ = h.Admit(a)
	if !h.Remove(a) {
		t.Fatal("Remove of an admitted member reported no change")
	}
	if h.Remove(a) {
		t.Fatal("second Remove reported a change")
	}
	if st := h.Stats(); st.Members != 0 || len(st.Rooms) != 0 {
		t.Fatalf("stats after removal = %+v", st)
	}
}

func TestAdmitMovesBetweenRooms(t *testing.T) {
	t.Parallel()
	h := New(clock.Fake(epoch))
	a, b := newMember("a", "one"), newMember("b", "one")
	_ = h.Admit(a)
	_ = h.Admit(b)
	a.room = "two"
	_ = h.Admit(a)

	st := h.Stats()
	if st.Members != 2 || len(st.Rooms) != 2 {
		t.Fatalf("stats = %+v", st)
	}
	for _, r := range st.Rooms {
		if r.Members != 1 {
			t.Errorf("room %s has %d members, want 1", r.ID, r.Members)
		}
	}

	if n := h.Broadcast(b, message.Clipboard(message.Text("hi"), 1)); n != 0 {
		t.Errorf("broadcast in old room delivered %d, want 0", n)
	}
	if got := a.received(); len(got) != 0 {
		t.Errorf("moved member received %d messages from its old room", len(got))
	}

	h.Remove(a)
	h.Remove(b)
	if st := h.Stats(); st.Members != 0 || len(st.Rooms) != 0 {
		t.Fatalf("stats after removal = %+v", st)
	}
}

func TestRemoveUsesAdmittedRoom(t *testing.T) {
	t.Parallel()
	h := New(clock.Fake(epoch))
	a := newMember("a", "one")
	_ = h.Admit(a)
	a.room = "two"

	if !h.Remove(a) {
		t.Fatal("Remove reported no change")
	}
	if st := h.Stats(); len(st.Rooms) != 0 {
		t.Fatalf("room left behind after removal: %+v", st)
	}
}

func TestRelayAndDeliver(t *testing.T) {
	t.Parallel()
	h := New(clock.Fake(epoch))
	relay := &fakeRelay{}
	h.SetRelay(relay)

	a, b := newMember("a", "r"), newMember("b", "r")
	_ = h.Admit(a)
	_ = h.Admit(b)

	h.Broadcast(a, message.Clipboard(message.Text("up"), 5))
	if len(relay.msgs) != 1 || relay.rooms[0] != "r" || relay.msgs[0].Content.Data != "up" {
		t.Fatalf("relay saw %+v in %v", relay.msgs, relay.rooms)
	}

	// Messages from another instance reach every member, including a.
	if n := h.Deliver("r", message.Clipboard(message.Text("down"), 6)); n != 2 {
		t.Fatalf("Deliver = %d, want 2", n)
	}
	if got := a.received(); len(got) != 1 || got[0].Content.Data != "down" {
		t.Errorf("a received %+v", got)
	}
	if n := h.Deliver("r", message.AuthSuccess()); n != 0 {
		t.Errorf("Deliver of a non-clipboard message = %d", n)
	}
}

func TestRoomIDStable(t *testing.T) {
	t.Parallel()
	if RoomID("room1") != RoomID("room1") {
		t.Fatal("RoomID not deterministic")
	}
	if RoomID("room1") == RoomID("room2") {
		t.Fatal("RoomID collision")
	}
	if len(RoomID("x")) != 16 {
		t.Fatalf("RoomID length = %d", len(RoomID("x")))
	}
}
