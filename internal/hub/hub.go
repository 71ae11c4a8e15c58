// Package hub implements the relay hub: the set of authenticated
// connections, grouped by room code, and the clipboard fan-out between them.
//
// The hub is transport-agnostic. Connections are admitted by the auth gate
// once they prove the room code and are removed when their transport closes.
package hub

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"go.klb.dev/clippy/internal/clock"
	"go.klb.dev/clippy/internal/message"
)

// ErrNotAuthenticated is returned by Admit for a member that has not
// completed the handshake.
var ErrNotAuthenticated = errors.New("member is not authenticated")

// Member is a connection the hub can deliver to.
type Member interface {
	ID() string
	// Room returns the room code the member authenticated with.
	Room() string
	Authenticated() bool
	// Sendable reports whether the transport can still accept messages.
	Sendable() bool
	// Send queues msg for delivery without blocking. It returns false when
	// the message was dropped.
	Send(*message.Message) bool
}

// Relay receives every clipboard event broadcast locally so that it can be
// forwarded to other relay instances serving the same room.
type Relay interface {
	Publish(room string, msg *message.Message)
}

// Hub routes clipboard events between the members of a room.
type Hub struct {
	clock   clock.Clock
	started time.Time

	mu      sync.RWMutex
	members map[string]entry               // id → member
	rooms   map[string]map[string]struct{} // room code → member ids
	relay   Relay
}

// entry pins the room a member was admitted to. Member.Room may change
// before the member is removed; the index is always keyed by this value.
type entry struct {
	m    Member
	room string
}

// New returns an empty Hub.
func New(clk clock.Clock) *Hub {
	return &Hub{
		clock:   clk,
		started: clk.Now(),
		members: make(map[string]entry),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// SetRelay installs r as the cross-instance relay. Passing nil removes it.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Admit adds an authenticated member to its room. The room materializes on
// first admission. Re-admitting a member moves it to its current room.
func (h *Hub) Admit(m Member) error {
	if !m.Authenticated() {
		return ErrNotAuthenticated
	}
	id, room := m.ID(), m.Room()

	h.mu.Lock()
	h.removeLocked(id)
	h.members[id] = entry{m: m, room: room}
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[string]struct{})
		h.rooms[room] = set
	}
	set[id] = struct{}{}
	inRoom, total := len(set), len(h.members)
	h.mu.Unlock()

	slog.Info("member admitted",
		"conn", id,
		"room", RoomID(room),
		"room_members", inRoom,
		"total", total,
	)
	return nil
}

// Remove drops m from the hub. It is a no-op for members that were never
// admitted or were already removed, and reports whether anything changed.
func (h *Hub) Remove(m Member) bool {
	id := m.ID()
	h.mu.Lock()
	removed := h.removeLocked(id)
	total := len(h.members)
	h.mu.Unlock()

	if removed {
		slog.Info("member removed", "conn", id, "total", total)
	}
	return removed
}

// removeLocked must be called with h.mu held.
func (h *Hub) removeLocked(id string) bool {
	e, ok := h.members[id]
	if !ok {
		return false
	}
	delete(h.members, id)
	if set, ok := h.rooms[e.room]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(h.rooms, e.room)
		}
	}
	return true
}

// Broadcast forwards a clipboard event from an authenticated member to every
// other authenticated, sendable member of the same room, and to the relay if
// one is installed. A missing timestamp is replaced with the current time.
// It returns the number of local deliveries.
func (h *Hub) Broadcast(from Member, msg *message.Message) int {
	if msg.Type != message.TypeClipboard {
		return 0
	}
	if !from.Authenticated() {
		slog.Warn("broadcast from unauthenticated connection refused", "conn", from.ID())
		return 0
	}

	ts := msg.Timestamp
	if ts == 0 {
		ts = message.Millis(h.clock.Now())
	}
	out := message.Clipboard(msg.Content, ts)
	room := from.Room()

	h.mu.RLock()
	if e, ok := h.members[from.ID()]; ok {
		room = e.room
	}
	targets := h.targetsLocked(room, from.ID())
	relay := h.relay
	h.mu.RUnlock()

	delivered := send(targets, out)
	LogContent("clipboard relayed", from.ID(), RoomID(room), msg.Content, delivered)

	if relay != nil {
		relay.Publish(room, out)
	}
	return delivered
}

// Deliver fans a message that arrived from another relay instance out to
// every authenticated, sendable member of room.
func (h *Hub) Deliver(room string, msg *message.Message) int {
	if msg.Type != message.TypeClipboard {
		return 0
	}
	h.mu.RLock()
	targets := h.targetsLocked(room, "")
	h.mu.RUnlock()

	delivered := send(targets, msg)
	LogContent("clipboard relayed from peer instance", "", RoomID(room), msg.Content, delivered)
	return delivered
}

// targetsLocked copies the deliverable members of room, excluding skipID.
// Must be called with h.mu held.
func (h *Hub) targetsLocked(room, skipID string) []Member {
	set := h.rooms[room]
	out := make([]Member, 0, len(set))
	for id := range set {
		if id == skipID {
			continue
		}
		m := h.members[id].m
		if m == nil || !m.Authenticated() || !m.Sendable() {
			continue
		}
		out = append(out, m)
	}
	return out
}

func send(targets []Member, msg *message.Message) int {
	n := 0
	for _, m := range targets {
		if m.Send(msg) {
			n++
		}
	}
	return n
}

// RoomStat describes one room without revealing its code.
type RoomStat struct {
	ID      string
	Members int
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Started time.Time
	Members int
	Rooms   []RoomStat
}

// Stats returns current membership counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Stats{Started: h.started, Members: len(h.members)}
	for code, set := range h.rooms {
		st.Rooms = append(st.Rooms, RoomStat{ID: RoomID(code), Members: len(set)})
	}
	return st
}

// RoomID derives a stable public identifier from a room code, safe to log
// and to use in bus subjects.
func RoomID(code string) string {
	sum := blake3.Sum256([]byte("clippy/room\x00" + code))
	return hex.EncodeToString(sum[:8])
}
