// Package bridge links relay instances through NATS so that one room can be
// served by several clippy servers behind a load balancer.
//
// Every clipboard event a hub broadcasts locally is published on
// clippy.room.<room id>; every event received on that subject from another
// instance is delivered to the local members of the room. Events carry the
// publishing instance's id in a header and are ignored when they come back
// to their origin.
package bridge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"go.klb.dev/clippy/internal/hub"
	"go.klb.dev/clippy/internal/message"
)

const (
	subjectPrefix = "clippy.room."
	originHeader  = "Clippy-Origin"

	// headerReserve covers the NATS header block carrying the origin id,
	// which counts against the server's payload limit.
	headerReserve = 128
)

// Conn is the part of *nats.Conn the bridge uses.
type Conn interface {
	PublishMsg(*nats.Msg) error
	// MaxPayload is the server's message size limit, zero when unknown.
	MaxPayload() int64
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Deliverer fans a message out to the local members of a room.
// *hub.Hub implements it.
type Deliverer interface {
	Deliver(room string, msg *message.Message) int
}

// Bridge implements hub.Relay over NATS.
type Bridge struct {
	nc     Conn
	local  Deliverer
	origin string

	mu    sync.Mutex
	rooms map[string]string // subject → room code
	subs  []*nats.Subscription
}

// New returns a Bridge publishing through nc and delivering into local.
func New(nc Conn, local Deliverer) *Bridge {
	return &Bridge{
		nc:     nc,
		local:  local,
		origin: uuid.NewString(),
		rooms:  make(map[string]string),
	}
}

// Subject returns the bus subject for a room code. The code itself never
// appears on the bus.
func Subject(room string) string { return subjectPrefix + hub.RoomID(room) }

// Join subscribes to events for room from other instances.
func (b *Bridge) Join(room string) error {
	subj := Subject(room)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rooms[subj]; ok {
		return nil
	}
	sub, err := b.nc.Subscribe(subj, b.receive)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subj, err)
	}
	b.rooms[subj] = room
	if sub != nil {
		b.subs = append(b.subs, sub)
	}
	slog.Info("bridge joined room", "room", hub.RoomID(room), "subject", subj)
	return nil
}

// Publish sends a locally broadcast event to the other instances. Events
// larger than the server's payload limit stay local.
func (b *Bridge) Publish(room string, msg *message.Message) {
	data, err := msg.Encode()
	if err != nil {
		slog.Error("bridge encode failed", "err", err)
		return
	}
	if limit := b.nc.MaxPayload(); limit > 0 && int64(len(data))+headerReserve > limit {
		slog.Warn("event exceeds NATS max payload, not forwarded to other instances",
			"room", hub.RoomID(room),
			"kind", msg.Content.Type,
			"size_bytes", len(data),
			"max_payload", limit,
		)
		return
	}
	m := nats.NewMsg(Subject(room))
	m.Header.Set(originHeader, b.origin)
	m.Data = data
	if err := b.nc.PublishMsg(m); err != nil {
		slog.Warn("bridge publish failed", "room", hub.RoomID(room), "err", err)
	}
}

func (b *Bridge) receive(m *nats.Msg) {
	if m.Header.Get(originHeader) == b.origin {
		return
	}
	b.mu.Lock()
	room, ok := b.rooms[m.Subject]
	b.mu.Unlock()
	if !ok {
		return
	}

	msg, err := message.Decode(m.Data)
	if err != nil {
		slog.Warn("bridge dropped malformed event", "subject", m.Subject, "err", err)
		return
	}
	if msg.Type != message.TypeClipboard {
		slog.Debug("bridge ignoring event", "type", msg.Type)
		return
	}
	b.local.Deliver(room, msg)
}

// Close unsubscribes from every room. The NATS connection is left to the
// caller.
func (b *Bridge) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.rooms = make(map[string]string)
	b.mu.Unlock()
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			slog.Debug("bridge unsubscribe", "err", err)
		}
	}
}

// Connect dials the NATS server at url with reconnects enabled and the
// connection events logged.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("clippy relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subj := ""
			if sub != nil {
				subj = sub.Subject
			}
			slog.Error("nats async error", "subject", subj, "err", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	slog.Info("connected to nats", "url", nc.ConnectedUrlRedacted())
	return nc, nil
}
