// Package wire moves clippy messages over a transport.
//
// Two framings are supported, both carrying one JSON message per frame:
//
//	WebSocket  — one text frame per message (the primary transport)
//	raw TCP    — <json>\n, newline-delimited
//
// ReadMsg distinguishes transport failures from bad payloads: an error that
// wraps message.ErrMalformed leaves the connection usable, any other error
// means the connection is finished.
package wire

import (
	"errors"
	"net"
	"time"

	"go.klb.dev/clippy/internal/message"
)

const (
	// MaxMessageSize is the largest frame we will read (16 MiB).
	MaxMessageSize = 16 * 1024 * 1024

	writeDeadline = 10 * time.Second
)

// ErrMessageTooLarge is returned when a peer sends a frame over MaxMessageSize.
var ErrMessageTooLarge = errors.New("message too large")

// Conn is a full-duplex message transport. One goroutine may call ReadMsg
// while another calls WriteMsg; Close may be called from anywhere.
type Conn interface {
	ReadMsg() (*message.Message, error)
	WriteMsg(*message.Message) error
	Close() error
	RemoteAddr() net.Addr
}

// IsMalformed reports whether err came from a bad payload rather than from
// the transport.
func IsMalformed(err error) bool {
	return errors.Is(err, message.ErrMalformed)
}

// IsClosed reports whether err is the normal result of reading from a
// connection that was closed locally.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
