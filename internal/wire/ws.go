package wire

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go.klb.dev/clippy/internal/message"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSConn carries one message per WebSocket text frame.
type WSConn struct {
	conn *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSConn wraps conn. With keepalive set, the connection pings the peer
// every wsPingPeriod and treats wsPongWait of silence as a dead peer; the
// server side enables it, clients answer pings automatically.
func NewWSConn(conn *websocket.Conn, keepalive bool) *WSConn {
	c := &WSConn{conn: conn, done: make(chan struct{})}
	conn.SetReadLimit(MaxMessageSize)
	if keepalive {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		go c.pingLoop()
	}
	return c
}

func (c *WSConn) pingLoop() {
	t := time.NewTicker(wsPingPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			// WriteControl may run concurrently with WriteMsg.
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// RemoteAddr returns the remote network address.
func (c *WSConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close sends a best-effort close frame and closes the socket.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// WriteMsg sends msg as a single text frame.
func (c *WSConn) WriteMsg(msg *message.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// ReadMsg reads the next text frame and decodes it. Binary frames are
// reported as malformed.
func (c *WSConn) ReadMsg() (*message.Message, error) {
	kind, raw, err := c.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: %v", ErrMessageTooLarge, err)
		}
		return nil, err
	}
	if kind != websocket.TextMessage {
		return nil, fmt.Errorf("%w: binary frame", message.ErrMalformed)
	}
	return message.Decode(raw)
}

// IsNormalClose reports whether err is a routine WebSocket close rather than
// a failure worth logging.
func IsNormalClose(err error) bool {
	return IsClosed(err) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
