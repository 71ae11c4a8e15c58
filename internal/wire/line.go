package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"time"

	"go.klb.dev/clippy/internal/message"
)

// LineConn wraps a net.Conn with buffered newline-delimited JSON framing.
type LineConn struct {
	conn net.Conn
	br   *bufio.Reader
}

// NewLineConn wraps conn.
func NewLineConn(conn net.Conn) *LineConn {
	return &LineConn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
	}
}

// Close closes the underlying connection.
func (c *LineConn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *LineConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// WriteMsg serialises msg and writes it followed by a newline.
func (c *LineConn) WriteMsg(msg *message.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	line := append(raw, '\n')

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err = c.conn.Write(line)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// ReadMsg reads one newline-terminated line and decodes it. Blank lines are
// skipped.
func (c *LineConn) ReadMsg() (*message.Message, error) {
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return message.Decode(line)
	}
}

func (c *LineConn) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := c.br.ReadSlice('\n')
		if len(line)+len(chunk) > MaxMessageSize {
			return nil, fmt.Errorf("%w (over %d bytes)", ErrMessageTooLarge, MaxMessageSize)
		}
		line = append(line, chunk...)
		switch err {
		case nil:
			return line, nil
		case bufio.ErrBufferFull:
			continue
		default:
			return nil, err
		}
	}
}
