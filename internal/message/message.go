// Package message defines the clippy wire protocol.
//
// Every message is a JSON object tagged by "type":
//
//	{"type":"auth","code":"room1"}
//	{"type":"auth_success"}
//	{"type":"auth_failed"}
//	{"type":"clipboard","content":{"type":"text","data":"hello"},"timestamp":1718000000000}
//
// Image content carries base64 PNG data plus width and height. There is no
// version field: unknown types decode successfully and are ignored by every
// peer, so new kinds can be added without breaking old ones.
package message

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.klb.dev/clippy/internal/snapshot"
)

// ErrMalformed marks input that does not form a valid message. Callers drop
// the message and, outside the auth handshake, keep the connection.
var ErrMalformed = errors.New("malformed message")

// Type identifies the kind of message.
type Type string

const (
	TypeAuth        Type = "auth"
	TypeAuthSuccess Type = "auth_success"
	TypeAuthFailed  Type = "auth_failed"
	TypeClipboard   Type = "clipboard"
)

// Known reports whether t is one of the types this version understands.
func (t Type) Known() bool {
	switch t {
	case TypeAuth, TypeAuthSuccess, TypeAuthFailed, TypeClipboard:
		return true
	}
	return false
}

// Content is a clipboard payload. Data is the raw text for text content and
// base64 PNG for images.
type Content struct {
	Type   snapshot.Kind `json:"type"`
	Data   string        `json:"data"`
	Width  int           `json:"width,omitempty"`
	Height int           `json:"height,omitempty"`
}

// Text returns text content.
func Text(s string) Content {
	return Content{Type: snapshot.KindText, Data: s}
}

// Image returns image content from an encoded snapshot image.
func Image(img snapshot.Image) Content {
	return Content{Type: snapshot.KindImage, Data: img.Data, Width: img.Width, Height: img.Height}
}

// Validate checks the content against its kind.
func (c Content) Validate() error {
	switch c.Type {
	case snapshot.KindText:
		return nil
	case snapshot.KindImage:
		if c.Width <= 0 || c.Height <= 0 {
			return fmt.Errorf("%w: image dimensions %dx%d", ErrMalformed, c.Width, c.Height)
		}
		if c.Data == "" {
			return fmt.Errorf("%w: empty image data", ErrMalformed)
		}
		if _, err := base64.StdEncoding.DecodeString(c.Data); err != nil {
			return fmt.Errorf("%w: image data: %v", ErrMalformed, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown content kind %q", ErrMalformed, c.Type)
	}
}

// Message is the wire envelope. Only the fields belonging to Type are
// meaningful.
type Message struct {
	Type Type

	// auth
	Code string

	// clipboard
	Content   Content
	Timestamp int64 // ms since the Unix epoch; zero when the sender omitted it
}

// Auth returns an auth request carrying the room code.
func Auth(code string) *Message { return &Message{Type: TypeAuth, Code: code} }

// AuthSuccess returns the server's handshake acceptance.
func AuthSuccess() *Message { return &Message{Type: TypeAuthSuccess} }

// AuthFailed returns the server's handshake rejection.
func AuthFailed() *Message { return &Message{Type: TypeAuthFailed} }

// Clipboard returns a clipboard event.
func Clipboard(c Content, timestamp int64) *Message {
	return &Message{Type: TypeClipboard, Content: c, Timestamp: timestamp}
}

// Millis converts t to the protocol's timestamp unit.
func Millis(t time.Time) int64 { return t.UnixMilli() }

type envelope struct {
	Type      Type     `json:"type"`
	Code      *string  `json:"code,omitempty"`
	Content   *Content `json:"content,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// MarshalJSON emits only the fields that belong to m.Type.
func (m Message) MarshalJSON() ([]byte, error) {
	e := envelope{Type: m.Type}
	switch m.Type {
	case TypeAuth:
		code := m.Code
		e.Code = &code
	case TypeClipboard:
		c := m.Content
		e.Content = &c
		e.Timestamp = m.Timestamp
	}
	return json.Marshal(e)
}

// Encode serialises the message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates one message. Failures wrap ErrMalformed.
// Unknown types are returned as-is with no other fields set.
func Decode(b []byte) (*Message, error) {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	m := &Message{Type: e.Type}
	switch e.Type {
	case TypeAuth:
		if e.Code == nil {
			return nil, fmt.Errorf("%w: auth without code", ErrMalformed)
		}
		m.Code = *e.Code
	case TypeClipboard:
		if e.Content == nil {
			return nil, fmt.Errorf("%w: clipboard without content", ErrMalformed)
		}
		if err := e.Content.Validate(); err != nil {
			return nil, err
		}
		m.Content = *e.Content
		m.Timestamp = e.Timestamp
	}
	return m, nil
}

// Preview returns a log-friendly description of clipboard content: a text
// prefix of up to 50 runes, or the image dimensions.
func (c Content) Preview() string {
	switch c.Type {
	case snapshot.KindText:
		r := []rune(c.Data)
		if len(r) > 50 {
			return fmt.Sprintf("%q…", string(r[:50]))
		}
		return fmt.Sprintf("%q", c.Data)
	case snapshot.KindImage:
		return fmt.Sprintf("image %dx%d", c.Width, c.Height)
	default:
		return string(c.Type)
	}
}
