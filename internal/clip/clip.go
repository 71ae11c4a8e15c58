// Package clip wraps the system clipboard behind a small interface.
// Build constraints select the implementation:
//
//	clip_darwin.go   — macOS via golang.design/x/clipboard + NSPasteboard changeCount
//	clip_windows.go  — Windows via golang.design/x/clipboard
//	clip_linux.go    — Linux via golang.design/x/clipboard, in-memory when headless
//	clip_other.go    — in-memory clipboard
//
// Formats returns the format identifiers currently on offer. Besides the
// MIME-style identifiers below, every backend adds one revision marker that
// changes whenever the clipboard is rewritten, so a fingerprint over the
// identifiers changes with the content.
package clip

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

const (
	FormatText = "text/plain"
	FormatPNG  = "image/png"

	revisionPrefix = "rev:"
)

// Backend is the clipboard capability the watcher and sync client use.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Formats lists the identifiers of the formats currently available.
	Formats() ([]string, error)

	// ReadText returns the plain-text content, or "" if there is none.
	ReadText() (string, error)

	// ReadImage returns the image content as encoded bytes (PNG on every
	// desktop backend), or nil if there is none.
	ReadImage() ([]byte, error)

	WriteText(string) error
	WriteImage(png []byte) error

	// Close releases any resources held by the backend.
	Close()
}

// IsRevision reports whether a format identifier is a revision marker
// rather than a content format.
func IsRevision(format string) bool {
	return strings.HasPrefix(format, revisionPrefix)
}

// Memory is a process-local clipboard. It backs headless hosts and tests.
type Memory struct {
	mu    sync.Mutex
	text  string
	img   []byte
	other []string
	rev   uint64
}

// NewMemory returns an empty in-memory clipboard.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "in-memory" }

func (m *Memory) Formats() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	if m.text != "" {
		out = append(out, FormatText)
	}
	if len(m.img) > 0 {
		out = append(out, FormatPNG)
	}
	out = append(out, m.other...)
	if len(out) == 0 {
		return nil, nil
	}
	return append(out, fmt.Sprintf("%s%d", revisionPrefix, m.rev)), nil
}

func (m *Memory) ReadText() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) ReadImage() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.img), nil
}

// WriteText replaces the clipboard with text.
func (m *Memory) WriteText(s string) error {
	m.mu.Lock()
	m.text, m.img, m.other = s, nil, nil
	m.rev++
	m.mu.Unlock()
	return nil
}

// WriteImage replaces the clipboard with an image.
func (m *Memory) WriteImage(png []byte) error {
	m.mu.Lock()
	m.text, m.img, m.other = "", slices.Clone(png), nil
	m.rev++
	m.mu.Unlock()
	return nil
}

// WriteOther replaces the clipboard with content in formats no backend
// understands, the way a file manager or rich-text editor might.
func (m *Memory) WriteOther(formats ...string) {
	m.mu.Lock()
	m.text, m.img, m.other = "", nil, slices.Clone(formats)
	m.rev++
	m.mu.Unlock()
}

func (m *Memory) Close() {}
