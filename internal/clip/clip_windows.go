//go:build windows

package clip

import (
	"log/slog"

	"golang.design/x/clipboard"
)

// New returns the Windows clipboard backend.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, using in-memory clipboard", "err", err)
		return NewMemory()
	}
	return &desktopBackend{name: "Windows Clipboard", revision: contentRevision}
}
