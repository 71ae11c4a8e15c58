//go:build linux

package clip

import (
	"log/slog"

	"golang.design/x/clipboard"
)

// New returns the Linux clipboard backend, or an in-memory clipboard if the
// display environment is unavailable (a headless server without X11 or
// Wayland). clipboard.Init is called here rather than in init() so that CLI
// sub-commands that never touch the clipboard don't log the warning.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, using in-memory clipboard", "err", err)
		return NewMemory()
	}
	return &desktopBackend{name: "Linux clipboard (poll)", revision: contentRevision}
}
