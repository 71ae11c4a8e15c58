//go:build darwin

package clip

// #cgo CFLAGS: -x objective-c
// #cgo LDFLAGS: -framework Cocoa
// #import <Cocoa/Cocoa.h>
//
// NSInteger clippy_changeCount() {
//     return [[NSPasteboard generalPasteboard] changeCount];
// }
import "C"

import (
	"log/slog"
	"strconv"

	"golang.design/x/clipboard"
)

// New returns the macOS clipboard backend. The revision marker is the
// pasteboard changeCount, which bumps on every write by any application.
func New() Backend {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, using in-memory clipboard", "err", err)
		return NewMemory()
	}
	return &desktopBackend{
		name: "macOS NSPasteboard",
		revision: func(_, _ []byte) string {
			return strconv.FormatInt(int64(C.clippy_changeCount()), 10)
		},
	}
}
