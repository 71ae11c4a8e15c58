package hub

import (
	"context"
	"log/slog"

	"go.klb.dev/clippy/internal/message"
)

// LogContent logs a clipboard event at INFO (kind, room, deliveries) and the
// content preview at DEBUG.
func LogContent(event, conn, room string, c message.Content, delivered int) {
	slog.Info(event, "conn", conn, "room", room, "kind", c.Type, "delivered", delivered)

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("clipboard content", "kind", c.Type, "preview", c.Preview(), "size_bytes", len(c.Data))
}
