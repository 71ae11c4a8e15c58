// clippy: shared clipboard through a relay server.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/clippy/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clippy",
		Short: "Shared clipboard through a relay server",
		Long: `clippy keeps the clipboards of several machines in sync. One machine
runs "clippy server"; every machine that wants to share runs "clippy client"
with the same room code. Text and images are relayed; everything else stays
local.

Config file search order (first found wins):
  /etc/clippy/clippy.toml
  $HOME/.config/clippy/clippy.toml
  path supplied via --config

Flags can also be set via CLIPPY_<FLAG> env vars or config-file keys.
ROOM_CODE, SERVER_URL and PORT are honoured as well.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newCopyCmd(),
		newPasteCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clippy %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr, file string) io.Closer {
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	return logging.Setup(logging.Options{
		Format: logging.ParseFormat(formatStr),
		Level:  level,
		File:   file,
	})
}
