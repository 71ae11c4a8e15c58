package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clippy/internal/clip"
	"go.klb.dev/clippy/internal/clock"
	"go.klb.dev/clippy/internal/hub"
	"go.klb.dev/clippy/internal/ipc"
	"go.klb.dev/clippy/internal/syncclient"
	"go.klb.dev/clippy/internal/watch"
)

func newClientCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a clippy relay and sync the local clipboard",
		Long: `Connects to a clippy relay and keeps the local system clipboard in
sync with every other client in the same room. The clipboard is checked once a
second; text and images are shared. Reconnects 5 seconds after the connection
is lost. A wrong room code stops the client.

While running, the client answers "clippy status", "clippy copy" and
"clippy paste" on the local IPC socket.

Config file search order:
  /etc/clippy/clippy.toml
  $HOME/.config/clippy/clippy.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runClient(v) },
	}

	addServerURLFlag(cmd)
	addRoomFlag(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runClient(v *viper.Viper) error {
	defer setupLogging(v).Close()

	serverURL := v.GetString("server-url")
	code := v.GetString("room-code")

	slog.Info("clippy client starting",
		"version", Version,
		"server", serverURL,
		"room", hub.RoomID(code),
	)

	backend := clip.New()
	defer backend.Close()
	slog.Info("clipboard backend", "name", backend.Name())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var authErr error
	w := watch.New(backend, clock.Real())
	c := syncclient.New(syncclient.Config{
		ServerURL: serverURL,
		RoomCode:  code,
		OnStateChange: func(s syncclient.State, err error) {
			slog.Debug("client state", "state", s)
			if errors.Is(err, syncclient.ErrAuthFailed) {
				authErr = err
				cancel()
			}
		},
	}, w)

	// IPC socket so copy/paste/status can talk to us
	ipcLn, err := ipc.Listen()
	if err != nil {
		slog.Warn("IPC socket unavailable", "err", err)
	} else {
		slog.Info("IPC socket listening", "path", ipc.SocketPath())
		d := &daemon{client: c, watcher: w, backend: backend}
		go func() {
			if err := ipc.Serve(ctx, ipcLn, d.handler()); err != nil {
				slog.Warn("IPC server stopped", "err", err)
			}
		}()
	}

	if err := c.Run(ctx); err != nil {
		return err
	}
	if authErr != nil {
		slog.Error("check the room code and try again")
		return authErr
	}
	return nil
}
