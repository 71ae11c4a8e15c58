package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clippy/internal/gate"
	"go.klb.dev/clippy/internal/ipc"
	"go.klb.dev/clippy/internal/message"
	"go.klb.dev/clippy/internal/snapshot"
	"go.klb.dev/clippy/internal/syncclient"
	"go.klb.dev/clippy/internal/wire"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy stdin to the shared clipboard (like pbcopy)",
		Long: `Reads stdin and sends it to everyone in the room. PNG, JPEG and GIF
input is sent as an image, anything else as text.

If a local clippy client is running, it is used via the IPC socket and the
local clipboard is updated too. Otherwise copy connects to the relay itself,
authenticates, sends one clipboard event and exits.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runCopy(cmd, v) },
	}

	addServerURLFlag(cmd)
	addRoomFlag(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runCopy(cmd *cobra.Command, v *viper.Viper) error {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, wire.MaxMessageSize))
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	// Try local daemon first
	if !cmd.Flags().Changed("server-url") && ipc.IsRunning() {
		if err := copyViaDaemon(data); err != nil {
			slog.Warn("ipc copy failed, connecting to the relay", "err", err)
		} else {
			return nil
		}
	}

	content, err := contentFor(data)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*gate.HandshakeTimeout)
	defer cancel()
	return sendOnce(ctx, v.GetString("server-url"), v.GetString("room-code"), content)
}

// contentFor classifies raw input as image or text content.
func contentFor(data []byte) (message.Content, error) {
	if strings.HasPrefix(http.DetectContentType(data), "image/") {
		img, err := snapshot.EncodeImage(data)
		if err == nil {
			return message.Image(img), nil
		}
		slog.Debug("input looks like an image but does not decode, sending as text", "err", err)
	}
	return message.Text(string(data)), nil
}

func copyViaDaemon(data []byte) error {
	resp, err := ipc.Client().Post("http://clippy"+ipc.ClipboardPath, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("daemon: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// sendOnce authenticates against the relay at url and sends one clipboard
// event.
func sendOnce(ctx context.Context, url, code string, content message.Content) error {
	conn, err := wire.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteMsg(message.Auth(code)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	reply := make(chan error, 1)
	go func() {
		for {
			m, err := conn.ReadMsg()
			if err != nil {
				if wire.IsMalformed(err) {
					continue
				}
				reply <- fmt.Errorf("awaiting auth reply: %w", err)
				return
			}
			switch m.Type {
			case message.TypeAuthSuccess:
				reply <- nil
				return
			case message.TypeAuthFailed:
				reply <- syncclient.ErrAuthFailed
				return
			}
		}
	}()

	select {
	case err := <-reply:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("awaiting auth reply: %w", ctx.Err())
	}

	msg := message.Clipboard(content, message.Millis(time.Now()))
	if err := conn.WriteMsg(msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	slog.Debug("clipboard sent", "kind", content.Type, "preview", content.Preview())
	return nil
}

// errNoDaemon is returned by commands that need a running client.
var errNoDaemon = errors.New("no clippy client is running on this machine")
