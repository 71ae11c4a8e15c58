package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"go.klb.dev/clippy/internal/ipc"
	"go.klb.dev/clippy/internal/message"
	"go.klb.dev/clippy/internal/snapshot"
)

func newPasteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paste",
		Short: "Print the shared clipboard (like pbpaste)",
		Long: `Writes the clipboard content last seen by the local clippy client to
stdout: text as-is, images as PNG bytes. The relay keeps no history, so paste
needs a running client.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error { return runPaste(os.Stdout) },
	}
}

func runPaste(w io.Writer) error {
	if !ipc.IsRunning() {
		return errNoDaemon
	}
	resp, err := ipc.Client().Get("http://clippy" + ipc.ClipboardPath)
	if err != nil {
		return fmt.Errorf("ipc: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("daemon: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var c message.Content
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	switch c.Type {
	case snapshot.KindText:
		_, err = io.WriteString(w, c.Data)
	case snapshot.KindImage:
		var png []byte
		png, err = base64.StdEncoding.DecodeString(c.Data)
		if err == nil {
			_, err = w.Write(png)
		}
	}
	return err
}
