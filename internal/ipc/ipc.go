// Package ipc is the local channel between a running clippy client daemon
// and the CLI tools on the same host.
//
// The daemon serves a small HTTP API on a Unix domain socket (a named pipe
// on Windows): its connection state for "clippy status", and the clipboard
// itself for "clippy copy" and "clippy paste".
package ipc

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"
)

// Daemon endpoints.
const (
	StatusPath    = "/v1/client"
	ClipboardPath = "/v1/clipboard"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux:   $XDG_RUNTIME_DIR/clippy.sock, else $TMPDIR/clippy.sock
//   - macOS:   $TMPDIR/clippy.sock
//   - Windows: \\.\pipe\clippy
//
// $CLIPPY_SOCKET overrides all of them.
func SocketPath() string {
	if s := os.Getenv("CLIPPY_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a clippy client daemon appears to be listening
// on the IPC socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := dialIPC(SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates a listener on the IPC socket path, replacing any stale
// socket from a previous run.
func Listen() (net.Listener, error) {
	return listenIPC(SocketPath())
}

// Serve runs an HTTP server for h on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Client returns an HTTP client whose every request goes to the IPC socket.
// The host part of request URLs is ignored.
func Client() *http.Client {
	path := SocketPath()
	return &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				type result struct {
					c   net.Conn
					err error
				}
				ch := make(chan result, 1)
				go func() {
					c, err := dialIPC(path)
					ch <- result{c, err}
				}()
				select {
				case r := <-ch:
					return r.c, r.err
				case <-ctx.Done():
					go func() {
						if r := <-ch; r.c != nil {
							_ = r.c.Close()
						}
					}()
					return nil, ctx.Err()
				}
			},
		},
	}
}
