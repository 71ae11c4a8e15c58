package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clippy/internal/bridge"
	"go.klb.dev/clippy/internal/hub"
	"go.klb.dev/clippy/internal/server"
)

func newServerCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the clipboard relay",
		Long: `Starts the clippy relay. Clients that present the room code are joined
into one room and every clipboard change one of them sends is relayed to the
others.

WebSocket clients connect to ws://<host>:<port>/ (or /ws). Clients without
WebSocket can send newline-delimited JSON to the same port. /v1/status,
/healthz and the gRPC health service are served there too.

With --nats-url several relays share their rooms through NATS. Events larger
than the NATS server's max_payload stay on the relay that received them.

Config file search order:
  /etc/clippy/clippy.toml
  $HOME/.config/clippy/clippy.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServer(v) },
	}

	f := cmd.Flags()
	f.Int("port", defaultPort, "TCP port to listen on (env PORT)")
	f.String("host", "", "address to bind (default: all interfaces)")
	f.String("nats-url", "", "NATS server for relaying rooms between instances (empty = standalone)")
	addRoomFlag(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServer(v *viper.Viper) error {
	defer setupLogging(v).Close()

	port := v.GetInt("port")
	code := v.GetString("room-code")
	addr := net.JoinHostPort(v.GetString("host"), strconv.Itoa(port))

	srv := server.New(server.Config{
		Addr:     addr,
		RoomCode: code,
		Version:  Version,
	})
	if err := srv.Listen(); err != nil {
		fmt.Fprintf(os.Stderr, "Port %d is already in use or unavailable.\n", port)
		fmt.Fprintf(os.Stderr, "Try: PORT=%d clippy server\n", port+1)
		return err
	}

	slog.Info("clippy server starting",
		"version", Version,
		"addr", srv.Addr().String(),
		"room", hub.RoomID(code),
	)

	if url := v.GetString("nats-url"); url != "" {
		nc, err := bridge.Connect(url)
		if err != nil {
			slog.Warn("running standalone, nats unavailable", "err", err)
		} else {
			br := bridge.New(nc, srv.Hub())
			if err := br.Join(code); err != nil {
				nc.Close()
				return fmt.Errorf("nats bridge: %w", err)
			}
			srv.Hub().SetRelay(br)
			defer func() {
				br.Close()
				_ = nc.Drain()
			}()
		}
	}

	printBanner(os.Stdout, localIP(), port, code)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := srv.Serve(ctx)
	slog.Info("clippy server stopped")
	return err
}

// printBanner tells the operator how to point other machines at this relay.
func printBanner(w io.Writer, ip string, port int, code string) {
	rule := strings.Repeat("━", 60)
	fmt.Fprintf(w, "Clippy relay running on port %d\n", port)
	fmt.Fprintf(w, "Room code: %s\n\n", code)
	fmt.Fprintln(w, "To join from another machine:")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "   CLIPPY_SERVER_URL=ws://%s:%d CLIPPY_ROOM_CODE=%s clippy client\n\n", ip, port, code)
	fmt.Fprintf(w, "   Server IP: %s\n", ip)
	fmt.Fprintf(w, "   Port:      %d\n", port)
	fmt.Fprintf(w, "   Room code: %s\n", code)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}

// localIP returns the first non-loopback IPv4 address, or "localhost".
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() {
			continue
		}
		if ip4 := ipn.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "localhost"
}
