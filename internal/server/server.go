// Package server runs the relay on a single TCP port.
//
// The port is shared with cmux between three protocols:
//
//	HTTP/1.1  WebSocket upgrade on / and /ws, plus /v1/status and /healthz
//	HTTP/2    gRPC health checking (grpc.health.v1.Health)
//	anything  newline-delimited JSON for clients without WebSocket
//
// Every relay connection, whatever its framing, goes through the same auth
// gate into the same hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/clippy/internal/clock"
	"go.klb.dev/clippy/internal/gate"
	"go.klb.dev/clippy/internal/hub"
	"go.klb.dev/clippy/internal/wire"
)

// HealthService is the service name reported by the gRPC health server.
const HealthService = "clippy.Relay"

const shutdownTimeout = 5 * time.Second

// Config holds the relay's settings.
type Config struct {
	// Addr is the TCP listen address, e.g. ":3001".
	Addr     string
	RoomCode string
	Version  string

	// Clock defaults to clock.Real().
	Clock clock.Clock
}

// Server is one relay instance.
type Server struct {
	cfg      Config
	clock    clock.Clock
	hub      *hub.Hub
	gate     *gate.Gate
	gw       *gwruntime.ServeMux
	handler  http.Handler
	upgrader websocket.Upgrader

	ln net.Listener
}

// New returns a Server for cfg. Call Listen, then Serve.
func New(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	h := hub.New(cfg.Clock)
	s := &Server{
		cfg:   cfg,
		clock: cfg.Clock,
		hub:   h,
		gate:  gate.New(h, cfg.Clock, cfg.RoomCode),
		gw:    gwruntime.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clipboard clients are native programs, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	if err := s.gw.HandlePath(http.MethodGet, "/v1/status", s.handleStatus); err != nil {
		panic(err)
	}
	if err := s.gw.HandlePath(http.MethodGet, "/healthz", s.handleHealthz); err != nil {
		panic(err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.serveWS)
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.Handle("/", s.gw)
	s.handler = mux
	return s
}

// Hub returns the server's hub, for installing a relay bridge.
func (s *Server) Hub() *hub.Hub { return s.hub }

// Listen binds the listen address. A port already in use is reported here,
// before anything is served.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address. Listen must have succeeded.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Handler returns the HTTP surface: WebSocket upgrade plus the gateway mux.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve runs the relay until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	m := cmux.New(s.ln)
	// A connection that sends nothing is dropped at the same deadline the
	// auth gate would apply.
	m.SetReadTimeout(gate.HandshakeTimeout)
	httpL := m.Match(cmux.HTTP1Fast())
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	rawL := m.Match(cmux.Any())

	gs := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	hsrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 4)
	go func() { errc <- named("grpc", gs.Serve(grpcL)) }()
	go func() { errc <- named("http", hsrv.Serve(httpL)) }()
	go func() { errc <- named("raw tcp", s.serveRaw(rawL)) }()
	go func() { errc <- named("cmux", m.Serve()) }()

	slog.Info("relay listening", "addr", s.ln.Addr().String())

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		slog.Error("relay stopped", "err", err)
	}

	hs.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = hsrv.Shutdown(sctx)
	gs.Stop()
	_ = s.ln.Close()
	return err
}

func named(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: stopped", what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *Server) serveRaw(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.gate.Serve(wire.NewLineConn(c))
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "clippy relay: connect with a WebSocket client", http.StatusUpgradeRequired)
		return
	}
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		slog.Debug("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}
	s.gate.Serve(wire.NewWSConn(c, true))
}
