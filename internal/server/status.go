package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status is the document served at /v1/status.
type Status struct {
	Version       string       `json:"version"`
	Started       time.Time    `json:"started"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Members       int          `json:"members"`
	Rooms         []RoomStatus `json:"rooms"`
}

// RoomStatus describes one room by its public id.
type RoomStatus struct {
	ID      string `json:"id"`
	Members int    `json:"members"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	st := s.hub.Stats()
	now := s.clock.Now()

	rooms := make([]any, 0, len(st.Rooms))
	for _, rm := range st.Rooms {
		rooms = append(rooms, map[string]any{"id": rm.ID, "members": rm.Members})
	}
	doc, err := structpb.NewStruct(map[string]any{
		"version":        s.cfg.Version,
		"started":        st.Started.UTC().Format(time.RFC3339Nano),
		"uptime_seconds": now.Sub(st.Started).Seconds(),
		"members":        st.Members,
		"rooms":          rooms,
	})
	if err != nil {
		slog.Error("status document", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	_, out := gwruntime.MarshalerForRequest(s.gw, r)
	body, err := out.Marshal(doc)
	if err != nil {
		slog.Error("status marshal", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", out.ContentType(doc))
	_, _ = w.Write(body)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}
