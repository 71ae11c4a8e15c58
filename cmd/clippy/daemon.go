package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.klb.dev/clippy/internal/clip"
	"go.klb.dev/clippy/internal/ipc"
	"go.klb.dev/clippy/internal/message"
	"go.klb.dev/clippy/internal/snapshot"
	"go.klb.dev/clippy/internal/syncclient"
	"go.klb.dev/clippy/internal/watch"
	"go.klb.dev/clippy/internal/wire"
)

// clientStatus is what a running client daemon reports over IPC.
type clientStatus struct {
	Version   string    `json:"version"`
	State     string    `json:"state"`
	ServerURL string    `json:"server_url"`
	Room      string    `json:"room"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
	Backend   string    `json:"backend"`
}

// daemon serves the client's IPC endpoints.
type daemon struct {
	client  *syncclient.Client
	watcher *watch.Watcher
	backend clip.Backend
}

func (d *daemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+ipc.StatusPath, d.status)
	mux.HandleFunc("GET "+ipc.ClipboardPath, d.paste)
	mux.HandleFunc("POST "+ipc.ClipboardPath, d.copy)
	return mux
}

func (d *daemon) status(w http.ResponseWriter, _ *http.Request) {
	st := d.client.State()
	writeJSON(w, clientStatus{
		Version:   Version,
		State:     st.State.String(),
		ServerURL: st.ServerURL,
		Room:      st.RoomID,
		Since:     st.Since,
		LastError: st.LastError,
		Backend:   d.backend.Name(),
	})
}

// paste returns the last clipboard content the daemon saw or applied.
func (d *daemon) paste(w http.ResponseWriter, _ *http.Request) {
	st := d.watcher.State()
	switch st.Kind {
	case snapshot.KindText, snapshot.KindImage:
		writeJSON(w, message.Content{Type: st.Kind, Data: st.Payload, Width: st.Width, Height: st.Height})
	default:
		http.Error(w, "no shareable clipboard content", http.StatusNotFound)
	}
}

// copy places the request body on the local clipboard. The watcher picks it
// up on its next tick and sends it to the room like any other local copy.
func (d *daemon) copy(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, wire.MaxMessageSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	content, err := contentFor(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch content.Type {
	case snapshot.KindImage:
		png, _, derr := snapshot.DecodeImage(content.Data)
		if derr == nil {
			err = d.backend.WriteImage(png)
		} else {
			err = derr
		}
	default:
		err = d.backend.WriteText(content.Data)
	}
	if err != nil {
		slog.Warn("ipc copy failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Debug("ipc: clipboard written", "kind", content.Type)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("ipc response", "err", err)
	}
}
