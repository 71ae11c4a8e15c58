package main

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clippy/internal/server"
	"go.klb.dev/clippy/internal/snapshot"
)

func newTestCmd(t *testing.T, args ...string) (*cobra.Command, *viper.Viper) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	v := viper.New()
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	addRoomFlag(cmd)
	addServerURLFlag(cmd)
	cmd.Flags().Int("port", defaultPort, "")
	addConfigFlag(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if err := bindViper(cmd, v); err != nil {
		t.Fatalf("bindViper: %v", err)
	}
	return cmd, v
}

func TestConfigDefaults(t *testing.T) {
	for _, env := range []string{"ROOM_CODE", "CLIPPY_ROOM_CODE", "SERVER_URL", "CLIPPY_SERVER_URL", "PORT", "CLIPPY_PORT"} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	_, v := newTestCmd(t)
	if got := v.GetString("room-code"); got != "clippy-default-room" {
		t.Errorf("room-code = %q", got)
	}
	if got := v.GetString("server-url"); got != "ws://localhost:3001" {
		t.Errorf("server-url = %q", got)
	}
	if got := v.GetInt("port"); got != 3001 {
		t.Errorf("port = %d", got)
	}
}

func TestConfigLegacyEnv(t *testing.T) {
	t.Setenv("CLIPPY_ROOM_CODE", "")
	os.Unsetenv("CLIPPY_ROOM_CODE")
	t.Setenv("ROOM_CODE", "from-legacy")
	t.Setenv("PORT", "4000")

	_, v := newTestCmd(t)
	if got := v.GetString("room-code"); got != "from-legacy" {
		t.Errorf("room-code = %q, want from-legacy", got)
	}
	if got := v.GetInt("port"); got != 4000 {
		t.Errorf("port = %d, want 4000", got)
	}
}

func TestConfigPrecedence(t *testing.T) {
	t.Setenv("ROOM_CODE", "legacy")
	t.Setenv("CLIPPY_ROOM_CODE", "prefixed")

	_, v := newTestCmd(t)
	if got := v.GetString("room-code"); got != "prefixed" {
		t.Errorf("room-code = %q, want the CLIPPY_ variable to win", got)
	}

	_, v = newTestCmd(t, "--room-code", "flag")
	if got := v.GetString("room-code"); got != "flag" {
		t.Errorf("room-code = %q, want the flag to win", got)
	}
}

func TestConfigFile(t *testing.T) {
	for _, env := range []string{"ROOM_CODE", "CLIPPY_ROOM_CODE"} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
	path := filepath.Join(t.TempDir(), "clippy.toml")
	if err := os.WriteFile(path, []byte("room-code = \"from-file\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, v := newTestCmd(t, "--config", path)
	if got := v.GetString("room-code"); got != "from-file" {
		t.Errorf("room-code = %q, want from-file", got)
	}
}

func TestStatusURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "ws://localhost:3001", want: "http://localhost:3001/v1/status"},
		{in: "ws://10.0.0.5:3001/ws", want: "http://10.0.0.5:3001/v1/status"},
		{in: "wss://relay.example.com", want: "https://relay.example.com/v1/status"},
		{in: "tcp://relay:3001", want: "http://relay:3001/v1/status"},
		{in: "ftp://relay", wantErr: true},
	}
	for _, tt := range tests {
		got, err := statusURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("statusURL(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("statusURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContentFor(t *testing.T) {
	t.Parallel()

	c, err := contentFor([]byte("plain words\n"))
	if err != nil || c.Type != snapshot.KindText || c.Data != "plain words\n" {
		t.Errorf("text: %+v, %v", c, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 5, 3))); err != nil {
		t.Fatal(err)
	}
	c, err = contentFor(buf.Bytes())
	if err != nil || c.Type != snapshot.KindImage || c.Width != 5 || c.Height != 3 {
		t.Errorf("image: %s, %v", c.Preview(), err)
	}
}

func TestPrintBanner(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printBanner(&buf, "192.168.1.20", 3001, "room1")
	want := "CLIPPY_SERVER_URL=ws://192.168.1.20:3001 CLIPPY_ROOM_CODE=room1 clippy client"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("banner missing join command:\n%s", buf.String())
	}
}

func TestPrintStatus(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printStatus(&buf, "ws://relay:3001", statusReport{
		Client: &clientStatus{State: "synced", Room: "abc", Backend: "in-memory"},
		Server: &server.Status{Version: "1.0", Members: 2, Rooms: []server.RoomStatus{{ID: "abc", Members: 2}}},
	})
	out := buf.String()
	for _, want := range []string{"synced", "ws://relay:3001", "Members:", "*  abc"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
