package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clippy/internal/ipc"
	"go.klb.dev/clippy/internal/server"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay and local client status",
		Long: `Queries the relay's /v1/status endpoint and, if a clippy client is
running on this machine, its connection state over the IPC socket.

When --server-url is not given and a client is running, the client's relay is
queried.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	addServerURLFlag(cmd)
	cmd.Flags().Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

type statusReport struct {
	Client    *clientStatus  `json:"client,omitempty"`
	Server    *server.Status `json:"server,omitempty"`
	ServerErr string         `json:"server_error,omitempty"`
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	var rep statusReport
	serverURL := v.GetString("server-url")

	if ipc.IsRunning() {
		cs, err := daemonStatus()
		if err != nil {
			return fmt.Errorf("ipc: %w", err)
		}
		rep.Client = cs
		if !cmd.Flags().Changed("server-url") {
			serverURL = cs.ServerURL
		}
	}

	st, err := relayStatus(serverURL)
	if err != nil {
		rep.ServerErr = err.Error()
	} else {
		rep.Server = st
	}

	if v.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printStatus(os.Stdout, serverURL, rep)
	if rep.Server == nil && rep.Client == nil {
		return err
	}
	return nil
}

func daemonStatus() (*clientStatus, error) {
	resp, err := ipc.Client().Get("http://clippy" + ipc.StatusPath)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var cs clientStatus
	if err := json.NewDecoder(resp.Body).Decode(&cs); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &cs, nil
}

// statusURL maps a relay URL to its HTTP status endpoint.
func statusURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "tcp":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("server url %q: unsupported scheme %q", serverURL, u.Scheme)
	}
	u.Path, u.RawQuery = "/v1/status", ""
	return u.String(), nil
}

func relayStatus(serverURL string) (*server.Status, error) {
	target, err := statusURL(serverURL)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", target, resp.Status)
	}
	var st server.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &st, nil
}

func printStatus(out io.Writer, serverURL string, rep statusReport) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)

	if c := rep.Client; c != nil {
		fmt.Fprintf(w, "Client:\t%s (%s)\n", c.State, c.Backend)
		fmt.Fprintf(w, "Room:\t%s\n", c.Room)
		if !c.Since.IsZero() {
			fmt.Fprintf(w, "Since:\t%s (%s)\n", c.Since.UTC().Format(time.RFC3339), fmtAge(c.Since))
		}
		if c.LastError != "" {
			fmt.Fprintf(w, "Last error:\t%s\n", c.LastError)
		}
	} else {
		fmt.Fprintf(w, "Client:\tnot running\n")
	}

	fmt.Fprintf(w, "Server:\t%s\n", serverURL)
	if s := rep.Server; s != nil {
		fmt.Fprintf(w, "Version:\t%s\n", s.Version)
		fmt.Fprintf(w, "Up:\t%s\n", (time.Duration(s.UptimeSeconds) * time.Second).String())
		fmt.Fprintf(w, "Members:\t%d\n", s.Members)
	} else {
		fmt.Fprintf(w, "Unreachable:\t%s\n", rep.ServerErr)
	}
	_ = w.Flush()

	if rep.Server == nil || len(rep.Server.Rooms) == 0 {
		return
	}
	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "\tROOM\tMEMBERS\n")
	_, _ = fmt.Fprintf(tw, "\t----\t-------\n")
	for _, r := range rep.Server.Rooms {
		marker := ""
		if rep.Client != nil && r.ID == rep.Client.Room {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\n", marker, r.ID, r.Members)
	}
	_ = tw.Flush()
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("15:04:05")
}
