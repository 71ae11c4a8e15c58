package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clippy/internal/logging"
)

const (
	defaultRoomCode  = "clippy-default-room"
	defaultServerURL = "ws://localhost:3001"
	defaultPort      = 3001
)

// legacyEnv lists the unprefixed variables accepted alongside CLIPPY_*.
var legacyEnv = map[string]string{
	"room-code":  "ROOM_CODE",
	"server-url": "SERVER_URL",
	"port":       "PORT",
}

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPPY_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clippy")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/clippy/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/clippy", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPPY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if cmd.Flags().Lookup(key) == nil {
			continue
		}
		prefixed := "CLIPPY_" + strings.ReplaceAll(strings.ToUpper(key), "-", "_")
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("binding env %s: %w", env, err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
	cmd.Flags().String("log-file", "", "also write JSON logs to this file, rotated at 10 MB")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

func addRoomFlag(cmd *cobra.Command) {
	cmd.Flags().String("room-code", defaultRoomCode, "shared room secret (env ROOM_CODE)")
}

func addServerURLFlag(cmd *cobra.Command) {
	cmd.Flags().String("server-url", defaultServerURL, "relay URL: ws://, wss:// or tcp://host:port (env SERVER_URL)")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) io.Closer {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	return resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"), v.GetString("log-file"))
}
