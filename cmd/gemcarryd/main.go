// Command gemcarryd runs the GemCarry game server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/gemcarry/config"
)

// Version information set at build time.
var version = "dev"

type flags struct {
	configPath     string
	listen         string
	maxConnections int
	bufferSize     int
	logLevel       string
	logDir         string
	admin          string
	console        bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// runFunc starts the server with a validated configuration.
type runFunc func(ctx context.Context, cfg *config.Config, console bool) error

func rootCmd() *cobra.Command {
	return newRootCmd(run)
}

func newRootCmd(runServer runFunc) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "gemcarryd",
		Short: "GemCarry multiplayer game server",
		Long: `gemcarryd accepts game clients over TCP, authenticates players and
relays chat between the members of each game session.

Configuration is read from the defaults, then --config, then GEMCARRY_*
environment variables, then the flags below.

Examples:
  gemcarryd
  gemcarryd --config /etc/gemcarry.yaml
  gemcarryd --listen 0.0.0.0:1025 --max-connections 5000`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			return runServer(cmd.Context(), cfg, f.console)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVarP(&f.listen, "listen", "l", "", "Game listen address (default 0.0.0.0:1025)")
	cmd.Flags().IntVar(&f.maxConnections, "max-connections", 0, "Maximum concurrent connections")
	cmd.Flags().IntVar(&f.bufferSize, "buffer-size", 0, "Per-connection buffer size in bytes")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&f.logDir, "log-dir", "", "Write daily log files to this directory")
	cmd.Flags().StringVar(&f.admin, "admin", "", "Admin HTTP address for /metrics, /healthz and /sessions")
	cmd.Flags().BoolVar(&f.console, "console", true, "Read operator commands from stdin")

	return cmd
}

// loadConfig layers the changed flags over the file and environment
// configuration and validates the result.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("listen") {
		cfg.ListenAddr = f.listen
	}
	if changed("max-connections") {
		cfg.MaxConnections = f.maxConnections
	}
	if changed("buffer-size") {
		cfg.BufferSize = f.bufferSize
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-dir") {
		cfg.LogDir = f.logDir
	}
	if changed("admin") {
		cfg.AdminAddr = f.admin
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
