package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/muse254/counter-simple-websockets/internal/broadcast"
	"github.com/muse254/counter-simple-websockets/internal/codec"
	"github.com/muse254/counter-simple-websockets/internal/server"
	"github.com/muse254/counter-simple-websockets/internal/state"
)

// version is set via -ldflags.
var version = "dev"

type rootOptions struct {
	configFile string
	port       string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "counter-server",
		Short: "Serve a shared counter over WebSockets",
		Long: `counter-server keeps one authoritative counter and rebroadcasts it to
every connected WebSocket client after each transition.

Clients send {"Add":n}, {"Subtract":n} or "Reset" as text frames and
receive {"value":n} snapshots. Any other text is echoed back unchanged.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, cmd.Flags().Changed)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", "", "config file (yaml, toml or json)")
	cmd.Flags().StringVarP(&opts.port, "port", "p", "", "listen address, e.g. :8080 (overrides SERVER_PORT)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	return cmd
}

func run(ctx context.Context, opts *rootOptions, changed func(string) bool) error {
	cfg, err := server.LoadConfig(opts.configFile)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, opts, changed); err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel)

	hub, err := broadcast.NewHub(state.NewCounter(), codec.Counter{},
		broadcast.WithLogger(logger.WithPrefix("hub")))
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}
	go hub.Run(context.Background())
	logger.Info("Hub started and ready to manage WebSocket connections")

	srv := server.New(cfg, hub, logger.WithPrefix("server"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = hub.Shutdown(cfg.ShutdownTimeout)
		return err
	case <-ctx.Done():
	}

	return shutdown(logger, hub, srv, cfg.ShutdownTimeout)
}

// applyFlags overrides cfg with the flags the user set explicitly.
func applyFlags(cfg *server.Config, opts *rootOptions, changed func(string) bool) error {
	if changed("port") {
		cfg.SetPort(opts.port)
	}
	if changed("log-level") {
		level, err := log.ParseLevel(opts.logLevel)
		if err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", opts.logLevel, err)
		}
		cfg.LogLevel = level
	}
	return nil
}

// shutdown stops the hub first so every client connection is closed, then
// drains the HTTP server and the client pumps.
func shutdown(logger *log.Logger, hub *broadcast.Hub[*state.Counter], srv *server.Server, timeout time.Duration) error {
	logger.Info("Received shutdown signal")

	hubErr := hub.Shutdown(timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	srvErr := srv.Shutdown(ctx)

	if err := errors.Join(hubErr, srvErr); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

func setupLogger(level log.Level) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
	})
	log.SetDefault(logger)
	return logger
}
