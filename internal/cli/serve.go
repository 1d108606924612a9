package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pyp/internal/gateway"
	"pyp/internal/gateway/websocket"
	"pyp/internal/jsvm"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the live-preview gateway server",
		Long: `Start the live-preview gateway: a POST /render endpoint that runs a
template body through the preprocessor, and a GET /ws endpoint that
pushes reload notifications when a watched file changes.

The server listens on the configured host and port (default: 127.0.0.1:18788).`,
		Example: `  pyp serve
  pyp serve --port 8080
  pyp serve --watch ./templates`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().String("host", "", "host to bind to (overrides config)")
	cmd.Flags().StringSlice("watch", nil, "directories to watch for live-reload notifications")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	log := cliCtx.Log()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Gateway.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Gateway.Host = host
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18788
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}

	runtime := jsvm.NewRuntime(jsvmRuntimeConfig(cfg), zerolog.Nop())
	defer runtime.Close()

	var db *sql.DB
	if store, err := cliCtx.GetStorage(); err == nil {
		db = store.DB
	} else {
		log.Warn().Err(err).Msg("storage unavailable, grammar build caching disabled")
	}

	hub := websocket.NewHub()
	srv := gateway.NewServer(cfg, hub, runtime, db)

	watchPaths, _ := cmd.Flags().GetStringSlice("watch")
	var watcher *gateway.Watcher
	if len(watchPaths) > 0 {
		var err error
		watcher, err = gateway.NewWatcher(hub, watchPaths...)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info().
		Str("address", fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)).
		Msg("gateway server started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down gateway...")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("gateway server error")
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
		return err
	}

	log.Info().Msg("gateway stopped")
	return nil
}
