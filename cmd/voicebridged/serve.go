package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicebridge/voicebridge/internal/app"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/edge"
	"github.com/voicebridge/voicebridge/pkg/logging"
)

const shutdownTimeout = 5 * time.Second

// newServeCmd builds the "serve" subcommand: load config, wire the App,
// and run the HTTP edge with graceful shutdown via signal.NotifyContext
// and a bounded shutdown timeout.
func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation HTTP/WS edge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				if err := os.Setenv("VOICEBRIDGE_CONFIG", configPath); err != nil {
					return fmt.Errorf("serve: setting VOICEBRIDGE_CONFIG: %w", err)
				}
			}

			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return fmt.Errorf("serve: load config: %w", err)
			}

			logger := logging.New(cfg.Debug)
			defer logger.Sync()

			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("serve: init app: %w", err)
			}

			router := edge.NewRouter(application)
			addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
			srv := &http.Server{Addr: addr, Handler: router}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Infof("serve: listening on %s", addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("serve: listen: %w", err)
			case <-ctx.Done():
				logger.Info("serve: shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("serve: forced shutdown: %v", err)
			}
			return application.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (overrides VOICEBRIDGE_CONFIG)")
	config.RegisterFlags(cmd.Flags())

	return cmd
}
