package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freekieb7/formlink/internal/container"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	var migrate bool
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Add graceful shutdown support by listening for interruptions
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			c, err := container.New(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer c.Close()

			if migrate {
				if err := c.Database.Migrate(ctx, a.logger); err != nil {
					return errors.Join(errors.New("migration up failed"), err)
				}
			}

			server := &http.Server{
				Addr:           fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:        c.HTTPHandler(),
				ReadTimeout:    a.cfg.Server.ReadTimeout,
				WriteTimeout:   a.cfg.Server.WriteTimeout,
				IdleTimeout:    a.cfg.Server.IdleTimeout,
				MaxHeaderBytes: a.cfg.Server.MaxHeaderBytes,
			}

			srvErr := make(chan error, 1)
			go func() {
				a.logger.Info("Listening and serving", slog.String("addr", server.Addr))
				srvErr <- server.ListenAndServe()
			}()

			select {
			case err := <-srvErr:
				// Error when starting HTTP server
				return err
			case <-ctx.Done():
				a.logger.Info("Shutdown signal received")

				// Ends open event streams, which Shutdown does not cancel
				c.Registry.CloseAll()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}

				a.logger.Info("Shutdown completed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply migrations before serving")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 5*time.Second, "grace period for in-flight requests")
	return cmd
}
