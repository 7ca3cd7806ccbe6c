package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the stored models over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.Server.ListenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7390", "listen address")
	return cmd
}

// runServe hosts the API until ctx is cancelled, then shuts it down.
func runServe(ctx context.Context, a *app, addr string) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer a.closeStore()

	server := NewServer(st, a.cfg.Generation, a.logger)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(a.cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		a.logger.Info("Starting api server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err = <-errs:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Stopping api server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Api server shutdown failed", "error", err)
		return err
	}
	a.logger.Info("Cadenza has shut down.")
	return nil
}
