package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/api"
	"github.com/deductiv/export-everything-sub000/internal/auth"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/metrics"
	"github.com/deductiv/export-everything-sub000/internal/recordstore"
	"github.com/deductiv/export-everything-sub000/internal/storage"
)

func (c *cli) newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve directory listings over HTTP",
		Long:  "Serve the export_everything_dirlist endpoint for the configured profiles. Requires JWT_SECRET.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.ListenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "listen address (overrides LISTEN_ADDR)")
	return cmd
}

func (c *cli) serve(ctx context.Context, addr string) error {
	if c.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	store, err := recordstore.Open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	router := storage.NewRouter(store, c.cfg.App, storage.NewFactory(c.cfg.SMBMountRoot))
	defer router.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", api.NewServer(router, auth.New(c.cfg.JWTSecret)).Handler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("server listening (HTTP)", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
