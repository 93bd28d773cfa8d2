// Export Everything directory listing server
//
// Features:
// - Directory listings for storage profiles (S3, SMB)
// - Listing envelope compatible with the export_everything_dirlist handler
// - JWT-protected endpoints
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/deductiv/export-everything-sub000/internal/api"
	"github.com/deductiv/export-everything-sub000/internal/auth"
	"github.com/deductiv/export-everything-sub000/internal/config"
	"github.com/deductiv/export-everything-sub000/internal/logging"
	"github.com/deductiv/export-everything-sub000/internal/metrics"
	"github.com/deductiv/export-everything-sub000/internal/recordstore"
	"github.com/deductiv/export-everything-sub000/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadServer()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("listing server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("store", cfg.Store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the record store holding the profiles and credentials
	store, err := recordstore.Open(ctx, cfg)
	if err != nil {
		logging.Fatal("record store init failed", zap.Error(err))
	}
	defer store.Close()

	// Initialize storage router
	storageRouter := storage.NewRouter(store, cfg.App, storage.NewFactory(cfg.SMBMountRoot))
	defer storageRouter.Close()

	srv := api.NewServer(storageRouter, auth.New(cfg.JWTSecret))

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	if useTLS {
		logging.Info("server listening (TLS)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}
