// Package main provides the HTTP ingestion server for Grimoire.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/grimoire/internal/blob"
	"github.com/raphaelgruber/grimoire/internal/config"
	"github.com/raphaelgruber/grimoire/internal/db"
	"github.com/raphaelgruber/grimoire/internal/gcp"
	"github.com/raphaelgruber/grimoire/internal/metrics"
	"github.com/raphaelgruber/grimoire/internal/server"
	"github.com/raphaelgruber/grimoire/internal/service"
	"github.com/raphaelgruber/grimoire/internal/sqlite"
)

// closer releases a backend on shutdown.
type closer func(context.Context) error

func main() {
	// Parse flags
	wipeDB := flag.Bool("wipe", false, "wipe all sources from database on startup (testing only)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	if err := run(cfg, logger, *wipeDB || os.Getenv("GRIMOIRE_WIPE_DB") == "true"); err != nil {
		logger.Error("server failed", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, wipe bool) error {
	logger.Info("starting grimoire-server", "port", cfg.ServerPort, "store", cfg.Store, "blob", cfg.Blob)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	sources, closeStore, err := openStore(ctx, cfg, logger, wipe)
	if err != nil {
		cancel()
		return err
	}
	blobs, closeBlobs, err := openBlobs(ctx, cfg, logger)
	cancel()
	if err != nil {
		_ = closeStore(context.Background())
		return err
	}
	defer func() {
		if err := closeBlobs(context.Background()); err != nil {
			logger.Error("failed to close blob store", "error", err)
		}
		if err := closeStore(context.Background()); err != nil {
			logger.Error("failed to close source store", "error", err)
		}
	}()

	collector := metrics.NewCollector()
	hub := server.NewHub(logger)

	srv, err := server.New(server.Config{
		Ingest: service.NewIngestService(service.IngestDeps{
			Sources: sources,
			Blobs:   blobs,
			Events:  hub,
			Metrics: collector,
			Logger:  logger,
		}),
		Sources:        service.NewSourceService(sources),
		Hub:            hub,
		Metrics:        collector,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		return err
	}

	// Create HTTP server. Timeouts are long enough for large uploads.
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ingest endpoint available", "url", fmt.Sprintf("http://localhost:%s/api/ingest", cfg.ServerPort))
		logger.Info("source stream available", "url", fmt.Sprintf("ws://localhost:%s/api/sources/stream", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info("shutting down server...")
	hub.Close()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore connects the configured source store.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger, wipe bool) (service.SourceStore, closer, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		if wipe {
			logger.Warn("--wipe is only supported by the surreal store; ignoring")
		}
		return store, func(context.Context) error { return store.Close() }, nil

	case config.StoreFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, nil, err
		}
		if wipe {
			logger.Warn("--wipe is only supported by the surreal store; ignoring")
		}
		store := gcp.NewFirestoreStore(client, cfg.FirestoreCollection)
		return store, func(context.Context) error { return store.Close() }, nil

	default:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, nil, fmt.Errorf("initialize schema: %w", err)
		}
		if wipe {
			if err := client.WipeData(ctx); err != nil {
				_ = client.Close(ctx)
				return nil, nil, fmt.Errorf("wipe database: %w", err)
			}
		}
		return client, client.Close, nil
	}
}

// openBlobs creates the configured blob store.
func openBlobs(ctx context.Context, cfg config.Config, logger *slog.Logger) (service.BlobStore, closer, error) {
	if cfg.Blob == config.BlobGCS {
		store, err := gcp.NewBucketStore(ctx, cfg.Bucket, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil
	}

	store, err := blob.NewFSStore(cfg.BlobDir, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, func(context.Context) error { return nil }, nil
}
