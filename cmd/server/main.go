package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filedrop/internal/server/api"
	"filedrop/internal/server/config"
	"filedrop/internal/server/database"
	"filedrop/internal/server/notify"
	"filedrop/internal/server/service"
	"filedrop/internal/server/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env vars override)")
	flag.Parse()

	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"storage_backend", cfg.Storage.Backend,
		"max_upload_bytes", cfg.Share.MaxUploadBytes,
		"default_ttl", cfg.Share.DefaultTTL,
		"sweep_interval", cfg.Share.SweepInterval,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.Database.URL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize blob storage
	store, err := newStore(cfg)
	if err != nil {
		slog.Error("failed to configure storage", "error", err)
		os.Exit(1)
	}
	if err := store.EnsureReady(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("blob storage initialized", "backend", cfg.Storage.Backend)

	// Initialize registry and services
	repo := database.NewRepository(db)
	issuer := service.NewTokenIssuer(repo)
	mailer := notify.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Password)
	shares := service.NewShareService(repo, store, issuer, cfg.Share)
	fanout := service.NewFanoutCoordinator(repo, issuer, mailer, cfg.Server.BaseURL, cfg.Share.DefaultTTL)
	gate := service.NewDownloadGate(repo, store)

	// Start expiry sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := service.NewSweeper(repo, store, cfg.Share.SweepInterval)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(shares, fanout, gate, mailer, db, cfg.Server.BaseURL)
	e, limiter := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop expiry sweeper and rate limiter upkeep
	sweepCancel()
	sweeper.Wait()
	limiter.Stop()

	slog.Info("server exited cleanly")
}

// newStore selects the blob storage backend from configuration.
func newStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "filesystem", "":
		return storage.NewFileSystemStore(cfg.Storage.Path), nil
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			Bucket:          cfg.Storage.S3.Bucket,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
