// Package main is the entrypoint for the linkvault server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linkvault/linkvault/internal/blobstore"
	"github.com/linkvault/linkvault/internal/config"
	"github.com/linkvault/linkvault/internal/identity"
	"github.com/linkvault/linkvault/internal/platform/cache"
	"github.com/linkvault/linkvault/internal/server"
	"github.com/linkvault/linkvault/internal/share"
	"github.com/linkvault/linkvault/internal/store"

	// Register cache and store drivers
	_ "github.com/linkvault/linkvault/internal/platform/cache/loader"
	_ "github.com/linkvault/linkvault/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	publicOrigin := flag.String("public-origin", "", "Public origin (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: sqlite (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or redis (overrides config)")
	blobBaseURL := flag.String("blob-url", "", "File service base URL (overrides config)")
	jwtSecret := flag.String("jwt-secret", "", "JWT signing secret (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, selfsigned, or acme (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:   listenAddr,
			PublicOrigin: publicOrigin,
			StoreDriver:  storeDriver,
			DataDir:      dataDir,
			CacheDriver:  cacheDriver,
			BlobBaseURL:  blobBaseURL,
			JWTSecret:    jwtSecret,
			TLSMode:      tlsMode,
			LoggingLevel: loggingLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("effective configuration", "config", cfg.Redacted())

	if cfg.Auth.JWTSecret == "" {
		logger.Error("auth.jwt_secret is required; set it in the config file or via -jwt-secret")
		os.Exit(1)
	}

	// Durable store
	driverName := cfg.Store.Driver
	if driverName == "" {
		driverName = "sqlite"
	}
	if err := os.MkdirAll(cfg.Store.DataDir, 0700); err != nil {
		logger.Error("failed to create data directory", "path", cfg.Store.DataDir, "error", err)
		os.Exit(1)
	}
	drv, err := store.New(&store.DriverConfig{
		Driver:  driverName,
		DataDir: cfg.Store.DataDir,
	})
	if err != nil {
		logger.Error("failed to create store driver", "driver", driverName, "error", err)
		os.Exit(1)
	}
	if err := drv.Init(context.Background()); err != nil {
		logger.Error("failed to initialize store", "driver", driverName, "error", err)
		os.Exit(1)
	}
	defer drv.Close()
	logger.Info("store initialized", "driver", drv.Name(), "data_dir", cfg.Store.DataDir)

	shareStore, ok := drv.(store.ShareStore)
	if !ok {
		logger.Error("store driver does not support shares", "driver", driverName)
		os.Exit(1)
	}
	userStore, ok := drv.(store.UserStore)
	if !ok {
		logger.Error("store driver does not support users", "driver", driverName)
		os.Exit(1)
	}

	// Token cache (defaults to in-memory if not configured)
	cacheName := cfg.Cache.Driver
	if cacheName == "" {
		cacheName = "memory"
	}
	cacheInstance, err := cache.NewFromConfig(cacheName, cfg.Cache.Drivers)
	if err != nil {
		logger.Error("failed to create cache", "driver", cacheName, "error", err)
		os.Exit(1)
	}
	defer cacheInstance.Close()
	logger.Info("cache initialized", "driver", cacheName)

	// File service client
	blobClient := blobstore.New(&blobstore.Config{
		BaseURL:    cfg.Blob.BaseURL,
		Timeout:    time.Duration(cfg.Blob.TimeoutMS) * time.Millisecond,
		MaxRetries: uint(cfg.Blob.MaxRetries),
	}, logger)

	// Core services
	shareService := share.NewService(shareStore, cacheInstance, logger)
	userAuth := identity.NewUserAuth(cfg.Auth.BcryptCost)
	tokenIssuer := identity.NewTokenIssuer(cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.AccessTokenTTLMinutes)*time.Minute)

	srv, err := server.New(cfg, logger, &server.Deps{
		Users:  userStore,
		Auth:   userAuth,
		Tokens: tokenIssuer,
		Shares: shareService,
		Blobs:  blobClient,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server started, press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
