// Atelier server: HTTP API, studio worker pool, long-form coordinator, and
// dashboard refresh worker in one binary.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skylark-media/atelier/pkg/api"
	"github.com/skylark-media/atelier/pkg/blob"
	"github.com/skylark-media/atelier/pkg/compose"
	"github.com/skylark-media/atelier/pkg/config"
	"github.com/skylark-media/atelier/pkg/dashboard"
	"github.com/skylark-media/atelier/pkg/database"
	"github.com/skylark-media/atelier/pkg/observe"
	"github.com/skylark-media/atelier/pkg/provider"
	"github.com/skylark-media/atelier/pkg/queue"
	"github.com/skylark-media/atelier/pkg/services"
	"github.com/skylark-media/atelier/pkg/store"
	"github.com/skylark-media/atelier/pkg/studio"
	"github.com/skylark-media/atelier/pkg/support"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the process identity used in claimed_by.
// Priority: POD_ID env > HOSTNAME env > "local".
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	podID := resolvePodID()
	logger.Info("starting atelier",
		"http_port", httpPort, "pod_id", podID, "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		logger.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		logger.Error("failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Error("metrics shutdown error", "error", err)
		}
	}()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		logger.Error("failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	logger.Info("connected to postgres, migrations applied")

	stores := store.New(dbClient.Pool())

	signer, err := blob.NewSigner(cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize blob signer", "error", err)
		os.Exit(1)
	}
	blobClient := blob.NewClient(cfg.Storage, signer)

	metrics := observe.DefaultMetrics()
	deps := &studio.Deps{
		Stores:    stores,
		Ledger:    provider.NewLedger(stores.ProviderRuns, logger),
		TTS:       provider.NewTTSClient(cfg.Providers.TTS, metrics, logger),
		Image:     provider.NewImageClient(cfg.Providers.Image, cfg.Providers.ImageSizes, metrics, logger),
		FaceVideo: provider.NewFaceVideoClient(cfg.Providers.FaceVideo, cfg.Providers.PollInterval, cfg.Providers.PollDeadline, metrics, logger),
		Music:     provider.NewMusicClient(cfg.Providers.Music, metrics, logger),
		Translate: provider.NewTranslateClient(cfg.Providers.Translate, metrics, logger),
		Composer:  compose.NewHTTPComposer(cfg.Providers.Compose, logger),
		Blob:      blobClient,
		Signer:    signer,
		Safety:    studio.NewSafetyFilter(cfg.Safety),
		Pricer:    services.NewFlatPricer(),
		Cfg:       cfg,
		Logger:    logger,
	}
	registry := studio.NewRegistry(deps)

	pool := queue.NewWorkerPool(podID, cfg, dbClient, stores, registry,
		studio.NewSegmentProcessor(deps), studio.NewStitcher(deps), logger)
	if err := pool.Start(ctx); err != nil {
		logger.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}

	dashService := dashboard.NewService(cfg.Dashboard, stores, signer, logger)
	dashWorker := dashboard.NewWorker(cfg.Dashboard, dashService, stores, logger)
	dashWorker.Start(ctx)

	auth, err := api.NewAuth(cfg.Auth, stores.Users)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		os.Exit(1)
	}
	jobService := services.NewJobService(cfg, stores, signer, logger)
	supportService := support.NewService(stores.Support, logger)
	server := api.NewServer(auth, jobService, dashService, supportService, pool, dbClient, logger)

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("atelier started",
		"pod_id", podID, "workers_per_studio", cfg.Queue.WorkersPerStudio)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server error triggered shutdown", "error", err)
	}

	// Stop intake first, then drain the workers.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		dashWorker.Stop()
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("workers stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, in-flight jobs will be orphan-recovered")
	}

	logger.Info("shutdown complete")
}
