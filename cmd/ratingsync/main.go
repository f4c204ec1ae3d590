package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sydlexius/ratingsync/internal/api"
	"github.com/sydlexius/ratingsync/internal/catalog/emby"
	"github.com/sydlexius/ratingsync/internal/config"
	"github.com/sydlexius/ratingsync/internal/database"
	"github.com/sydlexius/ratingsync/internal/encryption"
	"github.com/sydlexius/ratingsync/internal/event"
	"github.com/sydlexius/ratingsync/internal/history"
	"github.com/sydlexius/ratingsync/internal/logging"
	"github.com/sydlexius/ratingsync/internal/progress"
	"github.com/sydlexius/ratingsync/internal/provider"
	"github.com/sydlexius/ratingsync/internal/provider/imdbweb"
	"github.com/sydlexius/ratingsync/internal/provider/mdblist"
	"github.com/sydlexius/ratingsync/internal/provider/omdb"
	"github.com/sydlexius/ratingsync/internal/scan"
	"github.com/sydlexius/ratingsync/internal/scheduler"
	"github.com/sydlexius/ratingsync/internal/settings"
	"github.com/sydlexius/ratingsync/internal/version"
	"github.com/sydlexius/ratingsync/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	configPath := os.Getenv("RS_CONFIG_PATH")
	if configPath == "" {
		configPath = "/data/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Set up structured logging via the logging Manager
	logCfg := logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.FilePath,
	}
	logManager, logger := logging.NewManager(logCfg)
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Data.Dir, 0o750); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Open database
	db, err := database.Open(cfg.SettingsDBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	// Run migrations
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("database ready", slog.String("path", cfg.SettingsDBPath()))

	// Encryption key lives alongside the database; generated on first start.
	encryptor, err := encryption.NewEncryptor(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}

	// Sync settings (API keys, item type toggles, rescan window)
	settingsService, err := settings.NewService(db, encryptor)
	if err != nil {
		return fmt.Errorf("loading sync settings: %w", err)
	}

	// Provider infrastructure
	rateLimiters := provider.NewRateLimiterMap()
	keys := keychain{settings: settingsService}

	omdbSource := omdb.New(rateLimiters, keys, logger)
	mdblistSource := mdblist.New(rateLimiters, keys, logger)
	scraperSource := imdbweb.New(rateLimiters, logger)
	resolver := provider.NewResolver(omdbSource, mdblistSource, scraperSource, logger)

	// Media server catalog
	catalogClient := emby.New(cfg.Catalog.URL, cfg.Catalog.APIKey, logger)
	if err := catalogClient.TestConnection(context.Background()); err != nil {
		logger.Warn("catalog server not reachable at startup", "error", err)
	}

	// Scan state: in-memory progress, durable history ledger on disk
	tracker := progress.NewTracker()
	historyStore, err := history.NewStore(cfg.Data.Dir, logger)
	if err != nil {
		return fmt.Errorf("opening scan history: %w", err)
	}

	// Event bus
	eventBus := event.NewBus(logger, 256)
	for _, typ := range []event.Type{event.ScanStarted, event.ScanCompleted, event.ScanCancelled, event.ScanFailed} {
		eventBus.Subscribe(typ, func(e event.Event) {
			logger.Info(string(e.Type), slog.Any("data", e.Data))
		})
	}
	go eventBus.Start()
	defer eventBus.Stop()

	scanService := scan.NewService(catalogClient, resolver, tracker, historyStore, settingsService, eventBus, logger)

	logger.Info("starting ratingsync",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	// Set up HTTP router
	router := api.NewRouter(api.RouterDeps{
		Catalog:     catalogClient,
		Tracker:     tracker,
		History:     historyStore,
		ScanService: scanService,
		Settings:    settingsService,
		Logger:      logger,
		BasePath:    cfg.Server.BasePath,
		APIToken:    cfg.Server.APIToken,
	})

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start the periodic reconciliation scheduler
	scanScheduler := scheduler.New(scanService, logger)
	go scanScheduler.Start(ctx, time.Duration(cfg.Scan.IntervalHours)*time.Hour)

	// Watch the config file for logging changes
	configWatcher := watcher.New(configPath, logManager, logger)
	go func() {
		if err := configWatcher.Start(ctx); err != nil {
			logger.Warn("config watcher not running", "error", err)
		}
	}()

	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// keychain exposes stored API keys to provider adapters.
type keychain struct {
	settings *settings.Service
}

func (k keychain) APIKey(source provider.SourceName) string {
	cfg := k.settings.Get()
	switch source {
	case provider.NameOMDb:
		return cfg.OMDbAPIKey
	case provider.NameMDBList:
		return cfg.MDBListAPIKey
	default:
		return ""
	}
}
