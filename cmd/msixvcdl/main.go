// Package main provides the entry point for the msixvcdl facade.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"msixvcdl/internal/api"
	"msixvcdl/internal/auth"
	"msixvcdl/internal/catalog"
	"msixvcdl/internal/config"
	"msixvcdl/internal/db"
	"msixvcdl/internal/logger"
	"msixvcdl/internal/monitor"
	"msixvcdl/internal/packages"
)

var (
	configPath  = flag.String("config", "config.json", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information")
	debugMode   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	// Initialize logger
	logger.Init()

	if *debugMode {
		logger.SetDefaultLevel(logger.LevelDebug)
	}

	if *showVersion {
		fmt.Printf("msixvcdl %s\n", logger.Version)
		fmt.Printf("Build Time: %s\n", logger.BuildTime)
		fmt.Printf("Git Commit: %s\n", logger.GitCommit)
		os.Exit(0)
	}

	// Load and validate configuration
	cfg, err := config.LoadGlobalConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid config: %v", err)
		os.Exit(1)
	}

	if cfg.Debug && !*debugMode {
		logger.SetDefaultLevel(logger.LevelDebug)
	}

	// Configure file logging
	logConfig := &logger.LogConfig{
		LogDir:           cfg.LogDir,
		RetentionDays:    cfg.LogRetentionDays,
		MaxSizeMB:        100,
		EnableFileLog:    cfg.EnableFileLog && cfg.LogDir != "",
		EnableConsoleLog: true,
	}
	if err := logger.Configure(logConfig); err != nil {
		logger.Error("Failed to configure file logging: %v", err)
		// Continue without file logging
	}

	// Initialize the cache database
	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer database.Close()

	logger.LogStartup(cfg.APIPort, cfg.DatabasePath, cfg.CredentialPath, cfg.LogDir)

	// Credential store and token lifecycle
	credStore, err := auth.NewStore(cfg.CredentialPath, cfg.CredentialPassphrase)
	if err != nil {
		logger.Error("Failed to create credential store: %v", err)
		os.Exit(1)
	}

	mon := monitor.NewMonitor()
	promMetrics := monitor.NewPrometheusMetrics(mon)

	gateway := auth.NewGateway(cfg)
	authMgr := auth.NewManager(credStore, gateway, promMetrics)

	// Upstream clients and cache repository
	catalogClient := catalog.NewClient(cfg)
	packageClient := packages.NewClient(cfg)
	cacheRepo := db.NewCacheRepository(database, cfg.Cache.KeepHistory)

	// Config manager: hot-reloads cache settings
	configMgr := config.NewManager(*configPath, cfg)
	configMgr.SetOnChange(func(settings config.CacheSettings) {
		cacheRepo.SetKeepHistory(settings.KeepHistory)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := configMgr.Watch(ctx); err != nil {
		logger.Warn("Config watcher disabled: %v", err)
	}

	// Background cache sweep; not part of the request path
	go runCacheSweep(ctx, configMgr, cacheRepo)

	// API server
	apiServer := api.NewServer(configMgr, authMgr, cacheRepo, catalogClient, packageClient, mon, promMetrics)

	apiAddr := api.Addr(cfg.APIPort)
	logger.Info("Starting API server on %s", apiAddr)
	if err := apiServer.Start(apiAddr); err != nil {
		logger.Error("Failed to start API server: %v", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping services...")

	if err := apiServer.Stop(); err != nil {
		logger.Error("Error stopping API server: %v", err)
	}

	configMgr.StopWatch()
	logger.Close()
}

// runCacheSweep periodically removes cache rows older than the configured
// age. A zero purge age disables the sweep until config reload enables it.
func runCacheSweep(ctx context.Context, configMgr *config.Manager, cacheRepo *db.CacheRepository) {
	for {
		settings := configMgr.CacheSettings()
		interval := time.Duration(settings.PurgeIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = time.Hour
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		settings = configMgr.CacheSettings()
		if settings.PurgeMaxAgeHours <= 0 {
			continue
		}

		age := time.Duration(settings.PurgeMaxAgeHours) * time.Hour
		removed, err := cacheRepo.PurgeOlderThan(ctx, age)
		if err != nil {
			logger.Warn("Cache sweep failed: %v", err)
			continue
		}
		if removed > 0 {
			logger.Info("Cache sweep removed %d entries older than %v", removed, age)
		}
	}
}
