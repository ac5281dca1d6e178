package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/weftworks/weft/config"
	"github.com/weftworks/weft/pkg/api"
	"github.com/weftworks/weft/pkg/api/handlers"
	"github.com/weftworks/weft/pkg/logger"
	"github.com/weftworks/weft/pkg/metrics"
	"github.com/weftworks/weft/pkg/telemetry/tracing"
	"github.com/weftworks/weft/pkg/version"
	"github.com/weftworks/weft/pkg/workflow"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting weft",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version, cfg.App.Environment)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	store, wal, closeStorage, err := buildStorage(cfg, log)
	if err != nil {
		log.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer closeStorage()

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)

	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	orchestratorOpts := []workflow.OrchestratorOption{
		workflow.WithRunStore(store),
		workflow.WithLogger(log),
		workflow.WithMetrics(metricsManager),
		workflow.WithMaxConcurrentRuns(cfg.Engine.MaxConcurrentRuns),
	}
	if wal != nil {
		orchestratorOpts = append(orchestratorOpts, workflow.WithEventLog(wal))
	}
	registry := workflow.NewRegistry(workflow.NewOrchestrator(orchestratorOpts...))

	if cfg.Engine.Recovery.Enabled {
		recovered, err := runStartupRecovery(ctx, registry, metricsManager, log)
		if err != nil {
			log.Error("Startup recovery failed", "error", err)
		} else if recovered > 0 {
			log.Info("Recovered interrupted runs", "count", recovered)
		}
	}

	if cfg.Engine.Cleanup.Enabled {
		cleanup := workflow.NewCleanupManager(store, wal, log)
		if err := cleanup.Start(ctx, cfg.Engine.Cleanup.Interval, cfg.Engine.Cleanup.Retention); err != nil {
			log.Error("Failed to start cleanup manager", "error", err)
			os.Exit(1)
		}
	}

	apiHandlers := &api.Handlers{
		Runs:   handlers.NewRunsHandler(registry, wal),
		Health: handlers.NewHealthHandler(registry, version.Version),
	}
	if metricsManager.Enabled() {
		apiHandlers.Metrics = metricsManager
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("weft is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
	)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}

	log.Info("weft stopped gracefully")
}

// runStartupRecovery resumes runs the previous process left non-terminal.
func runStartupRecovery(ctx context.Context, registry *workflow.Registry, recorder workflow.MetricsRecorder, log logger.Logger) (int, error) {
	recovery, err := workflow.NewRecoveryManager(registry, recorder, log)
	if err != nil {
		return 0, err
	}
	return recovery.Recover(ctx)
}

// buildStorage constructs the run store and, for badger, a shared event log.
func buildStorage(cfg *config.Config, log logger.Logger) (workflow.RunStore, workflow.EventLog, func(), error) {
	switch cfg.Storage.Type {
	case "badger":
		opts := badger.DefaultOptions(cfg.Storage.Badger.Path)
		opts.SyncWrites = cfg.Storage.Badger.SyncWrites
		opts.NumVersionsToKeep = cfg.Storage.Badger.NumVersionsToKeep
		if cfg.Storage.Badger.ValueLogFileSize > 0 {
			opts.ValueLogFileSize = cfg.Storage.Badger.ValueLogFileSize
		}
		opts.Logger = nil

		db, err := badger.Open(opts)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open badger at %s: %w", cfg.Storage.Badger.Path, err)
		}

		store, err := workflow.NewBadgerRunStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		wal, err := workflow.NewBadgerWAL(db, workflow.WALOptions{
			WriteMode: workflow.WriteMode(cfg.Engine.WALMode),
			Logger:    log,
		})
		if err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}

		log.Info("Initialized badger storage", "path", cfg.Storage.Badger.Path)
		closer := func() {
			if err := wal.Close(); err != nil {
				log.Error("Error closing event log", "error", err)
			}
			if err := db.Close(); err != nil {
				log.Error("Error closing badger", "error", err)
			}
		}
		return store, wal, closer, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("ping redis at %s: %w", cfg.Storage.Redis.Address, err)
		}
		store, err := workflow.NewRedisRunStore(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}
		log.Info("Initialized redis storage", "address", cfg.Storage.Redis.Address)
		closer := func() {
			if err := client.Close(); err != nil {
				log.Error("Error closing redis client", "error", err)
			}
		}
		return store, nil, closer, nil

	default:
		log.Info("Initialized memory storage")
		return workflow.NewMemoryRunStore(), nil, func() {}, nil
	}
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("weft - Workflow Orchestration Engine\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("weft - Durable workflow orchestration with compensating rollback\n\n")
	fmt.Printf("Usage: weft [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  weft                                # Run with default config\n")
	fmt.Printf("  weft -config config.yaml            # Use specific config file\n")
	fmt.Printf("  weft -port 9090 -log-level debug    # Override specific options\n")
	fmt.Printf("  weft -version                       # Print version info\n")
}
