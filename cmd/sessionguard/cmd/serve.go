package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/newsroomtools/sessionguard/pkg/bus"
	"github.com/newsroomtools/sessionguard/pkg/config"
	"github.com/newsroomtools/sessionguard/pkg/kvs"
	"github.com/newsroomtools/sessionguard/pkg/logging"
	"github.com/newsroomtools/sessionguard/pkg/server"
	"github.com/newsroomtools/sessionguard/pkg/session"
	"github.com/newsroomtools/sessionguard/pkg/watcher"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the session coordinator",
	Long: `Start the sessionguard server with the specified configuration.

The server will:
- Load the configuration file
- Open the shared session store (memory, LevelDB or Redis)
- Connect the cross-instance event bus
- Run the inactivity countdown controller
- Serve the session HTTP API
- Handle graceful shutdown on SIGTERM/SIGINT`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgFromFile, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("Starting sessionguard", "version", version)

	// Command-line flags override file values when explicitly set.
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shared store, namespaced to the session keyspace.
	storeCfg, err := cfg.Store.ToKVS()
	if err != nil {
		return err
	}
	if storeCfg.Namespace == "" {
		storeCfg.Namespace = session.Namespace
	}
	store, err := kvs.New(storeCfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	logger.Info("Store opened", "type", storeCfg.Type, "namespace", storeCfg.Namespace)

	// Event bus: broadcaster plus store-watch fallback.
	tabID := uuid.NewString()
	broadcaster, err := buildBroadcaster(cfg.Bus)
	if err != nil {
		return fmt.Errorf("failed to connect bus transport: %w", err)
	}
	defer broadcaster.Close()

	eventBus, err := bus.NewDualBus(tabID, broadcaster, store, logger)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer eventBus.Close()

	sessionCfg, err := cfg.Session.ToSession()
	if err != nil {
		return err
	}

	controller, err := session.New(session.Options{
		Store:  store,
		Bus:    eventBus,
		TabID:  tabID,
		Config: sessionCfg,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create session controller: %w", err)
	}

	if err := controller.Start(ctx); err != nil {
		return err
	}
	defer controller.Stop()

	// Hot-reload session timings on config file changes.
	if cfgFromFile {
		w, err := watcher.New(watcher.WatcherConfig{
			Loader:     config.NewFileLoader(cfgFile),
			ConfigPath: cfgFile,
			Initial:    cfg,
			Logger:     logger,
			Applier: watcher.ApplierFunc(func(next *config.Config) error {
				nextSession, err := next.Session.ToSession()
				if err != nil {
					return err
				}
				controller.UpdateConfig(nextSession)
				return nil
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		go w.Watch(ctx)
	}

	return server.New(cfg.Server.Host, cfg.Server.Port, controller, logger).Start(ctx)
}

// loadConfig loads the configured file, falling back to defaults when the
// file does not exist. The second return value reports whether a file was
// actually loaded (and is therefore worth watching).
func loadConfig() (*config.Config, bool, error) {
	if cfgFile == "" {
		return config.Default(), false, nil
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Config file not found, using default configuration: %s\n", cfgFile)
		return config.Default(), false, nil
	}
	cfg, err := config.NewFileLoader(cfgFile).Load()
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func buildLogger(cfg config.LoggingConfig) (logging.Logger, error) {
	level := logging.ParseLevel(cfg.Level)
	var rotation *logging.FileRotationConfig
	if cfg.File.Path != "" {
		rotation = &logging.FileRotationConfig{
			Path:       cfg.File.Path,
			MaxSizeMB:  cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
	}
	return logging.NewLoggerWithFile("main", level, true, rotation)
}

func buildBroadcaster(cfg config.BusConfig) (bus.Broadcaster, error) {
	if cfg.Transport == "redis" {
		return bus.NewRedisBroadcaster(cfg.ToBroadcaster())
	}
	return bus.NewMemoryBroadcaster(), nil
}
