// Package watcher reloads configuration on file changes, letting session
// timing adjustments (shortening the timeout, widening the warning
// window) reach running controllers without a restart.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/newsroomtools/sessionguard/pkg/config"
	"github.com/newsroomtools/sessionguard/pkg/logging"
)

// Applier receives each successfully loaded and validated configuration
// after a change is detected.
type Applier interface {
	Apply(*config.Config) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(*config.Config) error

func (f ApplierFunc) Apply(cfg *config.Config) error { return f(cfg) }

// ConfigWatcher watches the configuration file and pushes changes to an
// Applier.
type ConfigWatcher struct {
	loader       config.Loader
	applier      Applier
	configPath   string
	lastHash     string
	logger       logging.Logger
	reloadNotify chan struct{} // Optional channel for testing
}

// WatcherConfig contains the configuration for creating a ConfigWatcher
type WatcherConfig struct {
	Loader       config.Loader
	Applier      Applier
	ConfigPath   string // Path to the configuration file to watch
	Initial      *config.Config
	Logger       logging.Logger
	ReloadNotify chan struct{} // Optional: notified after each reload attempt
}

// New creates a new ConfigWatcher with the given configuration.
func New(cfg WatcherConfig) (*ConfigWatcher, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if cfg.Applier == nil {
		return nil, fmt.Errorf("applier is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("config path is required")
	}

	absPath, err := filepath.Abs(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	// Hash the starting config so an unchanged rewrite is a no-op.
	hash := ""
	if cfg.Initial != nil {
		hash, err = calculateConfigHash(cfg.Initial)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate initial config hash: %w", err)
		}
	}

	watcher := &ConfigWatcher{
		loader:       cfg.Loader,
		applier:      cfg.Applier,
		configPath:   absPath,
		lastHash:     hash,
		logger:       cfg.Logger.WithModule("watcher"),
		reloadNotify: cfg.ReloadNotify,
	}

	watcher.logger.Info("ConfigWatcher initialized", "config_path", absPath)

	return watcher, nil
}

// Watch starts watching for configuration changes using fsnotify.
// Call this method in a goroutine. It blocks until the context is cancelled.
func (w *ConfigWatcher) Watch(ctx context.Context) {
	w.logger.Info("Starting configuration watch")

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("Failed to create fsnotify watcher", "error", err)
		return
	}
	defer fsWatcher.Close()

	if err := fsWatcher.Add(w.configPath); err != nil {
		w.logger.Error("Failed to watch config file", "error", err, "path", w.configPath)
		return
	}

	w.logger.Info("Watching configuration file", "path", w.configPath)

	// Debounce timer to handle multiple rapid events
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Configuration watch stopped")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-fsWatcher.Events:
			if !ok {
				w.logger.Warn("fsnotify events channel closed")
				return
			}

			// Only care about write and create events
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.logger.Debug("Config file changed", "event", event.Op.String())

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					w.checkAndReload()
				})
			}

			// If file was removed and recreated (common with some editors)
			if event.Op&fsnotify.Remove == fsnotify.Remove {
				w.logger.Debug("Config file removed, will re-watch on create")
				time.Sleep(50 * time.Millisecond)
				fsWatcher.Add(w.configPath)
			}

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				w.logger.Warn("fsnotify errors channel closed")
				return
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}

// checkAndReload checks if the configuration has changed and applies it
// if necessary.
func (w *ConfigWatcher) checkAndReload() {
	// Notify test if channel is set
	if w.reloadNotify != nil {
		defer func() {
			select {
			case w.reloadNotify <- struct{}{}:
			default:
			}
		}()
	}

	newConfig, err := w.loader.Load()
	if err != nil {
		w.logger.Error("Failed to load configuration", "error", err)
		return
	}

	newHash, err := calculateConfigHash(newConfig)
	if err != nil {
		w.logger.Error("Failed to calculate config hash", "error", err)
		return
	}

	if newHash == w.lastHash {
		w.logger.Debug("Configuration unchanged")
		return
	}

	w.logger.Info("Configuration changed, applying")

	if err := w.applier.Apply(newConfig); err != nil {
		w.logger.Error("Failed to apply configuration", "error", err)
		return
	}

	w.lastHash = newHash
	w.logger.Info("Configuration reloaded successfully")
}

// calculateConfigHash calculates a hash of the configuration for change
// detection. JSON marshaling gives a canonical representation to hash.
func calculateConfigHash(cfg *config.Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash), nil
}
