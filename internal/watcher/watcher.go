// Package watcher watches the config file and applies logging changes at
// runtime without a restart.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sydlexius/ratingsync/internal/config"
	"github.com/sydlexius/ratingsync/internal/logging"
)

// debounce coalesces the editor write-rename-chmod bursts into one reload.
const debounce = 500 * time.Millisecond

// ConfigWatcher reloads the config file on change and pushes the logging
// section into the logging manager.
type ConfigWatcher struct {
	path    string
	manager *logging.Manager
	logger  *slog.Logger
}

// New creates a config watcher for the given file path.
func New(path string, manager *logging.Manager, logger *slog.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		path:    path,
		manager: manager,
		logger:  logger.With(slog.String("component", "config-watcher")),
	}
}

// Start blocks until the context is canceled, reacting to writes of the
// config file. The parent directory is watched because editors typically
// replace the file rather than write it in place.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close() //nolint:errcheck

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.logger.Info("watching config file", "path", w.path)

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-reload:
			w.apply()
		}
	}
}

func (w *ConfigWatcher) apply() {
	cfg, err := config.Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping current settings", "error", err)
		return
	}

	w.manager.Reconfigure(logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		FilePath: cfg.Logging.FilePath,
	})
	w.logger.Info("logging configuration reloaded",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format)
}
