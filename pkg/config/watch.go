package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/meridian-cms/audittrail/pkg/observability"
)

// reloadDebounce coalesces the bursts of write events editors and
// orchestrators produce when rewriting a file.
const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk and
// hands every valid new configuration to the registered callback.
// Invalid configurations are logged and skipped, keeping the last good
// configuration in effect.
type Watcher struct {
	path     string
	logger   *observability.Logger
	onReload func(*Config)
}

// NewWatcher creates a configuration watcher for path. onReload is called
// with each successfully loaded configuration.
func NewWatcher(path string, logger *observability.Logger, onReload func(*Config)) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger,
		onReload: onReload,
	}
}

// Watch blocks until ctx is cancelled, reloading the configuration on file
// changes. The parent directory is watched rather than the file itself so
// atomic rename-based rewrites keep being observed.
func (w *Watcher) Watch(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsWatcher.Close()

	dir := filepath.Dir(w.path)
	if err := fsWatcher.Add(dir); err != nil {
		return err
	}

	w.logger.WithField("path", w.path).Info("Watching configuration file for changes")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, w.reload)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Configuration watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Ignoring invalid configuration reload")
		return
	}
	w.logger.Info("Configuration reloaded")
	w.onReload(cfg)
}
