package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"yambot/internal/logging"
)

const settingsReloadDelay = 100 * time.Millisecond

// WatchSettings calls onChange with the reloaded settings whenever the file
// at path is written or replaced. Bursts of events are coalesced. It
// returns when ctx is done.
func WatchSettings(ctx context.Context, path string, logger *logging.Logger, onChange func(Settings)) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// The directory is watched because SaveSettings replaces the file.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch settings directory %s: %w", dir, err)
	}
	logger.Debug("watching settings file", logging.Field("path", path))

	reload := time.NewTimer(settingsReloadDelay)
	reload.Stop()
	defer reload.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("stopping settings watcher: context canceled")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debugf("settings fsnotify event: op=%s", event.Op.String())
			reload.Reset(settingsReloadDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("settings watcher error", logging.Field("error", err))
		case <-reload.C:
			settings, err := LoadSettings(path)
			if err != nil {
				logger.Warn("failed to reload settings", logging.Field("path", path), logging.Field("error", err))
				continue
			}
			onChange(settings)
		}
	}
}
