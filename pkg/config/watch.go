package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/driftfs/driftfs/internal/logger"
)

// Watch reloads the configuration whenever the file at path changes and
// hands every successfully validated result to onChange. Invalid
// intermediate states (partial writes, syntax errors) are logged and
// skipped, so the last good configuration stays in effect.
//
// The watcher runs until stop is closed. The parent directory is
// watched rather than the file itself: editors and config management
// tools typically replace the file via rename, which would otherwise
// drop the watch.
func Watch(path string, onChange func(*Config), stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory %q: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)

		for {
			select {
			case <-stop:
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}

				cfg, err := Load(path)
				if err != nil {
					logger.Warn("config reload skipped", "path", path, "error", err)
					continue
				}
				logger.Info("configuration reloaded", "path", path)
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
