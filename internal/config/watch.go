package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"neuroai/internal/logging"
)

// Watch reloads the config file whenever it changes on disk and hands the
// result to onChange. Malformed edits are logged and skipped; the previous
// configuration stays active. Returns a stop function.
func Watch(path string, logger *logging.Logger, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Watch the directory: editors replace the file on save, which drops
	// a watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	base := filepath.Base(path)
	go func() {
		var lastReload time.Time
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// Editors fire several events per save
				if time.Since(lastReload) < 500*time.Millisecond {
					continue
				}
				lastReload = time.Now()

				cfg, err := Load(path)
				if err != nil {
					logger.Error("config reload failed, keeping previous: %v", err)
					continue
				}
				logger.Info("config reloaded from %s", path)
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error: %v", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
