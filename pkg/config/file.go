package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/shellquest/telemetry/pkg/observability"
)

// MergeFile overlays the YAML file at path onto the config. Fields
// absent from the file keep their current values, so the file only
// needs the settings it overrides.
func (c *Config) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Watch reloads the config file whenever it changes and hands the new
// config to onChange. Reload failures keep the previous config and are
// reported through the logger. The returned stop function releases the
// watcher.
//
// The parent directory is watched rather than the file itself so
// atomic rename-into-place updates (the common editor and configmap
// pattern) are seen.
func Watch(path string, logger *observability.Logger, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	done := make(chan struct{})

	go func() {
		// Debounce: editors fire several events per save.
		var pending *time.Timer
		reload := func() {
			cfg, err := LoadConfig()
			if err != nil {
				logger.WithError(err).Error("config reload failed, keeping previous config")
				return
			}
			logger.Infof("config reloaded from %s", path)
			onChange(cfg)
		}

		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, reload)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("config watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
