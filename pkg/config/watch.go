package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// Watcher reloads the configuration file when it changes
type Watcher struct {
	path    string
	logger  *observability.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching path. The parent directory is watched so that
// atomic replaces (rename over, or a ConfigMap symlink swap) are seen.
func NewWatcher(path string, logger *observability.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	return &Watcher{path: filepath.Clean(path), logger: logger, watcher: fw}, nil
}

// Run calls onChange with the reloaded configuration after every change to the
// file until ctx is done. A file that fails to load or validate is logged and
// the previous configuration stays in effect.
func (w *Watcher) Run(ctx context.Context, onChange func(*Config)) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := load(w.path)
			if err != nil {
				w.logger.WithError(err).WithField("path", w.path).Warn("Ignoring invalid configuration change")
				continue
			}
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}
