package project

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the policy file whenever it changes on disk, until ctx is
// cancelled. The directory is watched rather than the file itself so editors
// that replace the file (rename-over) keep triggering events. A reload
// failure keeps the previous policies and is logged.
func (r *Registry) Watch(ctx context.Context, logger *zap.SugaredLogger) error {
	if r.path == "" {
		return fmt.Errorf("registry was not loaded from a file")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(r.path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := r.reload(); err != nil {
					logger.Warnw("policy reload failed, keeping previous policies",
						"path", r.path, "error", err)
					continue
				}
				logger.Infow("project policies reloaded", "path", r.path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warnw("policy watcher error", "error", err)
			}
		}
	}()

	return nil
}
