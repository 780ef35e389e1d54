package secrets

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/ayefimenko/sharklearning-sub002/internal/observability"
)

// watch invalidates cache entries when record files change on disk, so a
// secret rewritten by another process is re-read on the next Get.
func (s *Store) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create secrets watcher: %w", err)
	}

	if err := watcher.Add(s.config.Dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch secrets dir: %w", err)
	}

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				s.handleFileEvent(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("secrets watcher error",
					observability.Error(err),
				)
			}
		}
	}()

	s.logger.Info("watching secrets dir",
		observability.String("dir", s.config.Dir),
	)
	return nil
}

func (s *Store) handleFileEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, recordExt) {
		return
	}
	key := strings.TrimSuffix(name, recordExt)

	s.cache.remove(key)
	s.logger.Debug("invalidated cached secret after file change",
		observability.String("key", key),
		observability.String("op", event.Op.String()),
	)
}
