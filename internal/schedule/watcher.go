package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/verprune/verprune/internal/logging"
)

// DefaultDebounce is the quiet period after the last change to a watched
// file before its callback runs.
const DefaultDebounce = 500 * time.Millisecond

// WatchFile calls onChange after path is written, created or renamed into
// place, once no further events arrive for debounce. The parent directory
// is watched so that editors replacing the file are seen. WatchFile blocks
// until ctx is done.
func WatchFile(ctx context.Context, path string, debounce time.Duration, onChange func(), logger *logging.Logger) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.WithComponent("schedule")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("schedule: create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("schedule: resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("schedule: watch %s: %w", filepath.Dir(abs), err)
	}
	name := filepath.Base(abs)

	resetCh := make(chan struct{}, 1)
	defer close(resetCh)

	go func() {
		var t *time.Timer
		for range resetCh {
			if t != nil {
				t.Stop()
			}
			t = time.AfterFunc(debounce, func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Errorf("config reload panic", map[string]any{"panic": fmt.Sprint(r)})
					}
				}()
				onChange()
			})
		}
		if t != nil {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			logger.Debugf("config file event", map[string]any{"name": ev.Name, "op": ev.Op.String()})

			select {
			case resetCh <- struct{}{}:
			default:
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Errorf("fsnotify error", map[string]any{"error": err.Error()})
		}
	}
}
