package fallback

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events an editor save produces.
const reloadDebounce = 200 * time.Millisecond

// Watch loads the responses file into m and reloads it whenever it
// changes, until ctx is done. A file that fails to parse leaves the
// previous sets in place.
func Watch(ctx context.Context, m *Manager, path string) error {
	r, err := LoadResponses(path)
	if err != nil {
		return err
	}
	m.SetResponses(r)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors often replace the file instead of writing it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() { _ = watcher.Close() }()

		target := filepath.Clean(path)
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				debounce = time.After(reloadDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("fallback responses watcher error", "error", err)
			case <-debounce:
				debounce = nil
				r, err := LoadResponses(path)
				if err != nil {
					slog.Warn("fallback responses reload failed, keeping previous", "path", path, "error", err)
					continue
				}
				m.SetResponses(r)
				slog.Info("fallback responses reloaded", "path", path)
			}
		}
	}()
	return nil
}
