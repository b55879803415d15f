package localfs

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Monitor subscribes to OS file-notification events under a Scanner's root
// and triggers a debounced rescan, rather than reconciling individual
// fsnotify events directly — a burst of editor saves/renames collapses to
// one Scan, matching spec.md §4.E's "debounces bursts by
// local_change_batch_interval_ms".
type Monitor struct {
	scanner *Scanner
	debounce time.Duration
	logger  *slog.Logger
}

// NewMonitor wraps scanner with an fsnotify-driven debounced rescan
// trigger.
func NewMonitor(scanner *Scanner, debounce time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{scanner: scanner, debounce: debounce, logger: logger}
}

// Watch runs until ctx is cancelled, recursively watching scanner's root
// and re-running Scan whenever a burst of fsnotify events settles.
func (m *Monitor) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := m.addTreeWatches(w); err != nil {
		return err
	}

	timer := time.NewTimer(m.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				// A newly created directory needs its own watch, or its
				// children will never surface an event.
				_ = w.Add(ev.Name) //nolint:errcheck // best-effort; non-dirs return a harmless error
			}

			if !pending {
				pending = true

				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}

				timer.Reset(m.debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			m.logger.Warn("localfs: fsnotify error", "error", err)

		case <-timer.C:
			if !pending {
				continue
			}

			pending = false

			if err := m.scanner.Scan(ctx); err != nil {
				m.logger.Warn("localfs: debounced rescan failed", "error", err)
			}
		}
	}
}

// addTreeWatches walks scanner's root adding a watch for every directory.
// fsnotify does not support recursive watches natively; this mirrors the
// approach most fsnotify consumers take (watch every directory
// individually up front, then extend coverage lazily as new directories
// are created).
func (m *Monitor) addTreeWatches(w *fsnotify.Watcher) error {
	return filepath.WalkDir(m.scanner.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			m.logger.Debug("localfs: skipping unwatchable path", "path", path, "error", err)

			return nil //nolint:nilerr // best-effort: skip, don't abort the whole walk
		}

		if !d.IsDir() {
			return nil
		}

		if addErr := w.Add(path); addErr != nil {
			m.logger.Debug("localfs: failed to watch directory", "path", path, "error", addErr)
		}

		return nil
	})
}
