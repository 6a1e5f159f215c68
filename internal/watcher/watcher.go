// Package watcher watches the worker's executable and env file and, after
// a debounce, reports that they changed so the worker can be restarted
// with the new build or environment.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Bigsgotchu/rinawarp-business-sub008/internal/log"
)

// Watcher monitors a set of files for changes and sends notifications.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	paths     map[string]bool
	debounce  time.Duration
	onChange  chan string
	done      chan struct{}
}

// Config holds watcher configuration options.
type Config struct {
	// Paths are the files to watch. Their directories are watched so
	// files replaced by rename are still seen.
	Paths       []string
	DebounceDur time.Duration
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(paths ...string) Config {
	return Config{
		Paths:       paths,
		DebounceDur: 1 * time.Second,
	}
}

// New creates a new file watcher.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("watcher: no paths to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	paths := make(map[string]bool, len(cfg.Paths))
	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		paths[abs] = true
	}

	return &Watcher{
		fsWatcher: fsw,
		paths:     paths,
		debounce:  cfg.DebounceDur,
		onChange:  make(chan string, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching. The returned channel receives the path of the
// last changed file once changes settle.
func (w *Watcher) Start() (<-chan string, error) {
	dirs := make(map[string]bool)
	for p := range w.paths {
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := w.fsWatcher.Add(dir); err != nil {
			return nil, fmt.Errorf("watching directory %s: %w", dir, err)
		}
	}

	go w.loop()

	return w.onChange, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

// loop processes file system events with debouncing.
func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending string
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			if !w.isRelevantEvent(event) {
				continue
			}
			log.Debug(log.CatWatcher, "watched file changed", "path", event.Name, "op", event.Op.String())

			// Reset or start debounce timer
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = event.Name

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending != "" {
				// Non-blocking send - drop if channel full
				select {
				case w.onChange <- pending:
				default:
				}
				pending = ""
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatWatcher, "watch error", "error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// isRelevantEvent reports whether event touches a watched file. Renames
// and removals are ignored; the replacement shows up as a Create.
func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return w.paths[abs]
}

// Restarter is the part of the supervisor the watcher drives.
type Restarter interface {
	Restart(ctx context.Context) error
}

// RestartOnChange restarts r every time changes yields a path, until ctx
// is cancelled or changes is closed.
func RestartOnChange(ctx context.Context, changes <-chan string, r Restarter) {
	for {
		select {
		case path, ok := <-changes:
			if !ok {
				return
			}
			log.Info(log.CatWatcher, "restarting worker after change", "path", path)
			if err := r.Restart(ctx); err != nil {
				log.ErrorErr(log.CatWatcher, "restart after change failed", err, "path", path)
			}
		case <-ctx.Done():
			return
		}
	}
}
