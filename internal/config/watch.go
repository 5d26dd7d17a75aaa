package config

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDuration absorbs editors that write a config file in
// several quick syscalls (truncate, then write, then rename) as one
// reload rather than several.
const debounceDuration = 100 * time.Millisecond

// Watcher notifies on debounced changes to a configuration file.
// Grounded on the dashboard's directory watcher: creation failure or
// a missing path is not fatal, it just disables hot-reload.
type Watcher struct {
	watcher *fsnotify.Watcher
	Changed chan struct{}
	done    chan struct{}
}

// NewWatcher starts watching path for changes. It returns (nil, nil)
// rather than an error if no watcher could be established, since the
// caller is expected to fall back to running with the config loaded
// at startup.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config: failed to create watcher, hot-reload disabled", "error", err)
		return nil, nil
	}
	if err := fsw.Add(path); err != nil {
		_ = fsw.Close()
		slog.Warn("config: failed to watch file, hot-reload disabled", "path", path, "error", err)
		return nil, nil
	}
	w := &Watcher{
		watcher: fsw,
		Changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			resetTimer(timer)
		case <-timer.C:
			select {
			case w.Changed <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}

// Close stops the watcher goroutine and releases its file handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
