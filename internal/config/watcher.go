package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a Loader's config file and calls Reload whenever it
// changes, adapted from the kill switch's FileChannel fsnotify idiom.
type Watcher struct {
	loader   *Loader
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	done     chan struct{}
	onReload func(*Config)
	onError  func(error)
}

// NewWatcher constructs a Watcher over loader. onReload, if non-nil, is
// called with the freshly loaded Config after every successful reload —
// the same callback a manual "POST /api/policy/reload" request drives.
// onError, if non-nil, is called whenever a reload fails; a failed reload
// leaves the previous Config in place.
func NewWatcher(loader *Loader, logger *slog.Logger, onReload func(*Config), onError func(error)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		loader:   loader,
		logger:   logger.With("component", "config.Watcher"),
		done:     make(chan struct{}),
		onReload: onReload,
		onError:  onError,
	}
}

// Start begins watching the loader's config file directory for writes.
// Load must have been called on the loader before Start.
func (w *Watcher) Start() error {
	path := w.loader.FilePath()
	if path == "" {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return err
	}

	go func() {
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Name != path || !(ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create)) {
					continue
				}
				if err := w.loader.Reload(); err != nil {
					w.logger.Warn("config reload failed, keeping previous config", "path", path, "error", err)
					if w.onError != nil {
						w.onError(err)
					}
					continue
				}
				w.logger.Info("config reloaded", "path", path)
				if w.onReload != nil {
					w.onReload(w.loader.Get())
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	close(w.done)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
