package fileindex

import (
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches index roots for changes and fires a debounced
// callback so the caller can trigger an incremental run.
type Watcher struct {
	watcher    *fsnotify.Watcher
	logger     zerolog.Logger
	extensions map[string]bool
	onDirty    func()
	debounce   time.Duration
	timer      *time.Timer
	stopCh     chan struct{}
}

// NewWatcher creates a watcher. onDirty fires at most once per
// debounce window regardless of how many events arrived.
func NewWatcher(extensions []string, logger zerolog.Logger, onDirty func()) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    watcher,
		logger:     logger,
		extensions: extensionSet(extensions),
		onDirty:    onDirty,
		debounce:   500 * time.Millisecond,
		stopCh:     make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Watch registers a root and all its non-skipped subdirectories.
func (w *Watcher) Watch(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && shouldSkipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug().Err(err).Str("path", path).Msg("Failed to watch directory")
		}
		return nil
	})
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

// run processes file system events
func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			ext := strings.ToLower(filepath.Ext(event.Name))
			if !w.extensions[ext] {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("File change detected")

				w.scheduleDirty()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// scheduleDirty debounces the dirty callback
func (w *Watcher) scheduleDirty() {
	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Debug().Msg("Marking index dirty after file changes")
		w.onDirty()
	})
}
