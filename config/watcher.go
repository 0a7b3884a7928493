package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/junctive/contexd/errors"
	"github.com/junctive/contexd/logger"
)

// Watcher reloads configuration when the config file changes on disk
// and hands the new value to a callback.
type Watcher struct {
	path     string
	onReload func(*Config)
	fw       *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher watches the given config file. The callback runs on the
// watcher goroutine after each successful reload.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create config watcher")
	}

	// Watch the directory: editors typically replace the file, which
	// would invalidate a watch on the file itself
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "watch %s", path)
	}

	w := &Watcher{
		path:     path,
		onReload: onReload,
		fw:       fw,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := LoadFromFile(w.path)
			if err != nil {
				logger.Warnw("Config reload failed", "path", w.path, "error", err)
				continue
			}
			logger.Infow("Config reloaded", "path", w.path)
			w.onReload(cfg)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logger.Warnw("Config watcher error", "error", err)
		}
	}
}

// Close stops watching and waits for the watcher goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	<-w.done
	return err
}
