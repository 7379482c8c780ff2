package config

import (
	"context"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	fsnotify "gopkg.in/fsnotify.v1"
)

// Watcher reloads a config file whenever it is written or replaced.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the directory holding path, so replaced files
// are picked up as well.
func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("cannot create config watcher: %w", err)
	}

	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("cannot watch %s: %w", path, err)
	}

	return &Watcher{path: filepath.Clean(path), watcher: w}, nil
}

// Run passes every successfully parsed revision of the file to fn until
// ctx is done. Unparseable revisions are logged and skipped.
func (w *Watcher) Run(ctx context.Context, fn func(*Config)) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			cfg, err := FromFile(w.path)
			if err != nil {
				log.Warnf("ignoring config change: %v", err)
				continue
			}
			log.Infof("reloaded config from %s", w.path)
			fn(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("config watcher: %v", err)
		}
	}
}
