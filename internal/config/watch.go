// Copyright (C) 2026 The Beryl Authors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/nijaru/beryl-router/internal/logging"
)

// Watcher delivers a coalesced reload signal whenever the configuration
// file's parent directory reports a create or write event. Watching the
// parent directory (rather than the file itself) is required because
// editors and config-management tools commonly replace a file by writing
// a new inode and renaming it over the old path, which would silently
// drop a watch held on the original inode.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	signal  chan struct{}
	closeCh chan struct{}
}

// NewWatcher starts watching the parent directory of path. Call Signal()
// to receive reload notifications and Close() to stop watching.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		fsw:     fsw,
		signal:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	go w.pump()
	return w, nil
}

// Signal returns the channel on which exactly one pending reload is
// queued at a time: if multiple filesystem events arrive while a reload
// is already queued, they collapse into the single pending signal.
func (w *Watcher) Signal() <-chan struct{} {
	return w.signal
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.closeCh)
	return w.fsw.Close()
}

func (w *Watcher) pump() {
	log := logging.WithComponent("config")
	base := filepath.Base(w.path)
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case w.signal <- struct{}{}:
			default:
				// A reload is already queued; this event coalesces into it.
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error", "error", err)
		}
	}
}
