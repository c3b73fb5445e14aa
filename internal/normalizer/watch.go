package normalizer

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// fsWatcher wraps an fsnotify.Watcher scoped to one file (fsnotify watches
// directories; a lone file watch is achieved by watching its parent and
// filtering events). It backs the Speech Normalizer's config hot-reload.
type fsWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

// watchFile starts watching path's parent directory and invokes onChange
// whenever path itself is written or renamed/atomically-swapped into
// place. Returns an error if the underlying watcher cannot be constructed
// or the parent directory cannot be watched (for example because it does
// not exist); a missing file inside an existing directory is tolerated.
func watchFile(path string, onChange func()) (*fsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	fw := &fsWatcher{w: w, done: make(chan struct{})}
	target := filepath.Clean(path)

	go func() {
		for {
			select {
			case <-fw.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return fw, nil
}

// Stop tears down the watcher goroutine and closes the underlying
// fsnotify.Watcher.
func (fw *fsWatcher) Stop() {
	close(fw.done)
	fw.w.Close()
}
