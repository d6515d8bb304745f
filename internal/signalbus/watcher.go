package signalbus

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"tidecast/internal/errtax"
)

// watchDebounce coalesces bursts of filesystem events (editors commonly
// write a file by renaming a temp file over it, which is two or three raw
// fsnotify events) into a single reload request.
const watchDebounce = 200 * time.Millisecond

// Watcher triggers a Bus reload whenever the configuration file (or the
// directory it lives in, to catch editors that replace it rather than
// writing in place) changes on disk. It is optional: failure to start one
// is logged and the server runs without auto-reload, per the inotify
// error kinds in the taxonomy (InotifyCreate, InotifyWatch, InotifyOpenfd).
type Watcher struct {
	fsw  *fsnotify.Watcher
	path string
	bus  *Bus
	done chan struct{}
}

// NewWatcher creates a filesystem watcher on the directory containing
// configPath and arms it to call bus.InjectReload whenever configPath
// itself is created, written, or renamed over.
func NewWatcher(configPath string, bus *Bus) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errtax.Wrap(errtax.InotifyCreate, "", "create filesystem watcher", err)
	}
	dir := filepath.Dir(configPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errtax.Wrap(errtax.InotifyWatch, "", "watch directory "+dir, err)
	}
	return &Watcher{fsw: fsw, path: filepath.Clean(configPath), bus: bus, done: make(chan struct{})}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	go w.run()
}

// Stop closes the underlying fsnotify watcher and stops the goroutine
// started by Start.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(watchDebounce)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.bus.InjectReload()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}
