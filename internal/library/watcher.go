package library

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/novarec/novarec/internal/logger"
)

// Change notifies that a recording appeared or disappeared.
type Change struct {
	Name    string `json:"name"`
	Removed bool   `json:"removed"`
}

// Watcher reports recordings added to or removed from the library directory
// by finalization or by the user.
type Watcher struct {
	fs      *fsnotify.Watcher
	changes chan Change
	stop    chan struct{}
}

// Watch starts watching the library directory. Close releases the watch.
// The directory is created if it does not exist yet; before the first
// recording finishes there is nothing else to watch.
func (l *Library) Watch() (*Watcher, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, err
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(l.dir); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		fs:      fs,
		changes: make(chan Change, 16),
		stop:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Changes delivers library change notifications.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.fs.Close()
}

func (w *Watcher) loop() {
	log := logger.WithComponent("library")
	defer close(w.changes)

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || !videoExts[strings.ToLower(filepath.Ext(name))] {
				continue
			}
			// A file renamed into the directory arrives as Create; renamed
			// away, as Rename.
			var change Change
			switch {
			case ev.Op.Has(fsnotify.Create):
				change = Change{Name: name}
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				change = Change{Name: name, Removed: true}
			default:
				continue
			}
			select {
			case w.changes <- change:
			default:
				log.Debug().Str("name", name).Msg("Dropping library change, consumer too slow")
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Library watcher error")
		}
	}
}
