package ml

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes a models directory and triggers a reload after artifact
// files change. Events are debounced so a bundle rewrite of several files
// produces a single reload.
type Watcher struct {
	fs       *fsnotify.Watcher
	log      *zap.Logger
	reload   func()
	debounce time.Duration
	done     chan struct{}
}

// NewWatcher starts watching dir. reload is invoked from the watcher
// goroutine after the directory settles.
func NewWatcher(dir string, reload func(), log *zap.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		fs:       fs,
		log:      log,
		reload:   reload,
		debounce: 500 * time.Millisecond,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			w.log.Debug("model artifact changed", zap.String("file", event.Name))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				// Drain a fired-but-unread timer before Reset, or the
				// stale value ends the new debounce window immediately.
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.log.Info("reloading model bundle after artifact change")
			w.reload()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("model watcher error", zap.Error(err))

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}
