// Package watch notices changes that other processes make to the shared
// state file, the way a browser tab sees storage events from its siblings.
package watch

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/stockroom/internal/logging"
)

// Watcher calls a function when one file inside a directory is written,
// created or renamed into place. Bursts within the settle window produce one
// call.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	name     string
	settle   time.Duration
	onChange func()
	log      logrus.FieldLogger

	mu      sync.Mutex
	running bool
	timer   *time.Timer
	done    chan struct{}
	wg      sync.WaitGroup
}

// New prepares a watcher for path. The directory is watched rather than the
// file, since atomic writes replace the file by rename.
func New(path string, settle time.Duration, onChange func(), log logrus.FieldLogger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Watcher{
		watcher:  w,
		dir:      filepath.Dir(path),
		name:     filepath.Base(path),
		settle:   settle,
		onChange: onChange,
		log:      log.WithField("module", "watch"),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.running = true
	w.wg.Add(1)
	go w.loop()
	w.log.WithField("path", filepath.Join(w.dir, w.name)).Debug("watching")
	return nil
}

// Stop ends watching and waits for the event loop to exit. Stop is
// idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.settle, w.onChange)
}
