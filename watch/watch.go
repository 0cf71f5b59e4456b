// Package watch shares every file that appears in a directory.
package watch

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kutluhann/p2p-file-sharing/chunk"
)

// Settle is how long a file must go without events before it is shared.
const Settle = 500 * time.Millisecond

type ShareFunc func(path string) (*chunk.Manifest, error)

type Watcher struct {
	Dir    string
	Settle time.Duration

	share   ShareFunc
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

func New(dir string, share ShareFunc) (*Watcher, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "watch %s", dir)
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("watch %s: not a directory", dir)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create watcher")
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "watch %s", dir)
	}
	return &Watcher{
		Dir:     dir,
		Settle:  Settle,
		share:   share,
		watcher: fw,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run handles events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).WithField("dir", w.Dir).Warn("watch error")
		}
	}
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.shareFile(path)
	})
}

func (w *Watcher) shareFile(path string) {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return
	}
	m, err := w.share(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("failed to share watched file")
		return
	}
	log.WithFields(log.Fields{"path": path, "manifest": m.ID.String()}).Info("watched file shared")
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
