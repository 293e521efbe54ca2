package assets

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/hybridrt/engine/core"
)

// Watcher collects the names of shader blobs rewritten on disk. The render
// loop drains them with Poll between frames.
type Watcher struct {
	fsnotify *fsnotify.Watcher
	known    map[string]bool

	mutex   sync.Mutex
	pending map[string]struct{}

	done     chan struct{}
	stopped  chan struct{}
	isClosed bool
}

// NewWatcher watches dir and its sub-directories for the given shader names.
func NewWatcher(dir string, names []string) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsnotify: fsWatch,
		known:    map[string]bool{},
		pending:  map[string]struct{}{},
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, n := range names {
		w.known[n] = true
	}
	if err := w.watchRecursive(dir); err != nil {
		fsWatch.Close()
		return nil, err
	}
	go w.start()
	return w, nil
}

func (w *Watcher) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.fsnotify.Add(walkPath)
		}
		return nil
	})
}

func (w *Watcher) start() {
	defer close(w.stopped)
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&fsnotify.Create != 0 {
				if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
					if err := w.watchRecursive(e.Name); err != nil {
						core.LogWarn("cannot watch %s: %s", e.Name, err)
					}
					continue
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handleFileEvent(e.Name)
			}
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handleFileEvent(path string) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ShaderExt) {
		return
	}
	name := strings.TrimSuffix(base, ShaderExt)
	if !w.known[name] {
		return
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.pending[name] = struct{}{}
}

// Poll returns the shaders changed since the previous call, sorted.
func (w *Watcher) Poll() []string {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	out := make([]string, 0, len(w.pending))
	for n := range w.pending {
		out = append(out, n)
	}
	w.pending = map[string]struct{}{}
	sort.Strings(out)
	return out
}

func (w *Watcher) Close() error {
	if w.isClosed {
		return errors.New("shader watcher already closed")
	}
	w.isClosed = true
	close(w.done)
	<-w.stopped
	return w.fsnotify.Close()
}
