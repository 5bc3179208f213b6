package acquire

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/franz/cratekeeper/internal/util"
)

// Watcher turns settled drops in a watch folder into Local acquisition
// jobs. A drop is one top-level directory; it counts as settled once no
// event has touched it for the settle window.
type Watcher struct {
	dir    string
	settle time.Duration
	submit func(dropDir string) error

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher over dir. submit is called with each
// settled drop directory.
func NewWatcher(dir string, settle time.Duration, submit func(string) error) *Watcher {
	if settle <= 0 {
		settle = 10 * time.Second
	}
	return &Watcher{
		dir:     dir,
		settle:  settle,
		submit:  submit,
		pending: make(map[string]*time.Timer),
	}
}

// Start begins watching. It picks up drops already present when the
// daemon starts, then reacts to filesystem events until ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	if err := util.EnsureDir(w.dir); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.addRecursive(w.dir); err != nil {
		fsw.Close()
		return err
	}

	// Drops left over from before the daemon started
	entries, err := os.ReadDir(w.dir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				w.touch(filepath.Join(w.dir, e.Name()))
			}
		}
	}

	go w.loop(ctx)
	util.InfoLog("Watching %s for dropped releases", w.dir)
	return nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			for _, t := range w.pending {
				t.Stop()
			}
			w.pending = make(map[string]*time.Timer)
			w.mu.Unlock()
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			util.WarnLog("Watch folder error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".part") {
		return
	}

	drop := w.dropRoot(event.Name)
	if drop == "" {
		return
	}

	// New directories need watching so nested writes keep the settle
	// timer honest
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				util.DebugLog("Failed to watch %s: %v", event.Name, err)
			}
		}
	}

	w.touch(drop)
}

// dropRoot maps an event path to its top-level drop directory, or ""
// when the path is the watch root itself or a bare file in it
func (w *Watcher) dropRoot(path string) string {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	top := strings.Split(rel, string(filepath.Separator))[0]
	drop := filepath.Join(w.dir, top)
	info, err := os.Stat(drop)
	if err != nil || !info.IsDir() {
		return ""
	}
	return drop
}

// touch arms or resets the settle timer for a drop
func (w *Watcher) touch(drop string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[drop]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[drop] = time.AfterFunc(w.settle, func() {
		w.settled(drop)
	})
}

func (w *Watcher) settled(drop string) {
	w.mu.Lock()
	delete(w.pending, drop)
	w.mu.Unlock()

	if _, err := os.Stat(drop); err != nil {
		return
	}
	if !HasAudio(drop) {
		util.DebugLog("Ignoring drop without audio: %s", drop)
		return
	}

	util.InfoLog("Detected settled drop: %s", drop)
	if err := w.submit(drop); err != nil {
		util.ErrorLog("Failed to submit drop %s: %v", drop, err)
	}
}
