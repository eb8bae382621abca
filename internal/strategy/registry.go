package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kquant/internal/logger"
)

// Snapshot is an immutable view of the loaded strategy set.
type Snapshot struct {
	Version     int64
	LoadedAt    time.Time
	Definitions []Definition
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Snapshot)

// Registry loads strategy definitions from a YAML file and reloads them when
// the file changes. A reload that fails validation keeps the previous set.
type Registry struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry reads the file once and starts watching it.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy registry requires a path")
	}
	r := &Registry{path: path, done: make(chan struct{})}
	if err := r.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch strategy file: %w", err)
	}
	// Watch the directory: editors replace files, which drops a watch on the
	// file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	r.watcher = watcher
	go r.watchLoop()
	return r, nil
}

func (r *Registry) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// Snapshot returns the current strategy set.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snapshot
	snap.Definitions = append([]Definition(nil), r.snapshot.Definitions...)
	return snap
}

// OnChange registers a listener invoked after each successful reload.
func (r *Registry) OnChange(fn ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) watchLoop() {
	var lastReload time.Time
	for {
		select {
		case <-r.done:
			return
		case evt, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(r.path) {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			// Editors fire bursts of events per save.
			if time.Since(lastReload) < 200*time.Millisecond {
				continue
			}
			lastReload = time.Now()
			if err := r.reload(); err != nil {
				logger.Errorf("strategy reload failed, keeping previous set: %v", err)
				continue
			}
			r.notifyListeners()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("strategy watcher: %v", err)
		}
	}
}

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", r.path, err)
	}
	defs, err := ParseDefinitions(raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:     r.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		Definitions: defs,
	}
	count := len(defs)
	version := r.snapshot.Version
	r.mu.Unlock()
	logger.Infof("loaded %d strategies from %s (v%d)", count, r.path, version)
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	snap := r.Snapshot()
	for _, fn := range listeners {
		fn(snap)
	}
}
