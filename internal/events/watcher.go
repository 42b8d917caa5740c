package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentcp/controlplane/internal/telemetry"
)

// Watcher monitors an Agent Events Runtime's configured roots for changes to
// manifests and entrypoint files, debouncing bursts of writes into a single
// Reload call (spec §4.2 "Hot Reload Semantics").
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	runtime   *Runtime
	log       telemetry.Logger

	debounceDelay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Runtime       *Runtime
	Log           telemetry.Logger
	DebounceDelay time.Duration // defaults to 200ms
}

// NewWatcher creates a Watcher bound to runtime but does not start watching
// any path yet; call WatchRoot for each of the runtime's configured roots.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("events: watcher requires a runtime")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("events: create file watcher: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = telemetry.NewNoopLogger()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay <= 0 {
		debounceDelay = 200 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsWatcher:     fsWatcher,
		runtime:       cfg.Runtime,
		log:           log,
		debounceDelay: debounceDelay,
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// WatchRoot adds path (and, non-recursively, its immediate module
// subdirectories) to the set of watched directories. Extension roots are
// typically shallow (one directory per module), so this does not walk
// recursively the way a source-tree watcher would.
func (w *Watcher) WatchRoot(root Root) error {
	if err := w.fsWatcher.Add(root.Path); err != nil {
		return fmt.Errorf("events: watch root %s: %w", root.Path, err)
	}
	candidates, err := DiscoverCandidates([]Root{root})
	if err != nil {
		return nil // best-effort: the root itself is still watched
	}
	for _, c := range candidates {
		if err := w.fsWatcher.Add(c.Path); err != nil {
			w.log.Warn(w.ctx, "events: failed to watch module directory", "path", c.Path, "error", err.Error())
		}
	}
	return nil
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.scheduleReload()
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn(w.ctx, "events: file watcher error", "error", err.Error())
		case <-w.ctx.Done():
			return
		}
	}
}

// scheduleReload debounces bursts of filesystem events (e.g. an editor's
// write-then-rename save) into a single Reload call.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDelay, w.triggerReload)
}

func (w *Watcher) triggerReload() {
	res := w.runtime.Reload(w.ctx)
	if res.Status != ReloadOK {
		w.log.Warn(w.ctx, "events: hot reload failed, keeping prior snapshot", "code", res.Code, "moduleErrors", len(res.Errors))
		return
	}
	w.log.Info(w.ctx, "events: hot reload applied", "snapshotVersion", res.SnapshotVersion)
}

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	w.cancel()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.wg.Wait()
	return w.fsWatcher.Close()
}
