// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

package cwregistry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 250 * time.Millisecond

// Watcher rescans a bundles root whenever a descriptor file changes and
// publishes the new registry to subscribers
type Watcher struct {
	root     string
	opts     ScanOptions
	debounce time.Duration
	log      *zap.Logger

	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	current  *Registry
	subs     map[int]chan ScanEvent
	nextSub  int
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	rescanCh chan struct{}
}

// NewWatcher creates a watcher for root. A non-positive debounce uses DefaultDebounce.
func NewWatcher(root string, opts ScanOptions, debounce time.Duration) *Watcher {
	opts = opts.withDefaults()
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     root,
		opts:     opts,
		debounce: debounce,
		log:      opts.Logger.With(zap.String("component", "watcher"), zap.String("root", root)),
		subs:     make(map[int]chan ScanEvent),
	}
}

// Start performs the initial scan and begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.mu.Unlock()

	reg, err := Scan(ctx, w.root, w.opts)
	if err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.root); err != nil {
		fw.Close()
		return err
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		fw.Close()
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			if err := fw.Add(filepath.Join(w.root, entry.Name())); err != nil {
				w.log.Warn("cannot watch bundle directory", zap.String("dir", entry.Name()), zap.Error(err))
			}
		}
	}

	w.mu.Lock()
	w.watcher = fw
	w.current = reg
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.rescanCh = make(chan struct{}, 1)
	w.mu.Unlock()

	w.publish(reg.Event())
	go w.run(ctx)
	w.log.Info("watching bundles", zap.Int("bundles", len(reg.bundles)))
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh

	if err := w.watcher.Close(); err != nil {
		w.log.Error("error closing watcher", zap.Error(err))
	}

	w.mu.Lock()
	for id, ch := range w.subs {
		close(ch)
		delete(w.subs, id)
	}
	w.mu.Unlock()
}

// Current returns the most recent registry, or nil before Start
func (w *Watcher) Current() *Registry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe returns a channel of scan events and a cancel func. Slow
// subscribers only see the latest event.
func (w *Watcher) Subscribe() (<-chan ScanEvent, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextSub
	w.nextSub++
	ch := make(chan ScanEvent, 1)
	w.subs[id] = ch
	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if c, ok := w.subs[id]; ok {
			close(c)
			delete(w.subs, id)
		}
	}
}

// Rescan requests a rescan outside of filesystem events
func (w *Watcher) Rescan() {
	w.mu.RLock()
	ch := w.rescanCh
	w.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (w *Watcher) publish(ev ScanEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			// drop the stale event and keep the newest
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("bundle change", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		case <-w.rescanCh:
			timer.Reset(0)
		case <-timer.C:
			w.rescan(ctx)
		}
	}
}

// relevant filters events down to descriptor files and bundle directories,
// adding newly created bundle directories to the watch list
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if filepath.Dir(ev.Name) == filepath.Clean(w.root) {
				if err := w.watcher.Add(ev.Name); err != nil {
					w.log.Warn("cannot watch bundle directory", zap.String("dir", ev.Name), zap.Error(err))
				}
			}
			return true
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

func (w *Watcher) rescan(ctx context.Context) {
	reg, err := Scan(ctx, w.root, w.opts)
	if err != nil {
		w.log.Error("rescan failed", zap.Error(err))
		w.publish(ScanEvent{At: time.Now(), Root: w.root, Error: err.Error()})
		return
	}
	w.mu.Lock()
	w.current = reg
	w.mu.Unlock()
	w.log.Info("bundles rescanned", zap.String("scan", reg.ScanID), zap.Int("bundles", len(reg.bundles)), zap.Int("problems", len(reg.Problems)))
	w.publish(reg.Event())
}
