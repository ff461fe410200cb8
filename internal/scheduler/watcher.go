// This file implements a file system watcher for local-file feeds. A feed
// backed by a file on disk is re-fetched when that file changes, instead
// of waiting for its update interval.

package scheduler

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/feedhaven/feedhaven/internal/events"
	"github.com/feedhaven/feedhaven/internal/gateway"
	"github.com/feedhaven/feedhaven/internal/models"
	"github.com/feedhaven/feedhaven/internal/updater"
)

// Watcher watches the source files of local-file subscriptions and
// enqueues the owning subscription when one changes.
type Watcher struct {
	gw      *gateway.Gateway
	updater *updater.Updater
	bus     *events.Bus
	watcher *fsnotify.Watcher

	mu            sync.Mutex
	byPath        map[string]string // absolute file path -> subscription id
	watchedDirs   map[string]bool
	pending       map[string]bool // subscription ids awaiting enqueue
	debounceTimer *time.Timer
	debounceDelay time.Duration
	stopChan      chan struct{}
}

// NewWatcher creates the watcher service. The gateway instance must be
// dedicated to it.
func NewWatcher(gw *gateway.Gateway, upd *updater.Updater, bus *events.Bus) *Watcher {
	return &Watcher{
		gw:            gw,
		updater:       upd,
		bus:           bus,
		byPath:        make(map[string]string),
		watchedDirs:   make(map[string]bool),
		pending:       make(map[string]bool),
		debounceDelay: 2 * time.Second,
		stopChan:      make(chan struct{}),
	}
}

// Start begins watching. The watch set follows the subscription table via
// bus notifications.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := w.Refresh(); err != nil {
		watcher.Close()
		return err
	}

	go w.processEvents()
	go w.watchBus()
	return nil
}

// Stop stops the watcher service.
func (w *Watcher) Stop() error {
	close(w.stopChan)
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// Refresh rebuilds the watch set from the current subscription table.
func (w *Watcher) Refresh() error {
	reply, ok := w.gw.FetchSubscriptions()
	if !ok {
		return nil
	}
	res := <-reply
	if res.Err != nil {
		return res.Err
	}

	byPath := make(map[string]string)
	dirs := make(map[string]bool)
	for res.Cursor.Next() {
		sub := res.Cursor.Record()
		if sub.SourceType != models.SourceTypeLocalFile {
			continue
		}
		abs, err := filepath.Abs(sub.Source)
		if err != nil {
			continue
		}
		byPath[abs] = sub.ID
		dirs[filepath.Dir(abs)] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := range w.watchedDirs {
		if !dirs[dir] {
			w.watcher.Remove(dir)
		}
	}
	for dir := range dirs {
		if !w.watchedDirs[dir] {
			if err := w.watcher.Add(dir); err != nil {
				log.Printf("watcher: cannot watch %s: %v", dir, err)
			}
		}
	}
	w.byPath = byPath
	w.watchedDirs = dirs
	return nil
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher: %v", err)

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Chmod fires on reads and folder browsing; it never means new content.
	if event.Op == fsnotify.Chmod {
		return
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	id, tracked := w.byPath[abs]
	if !tracked {
		return
	}
	w.pending[id] = true
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, w.flushPending)
}

// flushPending enqueues every subscription whose file changed since the
// last flush.
func (w *Watcher) flushPending() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	w.pending = make(map[string]bool)
	w.mu.Unlock()

	log.Printf("watcher: %d local feed(s) changed, enqueueing update", len(ids))
	w.updater.EnqueueAll(ids)
}

// watchBus refreshes the watch set when subscriptions change.
func (w *Watcher) watchBus() {
	ch := w.bus.Subscribe(64)
	defer w.bus.Unsubscribe(ch)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Name {
			case events.SubscriptionsAdded, events.SubscriptionDeleted, events.SubscriptionUpdated:
				if err := w.Refresh(); err != nil {
					log.Printf("watcher: refresh failed: %v", err)
				}
			}
		case <-w.stopChan:
			return
		}
	}
}
