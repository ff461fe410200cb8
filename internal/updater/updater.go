// Package updater owns the subscription update queue: a FIFO of pending
// subscription ids processed strictly one at a time. For each id it loads
// the record, fetches raw feed bytes through the right transport strategy,
// parses, diffs against the stored watermark, persists new articles and
// opportunistically fetches a missing icon before advancing.
package updater

import (
	"log"
	"sync"

	"github.com/feedhaven/feedhaven/internal/cache"
	"github.com/feedhaven/feedhaven/internal/events"
	"github.com/feedhaven/feedhaven/internal/gateway"
	"github.com/feedhaven/feedhaven/internal/transport"
)

// Status is the coordinator's queue state.
type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusFinished
	StatusError
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActive:
		return "active"
	case StatusFinished:
		return "finished"
	case StatusError:
		return "error"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// EnclosureQueue receives enclosure URLs found in newly added articles.
// The transfers manager satisfies it.
type EnclosureQueue interface {
	Add(enclosureURL, subscriptionID, articleID string) string
}

// Options configures a coordinator.
type Options struct {
	UserAgent string
	// UseFavicons enables the favicon-service fallback for channels
	// without an explicit icon.
	UseFavicons bool
}

// Updater is the update queue coordinator. One instance serves the whole
// process.
type Updater struct {
	gw       *gateway.Gateway // main fetch chain
	iconGW   *gateway.Gateway // icon side-fetch chain, independent ordering
	bus      *events.Bus
	cache    *cache.Manager
	resolver transport.FetcherResolver
	encQueue EnclosureQueue
	opts     Options

	mu         sync.Mutex
	queue      []string
	queuedSet  map[string]struct{}
	total      int
	progress   int
	status     Status
	statusText string
	activeID   string
	inFlight   transport.Transfer
	canceled   bool
	wake       chan struct{}
	idle       chan struct{} // closed and replaced whenever the queue drains
}

// New constructs the coordinator. Both gateways must be dedicated to it;
// resolver and encQueue may be nil when plugins or enclosure downloads are
// not configured.
func New(gw, iconGW *gateway.Gateway, bus *events.Bus, cacheManager *cache.Manager,
	resolver transport.FetcherResolver, encQueue EnclosureQueue, opts Options) *Updater {
	u := &Updater{
		gw:        gw,
		iconGW:    iconGW,
		bus:       bus,
		cache:     cacheManager,
		resolver:  resolver,
		encQueue:  encQueue,
		opts:      opts,
		queuedSet: make(map[string]struct{}),
		status:    StatusIdle,
		wake:      make(chan struct{}, 1),
		idle:      make(chan struct{}),
	}
	go u.run()
	go u.watchBus()
	return u
}

// Enqueue appends a subscription id to the queue. Ids already queued are
// ignored, so enqueueing twice before processing yields one fetch.
func (u *Updater) Enqueue(id string) {
	u.mu.Lock()
	if _, dup := u.queuedSet[id]; dup {
		u.mu.Unlock()
		return
	}
	if len(u.queue) == 0 && u.activeID == "" {
		// Fresh drain cycle; progress restarts from zero.
		u.total = 0
		u.canceled = false
	}
	u.queue = append(u.queue, id)
	u.queuedSet[id] = struct{}{}
	u.total++
	u.mu.Unlock()

	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// EnqueueAll enqueues a batch, used by "update all" and after OPML import.
func (u *Updater) EnqueueAll(ids []string) {
	for _, id := range ids {
		u.Enqueue(id)
	}
}

// UpdateAll fetches every subscription id and enqueues them.
func (u *Updater) UpdateAll() {
	reply, ok := u.gw.FetchSubscriptions()
	if !ok {
		// The fetch chain is busy processing the queue; the caller can
		// retry once it drains.
		return
	}
	res := <-reply
	if res.Err != nil {
		log.Printf("updater: failed to list subscriptions: %v", res.Err)
		return
	}
	for res.Cursor.Next() {
		u.Enqueue(res.Cursor.Record().ID)
	}
}

// Cancel aborts the in-flight transfer (best effort) and drops every
// queued id. Safe to call when idle.
func (u *Updater) Cancel() {
	u.mu.Lock()
	if u.status != StatusActive {
		u.mu.Unlock()
		return
	}
	u.canceled = true
	u.queue = nil
	u.queuedSet = make(map[string]struct{})
	inFlight := u.inFlight
	u.mu.Unlock()

	if inFlight != nil {
		inFlight.Cancel()
	}
	u.setStatus(StatusCanceled, "Canceled")
}

// Status returns the coordinator's queue state.
func (u *Updater) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// StatusText returns the human-readable current action.
func (u *Updater) StatusText() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.statusText
}

// Progress returns queue completion, 0-100.
func (u *Updater) Progress() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.progress
}

// ActiveSubscription returns the id being fetched, or "" when idle.
func (u *Updater) ActiveSubscription() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.activeID
}

// Idle returns a channel closed when the current drain cycle completes.
// Callers snapshot it before enqueueing; mainly a test hook.
func (u *Updater) Idle() <-chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.idle
}

func (u *Updater) run() {
	for range u.wake {
		// A leftover wake token after the queue drained would otherwise
		// re-publish Finished and replace the idle channel for nothing.
		if !u.drainQueue() {
			continue
		}
		u.finishCycle()
	}
}

func (u *Updater) drainQueue() (processed bool) {
	for {
		id, ok := u.dequeue()
		if !ok {
			return processed
		}
		processed = true
		u.processOne(id)
	}
}

// dequeue pops the head and updates progress. It reports false when the
// queue is empty or the cycle was canceled.
func (u *Updater) dequeue() (string, bool) {
	u.mu.Lock()
	if u.canceled || len(u.queue) == 0 {
		u.mu.Unlock()
		return "", false
	}
	id := u.queue[0]
	u.queue = u.queue[1:]
	delete(u.queuedSet, id)
	u.activeID = id
	u.status = StatusActive
	progress := (u.total - len(u.queue) - 1) * 100 / u.total
	changed := progress != u.progress
	u.progress = progress
	u.mu.Unlock()

	if changed {
		u.publishProgress(progress)
	}
	return id, true
}

// advance recomputes progress after one subscription completes.
func (u *Updater) advance() {
	u.mu.Lock()
	u.activeID = ""
	u.inFlight = nil
	if u.total == 0 {
		u.mu.Unlock()
		return
	}
	progress := (u.total - len(u.queue)) * 100 / u.total
	changed := progress != u.progress
	u.progress = progress
	u.mu.Unlock()

	if changed {
		u.publishProgress(progress)
	}
}

func (u *Updater) finishCycle() {
	u.mu.Lock()
	wasCanceled := u.canceled
	u.canceled = false
	u.activeID = ""
	u.inFlight = nil
	// Ids enqueued while a cancel was settling were not part of the
	// canceled cycle; they start a fresh one.
	pending := len(u.queue) > 0
	if pending {
		u.total = len(u.queue)
		u.progress = 0
	}
	idle := u.idle
	u.idle = make(chan struct{})
	u.mu.Unlock()

	if !wasCanceled {
		u.setStatus(StatusFinished, "Finished")
	}
	u.setStatusKeepText(StatusIdle)
	close(idle)

	if pending {
		select {
		case u.wake <- struct{}{}:
		default:
		}
	}
}

func (u *Updater) setStatus(status Status, text string) {
	u.mu.Lock()
	statusChanged := status != u.status
	textChanged := text != u.statusText
	u.status = status
	u.statusText = text
	u.mu.Unlock()

	if statusChanged || textChanged {
		u.bus.Publish(events.Event{
			Name:    events.UpdaterStatus,
			Payload: events.UpdaterStatusPayload{Status: status.String(), StatusText: text},
		})
	}
}

func (u *Updater) setStatusKeepText(status Status) {
	u.mu.Lock()
	text := u.statusText
	u.mu.Unlock()
	u.setStatus(status, text)
}

func (u *Updater) publishProgress(progress int) {
	u.bus.Publish(events.Event{
		Name:    events.UpdaterProgress,
		Payload: events.UpdaterProgressPayload{Progress: progress},
	})
}

// watchBus enqueues freshly imported subscriptions so a new feed's first
// fetch happens without user action.
func (u *Updater) watchBus() {
	ch := u.bus.Subscribe(64)
	for ev := range ch {
		if ev.Name != events.SubscriptionsAdded {
			continue
		}
		payload, ok := ev.Payload.(events.SubscriptionsAddedPayload)
		if !ok {
			continue
		}
		u.EnqueueAll(payload.IDs)
	}
}
