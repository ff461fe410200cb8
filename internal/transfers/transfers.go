// Package transfers runs the enclosure download queue. Enclosure URLs
// found during a fetch are queued here and downloaded one at a time into
// the downloads directory, with status broadcast on the bus.
package transfers

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/feedhaven/feedhaven/internal/events"
	"github.com/feedhaven/feedhaven/internal/transport"
)

// Item statuses.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusCanceled   = "canceled"
	StatusFailed     = "failed"
)

// Item is one queued enclosure download.
type Item struct {
	ID             string `json:"id"`
	URL            string `json:"url"`
	SubscriptionID string `json:"subscription_id"`
	ArticleID      string `json:"article_id"`
	Status         string `json:"status"`
	Progress       int    `json:"progress"`
	Path           string `json:"path,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Manager owns the queue and its single download worker.
type Manager struct {
	dir       string
	userAgent string
	bus       *events.Bus

	mu       sync.Mutex
	items    map[string]*Item
	order    []string
	inFlight *transport.Download
	current  string
	wake     chan struct{}
}

// NewManager creates the queue manager. Start must be called before items
// are processed.
func NewManager(dir, userAgent string, bus *events.Bus) *Manager {
	return &Manager{
		dir:       dir,
		userAgent: userAgent,
		bus:       bus,
		items:     make(map[string]*Item),
		wake:      make(chan struct{}, 1),
	}
}

// Start launches the worker goroutine.
func (m *Manager) Start() {
	go m.run()
}

// Add queues an enclosure URL for download and returns the item id.
func (m *Manager) Add(enclosureURL, subscriptionID, articleID string) string {
	item := &Item{
		ID:             uuid.NewString(),
		URL:            enclosureURL,
		SubscriptionID: subscriptionID,
		ArticleID:      articleID,
		Status:         StatusQueued,
	}

	m.mu.Lock()
	m.items[item.ID] = item
	m.order = append(m.order, item.ID)
	m.mu.Unlock()

	m.publish(item)
	m.kick()
	return item.ID
}

// Items returns a snapshot of the queue in insertion order.
func (m *Manager) Items() []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Item, 0, len(m.order))
	for _, id := range m.order {
		copy := *m.items[id]
		out = append(out, &copy)
	}
	return out
}

// Pause marks a queued item paused; the worker skips it until resumed.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("transfer %s not found", id)
	}
	if item.Status != StatusQueued {
		return fmt.Errorf("transfer %s is not queued", id)
	}
	item.Status = StatusPaused
	m.publishLocked(item)
	return nil
}

// Resume re-queues a paused item.
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("transfer %s not found", id)
	}
	if item.Status != StatusPaused {
		m.mu.Unlock()
		return fmt.Errorf("transfer %s is not paused", id)
	}
	item.Status = StatusQueued
	m.publishLocked(item)
	m.mu.Unlock()
	m.kick()
	return nil
}

// Cancel drops a queued or paused item, or aborts it if in flight.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("transfer %s not found", id)
	}
	switch item.Status {
	case StatusQueued, StatusPaused:
		item.Status = StatusCanceled
		m.publishLocked(item)
		m.mu.Unlock()
		return nil
	case StatusInProgress:
		download := m.inFlight
		m.mu.Unlock()
		if download != nil {
			download.Cancel()
		}
		return nil
	default:
		m.mu.Unlock()
		return fmt.Errorf("transfer %s already finished", id)
	}
}

func (m *Manager) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	for range m.wake {
		for {
			item := m.nextQueued()
			if item == nil {
				break
			}
			m.process(item)
		}
	}
}

func (m *Manager) nextQueued() *Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if m.items[id].Status == StatusQueued {
			return m.items[id]
		}
	}
	return nil
}

func (m *Manager) process(item *Item) {
	download := transport.NewDownload(item.URL, m.userAgent)
	download.OnProgress(func(percent int) {
		m.mu.Lock()
		item.Progress = percent
		m.publishLocked(item)
		m.mu.Unlock()
	})

	m.mu.Lock()
	item.Status = StatusInProgress
	m.inFlight = download
	m.current = item.ID
	m.publishLocked(item)
	m.mu.Unlock()

	download.Start()
	<-download.Done()

	m.mu.Lock()
	m.inFlight = nil
	m.current = ""
	switch download.Status() {
	case transport.StatusReady:
		m.mu.Unlock()
		dest, err := m.save(item, download.Result())
		m.mu.Lock()
		if err != nil {
			item.Status = StatusFailed
			item.Error = err.Error()
			log.Printf("transfers: failed to save %s: %v", item.URL, err)
		} else {
			item.Status = StatusCompleted
			item.Progress = 100
			item.Path = dest
		}
	case transport.StatusCanceled:
		item.Status = StatusCanceled
	default:
		item.Status = StatusFailed
		if err := download.Err(); err != nil {
			item.Error = err.Error()
		}
		log.Printf("transfers: download failed for %s: %s", item.URL, item.Error)
	}
	m.publishLocked(item)
	m.mu.Unlock()
}

func (m *Manager) save(item *Item, data []byte) (string, error) {
	dir := filepath.Join(m.dir, item.SubscriptionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fileNameFromURL(item.URL)
	if name == "" {
		name = item.ID
	}
	dest := filepath.Join(dir, name)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}

func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	// path.Base yields "." for an empty path and "/" for the root path;
	// neither is a usable file name.
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func (m *Manager) publish(item *Item) {
	m.mu.Lock()
	m.publishLocked(item)
	m.mu.Unlock()
}

// publishLocked broadcasts the item's state; callers hold m.mu.
func (m *Manager) publishLocked(item *Item) {
	m.bus.Publish(events.Event{
		Name: events.TransferUpdated,
		Payload: events.TransferPayload{
			ID:       item.ID,
			Status:   item.Status,
			Progress: item.Progress,
		},
	})
}
