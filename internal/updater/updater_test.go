package updater_test

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"

	"github.com/feedhaven/feedhaven/internal/cache"
	"github.com/feedhaven/feedhaven/internal/events"
	"github.com/feedhaven/feedhaven/internal/gateway"
	"github.com/feedhaven/feedhaven/internal/models"
	"github.com/feedhaven/feedhaven/internal/store"
	"github.com/feedhaven/feedhaven/internal/testutil"
	"github.com/feedhaven/feedhaven/internal/transport"
	"github.com/feedhaven/feedhaven/internal/updater"
)

const testFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Example Feed</title>
<description>About examples</description>
<link>http://example.com/</link>
<item><title>Newer</title><link>http://example.com/2</link>
  <pubDate>Tue, 02 Jan 2024 12:00:00 GMT</pubDate></item>
<item><title>Older</title><link>http://example.com/1</link>
  <pubDate>Mon, 01 Jan 2024 12:00:00 GMT</pubDate></item>
</channel></rss>`

type harness struct {
	upd *updater.Updater
	st  *store.Store
	bus *events.Bus
}

func setupUpdater(t *testing.T, encQueue updater.EnclosureQueue) *harness {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t))
	bus := events.NewBus()
	cacheManager := cache.New(t.TempDir())
	upd := updater.New(
		gateway.New(st, bus, nil),
		gateway.New(st, bus, nil),
		bus, cacheManager, nil, encQueue,
		updater.Options{UserAgent: "test-agent/1.0"},
	)
	return &harness{upd: upd, st: st, bus: bus}
}

func (h *harness) addSubscription(t *testing.T, id, source string) {
	t.Helper()
	err := h.st.AddSubscription(&models.Subscription{
		ID:         id,
		Title:      "Feed " + id,
		Source:     source,
		SourceType: models.SourceTypeURL,
	})
	if err != nil {
		t.Fatalf("AddSubscription failed: %v", err)
	}
}

func waitIdle(t *testing.T, idle <-chan struct{}) {
	t.Helper()
	select {
	case <-idle:
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for the update queue to drain")
	}
}

func TestFetchIngestsNewArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	}))
	defer server.Close()

	h := setupUpdater(t, nil)
	h.addSubscription(t, "sub-1", server.URL)

	idle := h.upd.Idle()
	h.upd.Enqueue("sub-1")
	waitIdle(t, idle)

	articles, err := h.st.GetArticles(models.ArticleFilter{SubscriptionID: "sub-1"})
	if err != nil {
		t.Fatalf("GetArticles failed: %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("Expected 2 articles, got %d", len(articles))
	}
	// Newest first from storage; both carry fresh ids and feed dates.
	if articles[0].Title != "Newer" || articles[1].Title != "Older" {
		t.Errorf("Unexpected articles: %q, %q", articles[0].Title, articles[1].Title)
	}

	sub, err := h.st.GetSubscription("sub-1")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if sub.LastUpdated == nil {
		t.Fatal("Expected the watermark to advance after a successful fetch")
	}
	// Channel metadata refreshed from the document.
	if sub.Title != "Example Feed" || sub.URL != "http://example.com/" {
		t.Errorf("Expected channel metadata to be stored, got title=%q url=%q", sub.Title, sub.URL)
	}
	if sub.UnreadArticles != 2 {
		t.Errorf("Expected 2 unread, got %d", sub.UnreadArticles)
	}

	if h.upd.StatusText() != "Finished" {
		t.Errorf("Expected status text Finished, got %q", h.upd.StatusText())
	}
}

func TestRefetchDoesNotReingest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	}))
	defer server.Close()

	h := setupUpdater(t, nil)
	h.addSubscription(t, "sub-1", server.URL)

	idle := h.upd.Idle()
	h.upd.Enqueue("sub-1")
	waitIdle(t, idle)

	first, _ := h.st.GetArticles(models.ArticleFilter{SubscriptionID: "sub-1"})
	if len(first) != 2 {
		t.Fatalf("Expected 2 articles after first fetch, got %d", len(first))
	}

	idle = h.upd.Idle()
	h.upd.Enqueue("sub-1")
	waitIdle(t, idle)

	second, _ := h.st.GetArticles(models.ArticleFilter{SubscriptionID: "sub-1"})
	if len(second) != 2 {
		t.Fatalf("Expected no re-ingestion on refetch, got %d articles", len(second))
	}
	for i := range first {
		if second[i].ID != first[i].ID {
			t.Errorf("Article %d changed identity across refetch", i)
		}
	}
}

func TestParseErrorLeavesWatermarkAlone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a feed at all"))
	}))
	defer server.Close()

	h := setupUpdater(t, nil)
	h.addSubscription(t, "sub-1", server.URL)

	ch := h.bus.Subscribe(64)
	defer h.bus.Unsubscribe(ch)

	idle := h.upd.Idle()
	h.upd.Enqueue("sub-1")
	waitIdle(t, idle)

	sub, _ := h.st.GetSubscription("sub-1")
	if sub.LastUpdated != nil {
		t.Error("Expected the watermark untouched after a parse failure")
	}
	articles, _ := h.st.GetArticles(models.ArticleFilter{SubscriptionID: "sub-1"})
	if len(articles) != 0 {
		t.Errorf("Expected no articles, got %d", len(articles))
	}

	if !sawStatusText(ch, "Error parsing XML for Feed sub-1") {
		t.Error("Expected an XML parse error status")
	}
}

func TestUndatedItemIsAParseError(t *testing.T) {
	const undated = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>T</title>
<item><title>No date</title><link>http://example.com/x</link></item>
</channel></rss>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(undated))
	}))
	defer server.Close()

	h := setupUpdater(t, nil)
	h.addSubscription(t, "sub-1", server.URL)

	idle := h.upd.Idle()
	h.upd.Enqueue("sub-1")
	waitIdle(t, idle)

	articles, _ := h.st.GetArticles(models.ArticleFilter{SubscriptionID: "sub-1"})
	if len(articles) != 0 {
		t.Errorf("Expected an undated item to abort the run, got %d articles", len(articles))
	}
	sub, _ := h.st.GetSubscription("sub-1")
	if sub.LastUpdated != nil {
		t.Error("Expected the watermark untouched")
	}
}

func TestUndatedTrailingItemKeepsEarlierOnes(t *testing.T) {
	const mixed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>T</title>
<item><title>Newer</title><link>http://example.com/2</link>
  <pubDate>Tue, 02 Jan 2024 12:00:00 GMT</pubDate></item>
<item><title>Older</title><link>http://example.com/1</link>
  <pubDate>Mon, 01 Jan 2024 12:00:00 GMT</pubDate></item>
<item><title>Ancient</title><link>http://example.com/0</link></item>
</channel></rss>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mixed))
	}))
	defer server.Close()

	h := setupUpdater(t, nil)
	h.addSubscription(t, "sub-1", server.URL)

	idle := h.upd.Idle()
	h.upd.Enqueue("sub-1")
	waitIdle(t, idle)

	// An undated item past the first ends the walk but does not condemn
	// the items collected before it.
	articles, _ := h.st.GetArticles(models.ArticleFilter{SubscriptionID: "sub-1"})
	if len(articles) != 2 {
		t.Fatalf("Expected the dated items to be ingested, got %d articles", len(articles))
	}
	sub, _ := h.st.GetSubscription("sub-1")
	if sub.LastUpdated == nil {
		t.Error("Expected the watermark to advance")
	}
	if h.upd.StatusText() != "Finished" {
		t.Errorf("Expected status text Finished, got %q", h.upd.StatusText())
	}
}

func TestFaultIsolation(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/bad", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/good", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	})

	h := setupUpdater(t, nil)
	h.addSubscription(t, "bad", server.URL+"/bad")
	h.addSubscription(t, "good", server.URL+"/good")

	ch := h.bus.Subscribe(64)
	defer h.bus.Unsubscribe(ch)

	idle := h.upd.Idle()
	h.upd.EnqueueAll([]string{"bad", "good"})
	waitIdle(t, idle)

	// The failed feed must not stop the one behind it.
	articles, _ := h.st.GetArticles(models.ArticleFilter{SubscriptionID: "good"})
	if len(articles) != 2 {
		t.Errorf("Expected the good feed to be ingested, got %d articles", len(articles))
	}
	if !sawStatusTextPrefix(ch, "Error retrieving feed for Feed bad:") {
		t.Error("Expected a retrieval error status for the bad feed")
	}
	if h.upd.StatusText() != "Finished" {
		t.Errorf("Expected the queue to finish, got %q", h.upd.StatusText())
	}
}

func TestQueuedDuplicatesCollapse(t *testing.T) {
	var mu sync.Mutex
	requests := make(map[string]int)
	gate := make(chan struct{})
	var gateOnce sync.Once

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/slow" {
			gateOnce.Do(func() { close(gate) })
			time.Sleep(100 * time.Millisecond)
		}
		w.Write([]byte(testFeed))
	})

	h := setupUpdater(t, nil)
	h.addSubscription(t, "slow", server.URL+"/slow")
	h.addSubscription(t, "other", server.URL+"/other")

	idle := h.upd.Idle()
	h.upd.Enqueue("slow")
	<-gate // "slow" is in flight; "other" can be queued and duplicated
	h.upd.Enqueue("other")
	h.upd.Enqueue("other")
	h.upd.Enqueue("other")
	waitIdle(t, idle)

	mu.Lock()
	defer mu.Unlock()
	if requests["/other"] != 1 {
		t.Errorf("Expected one fetch for a triple-queued id, got %d", requests["/other"])
	}
}

func TestCancelDropsQueue(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	requestCount := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestCount++
		first := requestCount == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		w.Write([]byte(testFeed))
	}))
	defer server.Close()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()

	h := setupUpdater(t, nil)
	h.addSubscription(t, "a", server.URL)
	h.addSubscription(t, "b", server.URL)
	h.addSubscription(t, "c", server.URL)

	idle := h.upd.Idle()
	h.upd.EnqueueAll([]string{"a", "b", "c"})
	<-started
	h.upd.Cancel()
	close(release)
	waitIdle(t, idle)

	mu.Lock()
	count := requestCount
	mu.Unlock()
	if count != 1 {
		t.Errorf("Expected the queued ids to be dropped after cancel, got %d requests", count)
	}
	if h.upd.StatusText() != "Canceled" {
		t.Errorf("Expected status text Canceled, got %q", h.upd.StatusText())
	}

	// Nothing landed for the canceled fetch.
	for _, id := range []string{"a", "b", "c"} {
		articles, _ := h.st.GetArticles(models.ArticleFilter{SubscriptionID: id})
		if len(articles) != 0 {
			t.Errorf("Expected no articles for %s, got %d", id, len(articles))
		}
	}

	// The queue accepts work again after a cancel.
	idle = h.upd.Idle()
	h.upd.Enqueue("a")
	waitIdle(t, idle)
	articles, _ := h.st.GetArticles(models.ArticleFilter{SubscriptionID: "a"})
	if len(articles) != 2 {
		t.Errorf("Expected the queue to recover after cancel, got %d articles", len(articles))
	}
}

func TestEnqueueDuringCancelWindowStartsFreshCycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFeed))
	}))
	defer server.Close()

	fetcher := &stalledFetcher{
		started:  make(chan struct{}),
		finished: make(chan transport.FetchResult, 1),
	}
	st := store.New(testutil.SetupTestDB(t))
	bus := events.NewBus()
	upd := updater.New(
		gateway.New(st, bus, nil),
		gateway.New(st, bus, nil),
		bus, cache.New(t.TempDir()), stalledResolver{fetcher: fetcher}, nil,
		updater.Options{UserAgent: "test-agent/1.0"},
	)

	for _, sub := range []*models.Subscription{
		{ID: "stuck", Title: "Feed stuck", Source: `{"pluginId":"stub"}`, SourceType: models.SourceTypePlugin},
		{ID: "later", Title: "Feed later", Source: server.URL, SourceType: models.SourceTypeURL},
	} {
		if err := st.AddSubscription(sub); err != nil {
			t.Fatalf("AddSubscription failed: %v", err)
		}
	}

	upd.Enqueue("stuck")
	<-fetcher.started

	// The plugin call cannot be interrupted, so the cancel settles only
	// once the fetcher reports back. An id enqueued in that window must
	// still be processed afterwards.
	upd.Cancel()
	upd.Enqueue("later")
	fetcher.finished <- transport.FetchResult{Status: transport.FetchCanceled}

	deadline := time.Now().Add(5 * time.Second)
	for {
		articles, _ := st.GetArticles(models.ArticleFilter{SubscriptionID: "later"})
		if len(articles) == 2 && upd.StatusText() == "Finished" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Id enqueued during a settling cancel was never processed: %d articles, status %q",
				len(articles), upd.StatusText())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLeftoverWakeDoesNotRepeatFinished(t *testing.T) {
	gate := make(chan struct{})
	var gateOnce sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gateOnce.Do(func() { close(gate) })
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(testFeed))
	}))
	defer server.Close()

	h := setupUpdater(t, nil)
	h.addSubscription(t, "a", server.URL+"/a")
	h.addSubscription(t, "b", server.URL+"/b")

	ch := h.bus.Subscribe(64)
	defer h.bus.Unsubscribe(ch)

	idle := h.upd.Idle()
	h.upd.Enqueue("a")
	<-gate // worker is busy; the next enqueue leaves a spare wake token
	h.upd.Enqueue("b")
	waitIdle(t, idle)
	// Give the spare token time to be consumed.
	time.Sleep(100 * time.Millisecond)

	if got := countStatusText(ch, "Finished"); got != 1 {
		t.Errorf("Expected one Finished notification per drain cycle, got %d", got)
	}
}

func TestProgressStepsThroughQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Slow enough that the whole batch is queued before the first
		// subscription completes.
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(testFeed))
	}))
	defer server.Close()

	h := setupUpdater(t, nil)
	ids := make([]string, 4)
	for i := range ids {
		ids[i] = fmt.Sprintf("sub-%d", i)
		h.addSubscription(t, ids[i], server.URL)
	}

	ch := h.bus.Subscribe(128)
	defer h.bus.Unsubscribe(ch)

	idle := h.upd.Idle()
	h.upd.EnqueueAll(ids)
	waitIdle(t, idle)

	seen := make(map[int]bool)
	for done := false; !done; {
		select {
		case ev := <-ch:
			if ev.Name == events.UpdaterProgress {
				seen[ev.Payload.(events.UpdaterProgressPayload).Progress] = true
			}
		default:
			done = true
		}
	}
	for _, want := range []int{25, 50, 75, 100} {
		if !seen[want] {
			t.Errorf("Expected a progress report of %d%%, saw %v", want, seen)
		}
	}
	if h.upd.Progress() != 100 {
		t.Errorf("Expected final progress 100, got %d", h.upd.Progress())
	}
}

func TestEnclosuresDispatchedWhenEnabled(t *testing.T) {
	const withEnclosure = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Pod</title>
<item><title>Episode</title><link>http://example.com/ep</link>
  <pubDate>Tue, 02 Jan 2024 12:00:00 GMT</pubDate>
  <enclosure url="http://example.com/ep.mp3" type="audio/mpeg" length="10"/></item>
</channel></rss>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(withEnclosure))
	}))
	defer server.Close()

	queue := &recordingQueue{}
	h := setupUpdater(t, queue)
	if err := h.st.AddSubscription(&models.Subscription{
		ID:                 "pod",
		Title:              "Pod",
		Source:             server.URL,
		SourceType:         models.SourceTypeURL,
		DownloadEnclosures: true,
	}); err != nil {
		t.Fatalf("AddSubscription failed: %v", err)
	}

	idle := h.upd.Idle()
	h.upd.Enqueue("pod")
	waitIdle(t, idle)

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.added) != 1 || queue.added[0] != "http://example.com/ep.mp3" {
		t.Errorf("Expected the enclosure to be queued, got %v", queue.added)
	}
}

func TestIconSideFetch(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/icon.png", func(w http.ResponseWriter, r *http.Request) {
		img := image.NewRGBA(image.Rect(0, 0, 32, 32))
		png.Encode(w, img)
	})
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		feedDoc := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Iconed</title>
<image><url>` + server.URL + `/icon.png</url></image>
<item><title>Item</title><link>http://example.com/1</link>
  <pubDate>Tue, 02 Jan 2024 12:00:00 GMT</pubDate></item>
</channel></rss>`
		w.Write([]byte(feedDoc))
	})

	h := setupUpdater(t, nil)
	h.addSubscription(t, "sub-1", server.URL+"/feed")

	idle := h.upd.Idle()
	h.upd.Enqueue("sub-1")
	waitIdle(t, idle)

	sub, err := h.st.GetSubscription("sub-1")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if sub.IconPath == "" {
		t.Fatal("Expected the icon path to be recorded")
	}
	data, err := os.ReadFile(sub.IconPath)
	if err != nil {
		t.Fatalf("Expected the icon on disk: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Stored icon is not a PNG: %v", err)
	}
	if decoded.Bounds().Dy() != 16 {
		t.Errorf("Expected the icon scaled to 16px, got %d", decoded.Bounds().Dy())
	}
}

type recordingQueue struct {
	mu    sync.Mutex
	added []string
}

func (q *recordingQueue) Add(enclosureURL, subscriptionID, articleID string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.added = append(q.added, enclosureURL)
	return fmt.Sprintf("item-%d", len(q.added))
}

// stalledFetcher is a plugin-style fetch whose call cannot be interrupted;
// Cancel is a no-op and the result only arrives when the test releases it
// on finished.
type stalledFetcher struct {
	started  chan struct{}
	finished chan transport.FetchResult
}

func (f *stalledFetcher) GetFeed(map[string]string) bool {
	close(f.started)
	return true
}

func (f *stalledFetcher) Cancel() {}

func (f *stalledFetcher) Finished() <-chan transport.FetchResult {
	return f.finished
}

type stalledResolver struct {
	fetcher *stalledFetcher
}

func (r stalledResolver) ResolveFeedFetcher(string) (transport.FeedFetcher, error) {
	return r.fetcher, nil
}

func countStatusText(ch chan events.Event, want string) int {
	count := 0
	for {
		select {
		case ev := <-ch:
			if ev.Name != events.UpdaterStatus {
				continue
			}
			if ev.Payload.(events.UpdaterStatusPayload).StatusText == want {
				count++
			}
		default:
			return count
		}
	}
}

func sawStatusText(ch chan events.Event, want string) bool {
	for {
		select {
		case ev := <-ch:
			if ev.Name != events.UpdaterStatus {
				continue
			}
			if ev.Payload.(events.UpdaterStatusPayload).StatusText == want {
				return true
			}
		default:
			return false
		}
	}
}

func sawStatusTextPrefix(ch chan events.Event, prefix string) bool {
	for {
		select {
		case ev := <-ch:
			if ev.Name != events.UpdaterStatus {
				continue
			}
			text := ev.Payload.(events.UpdaterStatusPayload).StatusText
			if len(text) >= len(prefix) && text[:len(prefix)] == prefix {
				return true
			}
		default:
			return false
		}
	}
}
