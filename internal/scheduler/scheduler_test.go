package scheduler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"

	"github.com/feedhaven/feedhaven/internal/cache"
	"github.com/feedhaven/feedhaven/internal/events"
	"github.com/feedhaven/feedhaven/internal/gateway"
	"github.com/feedhaven/feedhaven/internal/models"
	"github.com/feedhaven/feedhaven/internal/scheduler"
	"github.com/feedhaven/feedhaven/internal/store"
	"github.com/feedhaven/feedhaven/internal/testutil"
	"github.com/feedhaven/feedhaven/internal/updater"
)

const schedulerFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Scheduled</title>
<item><title>Item</title><link>http://example.com/1</link>
  <pubDate>Tue, 02 Jan 2024 12:00:00 GMT</pubDate></item>
</channel></rss>`

func TestScanDueSubscriptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(schedulerFeed))
	}))
	defer server.Close()

	db := testutil.SetupTestDB(t)
	st := store.New(db)
	bus := events.NewBus()
	upd := updater.New(
		gateway.New(st, bus, nil), gateway.New(st, bus, nil),
		bus, cache.New(t.TempDir()), nil, nil,
		updater.Options{UserAgent: "test-agent/1.0"},
	)

	// Never fetched with auto-update on, so the scan must pick it up.
	if err := st.AddSubscription(&models.Subscription{
		ID: "due", Title: "Due", Source: server.URL,
		SourceType: models.SourceTypeURL, UpdateInterval: 600,
	}); err != nil {
		t.Fatalf("AddSubscription failed: %v", err)
	}
	// Manual-only subscriptions are never scanned.
	if err := st.AddSubscription(&models.Subscription{
		ID: "manual", Title: "Manual", Source: server.URL,
		SourceType: models.SourceTypeURL, UpdateInterval: 0,
	}); err != nil {
		t.Fatalf("AddSubscription failed: %v", err)
	}

	sch := scheduler.Start(gateway.New(st, bus, nil), upd, scheduler.Options{})
	defer sch.Stop()

	idle := upd.Idle()
	sch.ScanDueSubscriptions()
	select {
	case <-idle:
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for the scan to drain")
	}

	due, err := st.GetArticles(models.ArticleFilter{SubscriptionID: "due"})
	if err != nil {
		t.Fatalf("GetArticles failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("Expected the due subscription to be fetched, got %d articles", len(due))
	}
	manual, _ := st.GetArticles(models.ArticleFilter{SubscriptionID: "manual"})
	if len(manual) != 0 {
		t.Errorf("Expected the manual subscription untouched, got %d articles", len(manual))
	}
}

func TestSweepExpiredArticles(t *testing.T) {
	db := testutil.SetupTestDB(t)
	st := store.New(db)
	bus := events.NewBus()
	upd := updater.New(
		gateway.New(st, bus, nil), gateway.New(st, bus, nil),
		bus, cache.New(t.TempDir()), nil, nil,
		updater.Options{UserAgent: "test-agent/1.0"},
	)

	if err := st.AddSubscription(&models.Subscription{
		ID: "sub-1", Title: "Sub", Source: "http://example.com/feed",
		SourceType: models.SourceTypeURL,
	}); err != nil {
		t.Fatalf("AddSubscription failed: %v", err)
	}
	if err := st.AddArticles("sub-1", []*models.Article{
		{ID: "old-read", Title: "Old", Date: time.Now().AddDate(0, -2, 0)},
		{ID: "fresh", Title: "Fresh", Date: time.Now()},
	}); err != nil {
		t.Fatalf("AddArticles failed: %v", err)
	}
	if _, err := st.MarkArticleRead("old-read", true); err != nil {
		t.Fatalf("MarkArticleRead failed: %v", err)
	}
	// Backdate the read stamp past the retention window.
	if _, err := db.Exec(`UPDATE articles SET last_read = ? WHERE id = ?`,
		time.Now().AddDate(0, 0, -40), "old-read"); err != nil {
		t.Fatalf("Failed to backdate last_read: %v", err)
	}

	sch := scheduler.Start(gateway.New(st, bus, nil), upd, scheduler.Options{ExpiryDays: 30})
	defer sch.Stop()

	sch.SweepExpiredArticles()

	if _, err := st.GetArticle("old-read"); err == nil {
		t.Error("Expected the old read article to be swept")
	}
	if _, err := st.GetArticle("fresh"); err != nil {
		t.Errorf("Expected the unread article to survive: %v", err)
	}
}
