// Package gateway is the asynchronous facade over the store. Every call is
// queued to a dedicated worker goroutine and answered on a reply channel;
// mutations additionally broadcast a typed notification on the bus.
//
// Each Gateway instance carries an Active guard: a second call while one is
// outstanding on the same instance is rejected. Callers needing concurrent
// operations use independent instances, one per logical call chain.
package gateway

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/feedhaven/feedhaven/internal/events"
	"github.com/feedhaven/feedhaven/internal/models"
	"github.com/feedhaven/feedhaven/internal/store"
)

// CacheRemover removes cached files belonging to deleted entities. The
// cache manager satisfies it; tests substitute their own.
type CacheRemover interface {
	RemoveSubscription(subscriptionID string) error
	RemoveArticle(subscriptionID, articleID string) error
}

// Gateway executes store operations on its own worker goroutine.
type Gateway struct {
	st       *store.Store
	bus      *events.Bus
	cache    CacheRemover // may be nil
	requests chan func()
	active   atomic.Bool
	closed   atomic.Bool
}

// New creates a Gateway and starts its worker.
func New(st *store.Store, bus *events.Bus, cache CacheRemover) *Gateway {
	g := &Gateway{
		st:       st,
		bus:      bus,
		cache:    cache,
		requests: make(chan func(), 1),
	}
	go g.run()
	return g
}

func (g *Gateway) run() {
	for req := range g.requests {
		req()
	}
}

// Close stops the worker. Outstanding requests complete first.
func (g *Gateway) Close() {
	if g.closed.CompareAndSwap(false, true) {
		close(g.requests)
	}
}

// submit enqueues fn unless a request is already outstanding; it reports
// whether the request was accepted. The guard is released after fn runs and
// its reply has been buffered.
func (g *Gateway) submit(fn func()) bool {
	if g.closed.Load() {
		return false
	}
	if !g.active.CompareAndSwap(false, true) {
		return false
	}
	g.requests <- func() {
		defer g.active.Store(false)
		fn()
	}
	return true
}

func (g *Gateway) fail(ch chan error, format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	g.bus.PublishError(err.Error())
	ch <- err
}

// AddSubscription inserts one subscription. The reply channel carries the
// outcome; ok is false if the gateway was busy.
func (g *Gateway) AddSubscription(sub *models.Subscription) (reply <-chan error, ok bool) {
	ch := make(chan error, 1)
	accepted := g.submit(func() {
		if err := g.st.AddSubscription(sub); err != nil {
			g.fail(ch, "add subscription: %w", err)
			return
		}
		g.bus.Publish(events.Event{
			Name:    events.SubscriptionsAdded,
			Payload: events.SubscriptionsAddedPayload{IDs: []string{sub.ID}},
		})
		ch <- nil
	})
	return ch, accepted
}

// AddSubscriptions inserts a batch (OPML import) in one transaction.
func (g *Gateway) AddSubscriptions(subs []*models.Subscription) (reply <-chan error, ok bool) {
	ch := make(chan error, 1)
	accepted := g.submit(func() {
		if err := g.st.AddSubscriptions(subs); err != nil {
			g.fail(ch, "add subscriptions: %w", err)
			return
		}
		ids := make([]string, len(subs))
		for i, sub := range subs {
			ids[i] = sub.ID
		}
		g.bus.Publish(events.Event{
			Name:    events.SubscriptionsAdded,
			Payload: events.SubscriptionsAddedPayload{IDs: ids},
		})
		ch <- nil
	})
	return ch, accepted
}

// UpdateSubscription applies a partial update.
func (g *Gateway) UpdateSubscription(id string, upd store.SubscriptionUpdate) (reply <-chan error, ok bool) {
	ch := make(chan error, 1)
	accepted := g.submit(func() {
		if err := g.st.UpdateSubscription(id, upd); err != nil {
			g.fail(ch, "update subscription: %w", err)
			return
		}
		g.bus.Publish(events.Event{
			Name:    events.SubscriptionUpdated,
			Payload: events.SubscriptionPayload{ID: id},
		})
		ch <- nil
	})
	return ch, accepted
}

// DeleteSubscription removes the record, its articles (cascade) and its
// cache subtree.
func (g *Gateway) DeleteSubscription(id string) (reply <-chan error, ok bool) {
	ch := make(chan error, 1)
	accepted := g.submit(func() {
		if err := g.st.DeleteSubscription(id); err != nil {
			g.fail(ch, "delete subscription: %w", err)
			return
		}
		if g.cache != nil {
			if err := g.cache.RemoveSubscription(id); err != nil {
				g.bus.PublishError(fmt.Sprintf("delete subscription cache: %v", err))
			}
		}
		g.bus.Publish(events.Event{
			Name:    events.SubscriptionDeleted,
			Payload: events.SubscriptionPayload{ID: id},
		})
		ch <- nil
	})
	return ch, accepted
}

// MarkSubscriptionRead flips the read flag on all of a subscription's
// articles.
func (g *Gateway) MarkSubscriptionRead(id string, read bool) (reply <-chan error, ok bool) {
	ch := make(chan error, 1)
	accepted := g.submit(func() {
		if err := g.st.MarkSubscriptionRead(id, read); err != nil {
			g.fail(ch, "mark subscription read: %w", err)
			return
		}
		g.bus.Publish(events.Event{
			Name:    events.SubscriptionRead,
			Payload: events.SubscriptionReadPayload{ID: id, IsRead: read},
		})
		ch <- nil
	})
	return ch, accepted
}

// AddArticles batch-inserts a fetch's qualifying articles.
func (g *Gateway) AddArticles(subscriptionID string, articles []*models.Article) (reply <-chan error, ok bool) {
	ch := make(chan error, 1)
	accepted := g.submit(func() {
		if err := g.st.AddArticles(subscriptionID, articles); err != nil {
			g.fail(ch, "add articles: %w", err)
			return
		}
		ids := make([]string, len(articles))
		for i, a := range articles {
			ids[i] = a.ID
		}
		g.bus.Publish(events.Event{
			Name:    events.ArticlesAdded,
			Payload: events.ArticlesPayload{ArticleIDs: ids, SubscriptionID: subscriptionID},
		})
		ch <- nil
	})
	return ch, accepted
}

// DeleteArticle removes one article and its cached images.
func (g *Gateway) DeleteArticle(id string) (reply <-chan error, ok bool) {
	ch := make(chan error, 1)
	accepted := g.submit(func() {
		subID, err := g.st.DeleteArticle(id)
		if err != nil {
			g.fail(ch, "delete article: %w", err)
			return
		}
		if g.cache != nil {
			if err := g.cache.RemoveArticle(subID, id); err != nil {
				g.bus.PublishError(fmt.Sprintf("delete article cache: %v", err))
			}
		}
		g.bus.Publish(events.Event{
			Name:    events.ArticlesDeleted,
			Payload: events.ArticlesPayload{ArticleIDs: []string{id}, SubscriptionID: subID},
		})
		ch <- nil
	})
	return ch, accepted
}

// MarkArticleRead flips an article's read flag, stamping lastRead.
func (g *Gateway) MarkArticleRead(id string, read bool) (reply <-chan error, ok bool) {
	ch := make(chan error, 1)
	accepted := g.submit(func() {
		subID, err := g.st.MarkArticleRead(id, read)
		if err != nil {
			g.fail(ch, "mark article read: %w", err)
			return
		}
		g.bus.Publish(events.Event{
			Name:    events.ArticleRead,
			Payload: events.ArticleReadPayload{ID: id, SubscriptionID: subID, IsRead: read},
		})
		ch <- nil
	})
	return ch, accepted
}

// MarkArticleFavourite flips an article's favourite flag.
func (g *Gateway) MarkArticleFavourite(id string, favourite bool) (reply <-chan error, ok bool) {
	ch := make(chan error, 1)
	accepted := g.submit(func() {
		if err := g.st.MarkArticleFavourite(id, favourite); err != nil {
			g.fail(ch, "mark article favourite: %w", err)
			return
		}
		g.bus.Publish(events.Event{
			Name:    events.ArticleFavourited,
			Payload: events.ArticleFavouritedPayload{ID: id, IsFavourite: favourite},
		})
		ch <- nil
	})
	return ch, accepted
}

// ExpiredResult reports the outcome of an expiry sweep.
type ExpiredResult struct {
	Count int
	Err   error
}

// DeleteExpiredArticles removes read, non-favourite articles last read
// before cutoff.
func (g *Gateway) DeleteExpiredArticles(cutoff time.Time) (reply <-chan ExpiredResult, ok bool) {
	ch := make(chan ExpiredResult, 1)
	accepted := g.submit(func() {
		count, err := g.st.DeleteExpiredArticles(cutoff)
		if err != nil {
			err = fmt.Errorf("delete expired articles: %w", err)
			g.bus.PublishError(err.Error())
			ch <- ExpiredResult{Err: err}
			return
		}
		if count > 0 {
			g.bus.Publish(events.Event{
				Name:    events.ReadArticlesDeleted,
				Payload: events.ReadArticlesDeletedPayload{Count: count},
			})
		}
		ch <- ExpiredResult{Count: count}
	})
	return ch, accepted
}
