package gateway

import (
	"fmt"
	"time"

	"github.com/feedhaven/feedhaven/internal/models"
)

// SubscriptionCursor steps through fetched subscription records.
type SubscriptionCursor struct {
	records []*models.Subscription
	pos     int
}

// Next advances the cursor; it must be called before the first Record.
func (c *SubscriptionCursor) Next() bool {
	if c.pos >= len(c.records) {
		return false
	}
	c.pos++
	return true
}

// Record returns the current record.
func (c *SubscriptionCursor) Record() *models.Subscription {
	return c.records[c.pos-1]
}

// Len returns the total number of records behind the cursor.
func (c *SubscriptionCursor) Len() int {
	return len(c.records)
}

// ArticleCursor steps through fetched article records.
type ArticleCursor struct {
	records []*models.Article
	pos     int
}

func (c *ArticleCursor) Next() bool {
	if c.pos >= len(c.records) {
		return false
	}
	c.pos++
	return true
}

func (c *ArticleCursor) Record() *models.Article {
	return c.records[c.pos-1]
}

func (c *ArticleCursor) Len() int {
	return len(c.records)
}

// SubscriptionResult answers a subscription read request.
type SubscriptionResult struct {
	Cursor *SubscriptionCursor
	Err    error
}

// One returns the single expected record, or an error if none came back.
func (r SubscriptionResult) One() (*models.Subscription, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if !r.Cursor.Next() {
		return nil, fmt.Errorf("no subscription record returned")
	}
	return r.Cursor.Record(), nil
}

// ArticleResult answers an article read request.
type ArticleResult struct {
	Cursor *ArticleCursor
	Err    error
}

// FetchSubscription loads one subscription by id.
func (g *Gateway) FetchSubscription(id string) (reply <-chan SubscriptionResult, ok bool) {
	ch := make(chan SubscriptionResult, 1)
	accepted := g.submit(func() {
		sub, err := g.st.GetSubscription(id)
		if err != nil {
			ch <- SubscriptionResult{Err: err}
			return
		}
		ch <- SubscriptionResult{Cursor: &SubscriptionCursor{records: []*models.Subscription{sub}}}
	})
	return ch, accepted
}

// FetchSubscriptions loads every subscription.
func (g *Gateway) FetchSubscriptions() (reply <-chan SubscriptionResult, ok bool) {
	ch := make(chan SubscriptionResult, 1)
	accepted := g.submit(func() {
		subs, err := g.st.GetAllSubscriptions()
		if err != nil {
			ch <- SubscriptionResult{Err: err}
			return
		}
		ch <- SubscriptionResult{Cursor: &SubscriptionCursor{records: subs}}
	})
	return ch, accepted
}

// FetchDueSubscriptions loads subscriptions whose update interval has
// elapsed. Used by the scheduled-update timer.
func (g *Gateway) FetchDueSubscriptions(now time.Time) (reply <-chan SubscriptionResult, ok bool) {
	ch := make(chan SubscriptionResult, 1)
	accepted := g.submit(func() {
		subs, err := g.st.GetDueSubscriptions(now)
		if err != nil {
			ch <- SubscriptionResult{Err: err}
			return
		}
		ch <- SubscriptionResult{Cursor: &SubscriptionCursor{records: subs}}
	})
	return ch, accepted
}

// FetchArticle loads one article by id.
func (g *Gateway) FetchArticle(id string) (reply <-chan ArticleResult, ok bool) {
	ch := make(chan ArticleResult, 1)
	accepted := g.submit(func() {
		a, err := g.st.GetArticle(id)
		if err != nil {
			ch <- ArticleResult{Err: err}
			return
		}
		ch <- ArticleResult{Cursor: &ArticleCursor{records: []*models.Article{a}}}
	})
	return ch, accepted
}

// FetchArticles loads articles matching the filter, newest first.
func (g *Gateway) FetchArticles(filter models.ArticleFilter) (reply <-chan ArticleResult, ok bool) {
	ch := make(chan ArticleResult, 1)
	accepted := g.submit(func() {
		articles, err := g.st.GetArticles(filter)
		if err != nil {
			ch <- ArticleResult{Err: err}
			return
		}
		ch <- ArticleResult{Cursor: &ArticleCursor{records: articles}}
	})
	return ch, accepted
}
