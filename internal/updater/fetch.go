package updater

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/feedhaven/feedhaven/internal/feed"
	"github.com/feedhaven/feedhaven/internal/models"
	"github.com/feedhaven/feedhaven/internal/store"
	"github.com/feedhaven/feedhaven/internal/transport"
)

// processOne runs the full fetch pipeline for a single subscription:
// load record, fetch bytes, parse, diff against the watermark, persist,
// then kick off the icon side-fetch.
func (u *Updater) processOne(id string) {
	defer u.advance()

	sub, err := u.loadSubscription(id)
	if err != nil {
		u.fault(fmt.Sprintf("Error retrieving feed for %s: %v", id, err))
		return
	}

	name := sub.Title
	if name == "" {
		name = sub.Source
	}
	u.setStatus(StatusActive, "Retrieving feed for "+name)

	tr, err := u.buildTransfer(sub)
	if err != nil {
		u.fault(fmt.Sprintf("Error retrieving feed for %s: %v", name, err))
		return
	}

	u.mu.Lock()
	if u.canceled {
		u.mu.Unlock()
		return
	}
	u.inFlight = tr
	u.mu.Unlock()

	tr.Start()
	<-tr.Done()

	switch tr.Status() {
	case transport.StatusReady:
	case transport.StatusCanceled:
		return
	default:
		u.fault(fmt.Sprintf("Error retrieving feed for %s: %v", name, tr.Err()))
		return
	}

	reader := feed.NewReader(tr.Result())
	if !reader.ReadChannel() {
		u.fault("Error parsing XML for " + name)
		return
	}
	channel := reader.Channel()

	articles, parseOK := u.collectArticles(sub, reader)
	if !parseOK {
		u.fault("Error parsing XML for " + name)
		return
	}

	if len(articles) > 0 {
		if err := u.persistArticles(sub, articles); err != nil {
			u.fault(fmt.Sprintf("Error retrieving feed for %s: %v", name, err))
			return
		}
	}

	// The watermark only advances after the batch landed, so a failed run
	// re-ingests nothing and loses nothing.
	if err := u.stampSubscription(sub, channel); err != nil {
		u.fault(fmt.Sprintf("Error retrieving feed for %s: %v", name, err))
		return
	}

	if sub.IconPath == "" {
		u.fetchIcon(sub.ID, channel.IconURL, channel.Link)
	}
}

func (u *Updater) loadSubscription(id string) (*models.Subscription, error) {
	reply, ok := u.gw.FetchSubscription(id)
	if !ok {
		return nil, fmt.Errorf("storage gateway busy")
	}
	return (<-reply).One()
}

// buildTransfer selects the transport strategy for the subscription's
// source type.
func (u *Updater) buildTransfer(sub *models.Subscription) (transport.Transfer, error) {
	switch sub.SourceType {
	case models.SourceTypeURL:
		return transport.NewDownload(sub.Source, u.opts.UserAgent), nil
	case models.SourceTypeLocalFile:
		return transport.NewDownload(transport.NormalizeSource(sub.Source), u.opts.UserAgent), nil
	case models.SourceTypeCommand:
		return transport.NewProcessRun(sub.Source), nil
	case models.SourceTypePlugin:
		if u.resolver == nil {
			return nil, fmt.Errorf("no plugin registry configured")
		}
		var src models.PluginSource
		if err := json.Unmarshal([]byte(sub.Source), &src); err != nil {
			return nil, fmt.Errorf("invalid plugin source: %w", err)
		}
		return transport.NewPluginFetch(u.resolver, src.PluginID, src.Settings), nil
	default:
		return nil, fmt.Errorf("unknown source type %d", sub.SourceType)
	}
}

// collectArticles walks the feed front to back and keeps items strictly
// newer than the watermark. Feeds are newest-first, so the walk stops at
// the first item at or before the watermark. A first item without a
// parseable date condemns the document (parseOK false, nothing kept); a
// bad date further down just ends the usable window and the items
// collected before it are ingested.
func (u *Updater) collectArticles(sub *models.Subscription, reader *feed.Reader) (articles []*models.Article, parseOK bool) {
	watermark := sub.Watermark()
	first := true
	for reader.ReadNextArticle() {
		item := reader.Article()
		if !item.DateValid {
			if first {
				return nil, false
			}
			break
		}
		first = false
		if !item.Date.After(watermark) {
			break
		}

		articleID := uuid.NewString()
		articles = append(articles, &models.Article{
			ID:             articleID,
			SubscriptionID: sub.ID,
			Author:         item.Author,
			Title:          item.Title,
			Body:           rewriteBodyImages(item.Body, sub.ID, articleID),
			URL:            item.URL,
			Categories:     feed.JoinCategories(item.Categories),
			Date:           item.Date,
			Enclosures:     item.Enclosures,
		})
	}
	return articles, true
}

// persistArticles lands the batch and queues its enclosures. The insert is
// a single transaction; enclosures are only dispatched once it succeeded.
func (u *Updater) persistArticles(sub *models.Subscription, articles []*models.Article) error {
	reply, ok := u.gw.AddArticles(sub.ID, articles)
	if !ok {
		return fmt.Errorf("storage gateway busy")
	}
	if err := <-reply; err != nil {
		return err
	}

	if sub.DownloadEnclosures && u.encQueue != nil {
		for _, article := range articles {
			for _, enc := range article.Enclosures {
				u.encQueue.Add(enc.URL, sub.ID, article.ID)
			}
		}
	}
	return nil
}

// stampSubscription refreshes the channel metadata and moves the watermark
// to the fetch time. Runs even when zero articles qualified, so unchanged
// feeds are not re-diffed against an old cutoff forever.
func (u *Updater) stampSubscription(sub *models.Subscription, channel feed.Channel) error {
	now := time.Now()
	upd := store.SubscriptionUpdate{LastUpdated: &now}
	if channel.Title != "" {
		upd.Title = &channel.Title
	}
	if channel.Description != "" {
		upd.Description = &channel.Description
	}
	if channel.Link != "" {
		upd.URL = &channel.Link
	}

	reply, ok := u.gw.UpdateSubscription(sub.ID, upd)
	if !ok {
		return fmt.Errorf("storage gateway busy")
	}
	return <-reply
}

// fault records a per-subscription failure without stopping the queue.
func (u *Updater) fault(text string) {
	log.Printf("updater: %s", text)
	u.setStatus(StatusError, text)
}
