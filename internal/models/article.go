package models

import "time"

// Enclosure is a media attachment referenced by an article, e.g. a podcast
// audio file.
type Enclosure struct {
	URL    string `json:"url"`
	Type   string `json:"type,omitempty"`
	Length int64  `json:"length,omitempty"`
}

// Article is one ingested feed item belonging to a subscription.
type Article struct {
	ID             string      `json:"id"`
	SubscriptionID string      `json:"subscription_id"`
	Author         string      `json:"author,omitempty"`
	Title          string      `json:"title"`
	Body           string      `json:"body,omitempty"`
	URL            string      `json:"url,omitempty"`
	Categories     string      `json:"categories,omitempty"` // comma-joined for storage
	Date           time.Time   `json:"date"`                 // feed-reported publication time
	Enclosures     []Enclosure `json:"enclosures,omitempty"`
	Favourite      bool        `json:"favourite"`
	Read           bool        `json:"read"`
	LastRead       *time.Time  `json:"last_read,omitempty"`
}

// ArticleFilter selects articles for fetch queries. The zero value matches
// everything; "All" and "Favourites" aggregate views are filters, not
// separate storage.
type ArticleFilter struct {
	SubscriptionID string
	OnlyFavourites bool
	OnlyUnread     bool
	Search         string // matches title or body
	Limit          int
	Offset         int
}
