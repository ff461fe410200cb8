// Package feed wraps gofeed in the stateful forward-only reader the update
// queue consumes: ReadChannel once, then ReadNextArticle until exhausted.
// A reader is not restartable; re-reading requires a fresh instance.
package feed

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/feedhaven/feedhaven/internal/models"
)

// Channel is the feed-level descriptor.
type Channel struct {
	Title       string
	Description string
	Link        string
	IconURL     string
}

// Item is one article descriptor read from the feed, in document order.
type Item struct {
	Author     string
	Title      string
	Body       string
	URL        string
	Categories []string
	Date       time.Time
	DateValid  bool
	Enclosures []models.Enclosure
}

// Reader walks an RSS/Atom/JSON feed document front to back.
type Reader struct {
	data    []byte
	parsed  *gofeed.Feed
	channel Channel
	pos     int
	current Item
}

// NewReader prepares a reader over raw feed bytes. Nothing is parsed until
// ReadChannel is called.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// ReadChannel parses the document and reports whether it has a
// recognizable channel element.
func (r *Reader) ReadChannel() bool {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(r.data))
	if err != nil || parsed == nil {
		return false
	}
	r.parsed = parsed
	r.channel = Channel{
		Title:       parsed.Title,
		Description: parsed.Description,
		Link:        parsed.Link,
	}
	if parsed.Image != nil {
		r.channel.IconURL = parsed.Image.URL
	}
	return true
}

// Channel returns the descriptor read by ReadChannel.
func (r *Reader) Channel() Channel {
	return r.channel
}

// ReadNextArticle advances to the next item in feed order; it reports
// false once the sequence is exhausted or if ReadChannel was never called.
func (r *Reader) ReadNextArticle() bool {
	if r.parsed == nil || r.pos >= len(r.parsed.Items) {
		return false
	}
	r.current = convertItem(r.parsed.Items[r.pos])
	r.pos++
	return true
}

// Article returns the item produced by the last ReadNextArticle.
func (r *Reader) Article() Item {
	return r.current
}

func convertItem(item *gofeed.Item) Item {
	out := Item{
		Title:      item.Title,
		URL:        item.Link,
		Categories: item.Categories,
	}

	// Prefer the full content over the short description.
	if strings.TrimSpace(item.Content) != "" {
		out.Body = item.Content
	} else {
		out.Body = item.Description
	}

	if item.Author != nil {
		out.Author = item.Author.Name
	}
	if out.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
		out.Author = item.Authors[0].Name
	}

	// gofeed parses RFC-822 and ISO-8601 forms; fall back to the updated
	// timestamp when the item has no publication date.
	if item.PublishedParsed != nil {
		out.Date = *item.PublishedParsed
		out.DateValid = true
	} else if item.UpdatedParsed != nil {
		out.Date = *item.UpdatedParsed
		out.DateValid = true
	}

	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		length, _ := strconv.ParseInt(enc.Length, 10, 64)
		out.Enclosures = append(out.Enclosures, models.Enclosure{
			URL:    enc.URL,
			Type:   enc.Type,
			Length: length,
		})
	}

	return out
}

// JoinCategories flattens an item's category list to the comma-joined
// string form used for storage.
func JoinCategories(categories []string) string {
	return strings.Join(categories, ", ")
}
