// Package opml handles importing and exporting OPML subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text        string    `xml:"text,attr"`
	Title       string    `xml:"title,attr,omitempty"`
	Description string    `xml:"description,attr,omitempty"`
	Type        string    `xml:"type,attr,omitempty"`
	XMLURL      string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL     string    `xml:"htmlUrl,attr,omitempty"`
	Outlines    []outline `xml:"outline,omitempty"`
}

// Entry is one feed outline read from an OPML document.
type Entry struct {
	XMLURL      string
	HTMLURL     string
	Title       string
	Description string
	FeedType    string
}

// Parser reads an OPML document head-first, then yields feed outlines one
// at a time in document order. Nested folder outlines are flattened.
type Parser struct {
	doc     document
	title   string
	queue   []Entry
	pos     int
	current Entry
}

// NewParser prepares a parser over the given reader. Nothing is decoded
// until ReadHead.
func NewParser(r io.Reader) (*Parser, error) {
	p := &Parser{}
	if err := xml.NewDecoder(r).Decode(&p.doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	return p, nil
}

// ReadHead reports whether the document has a recognizable OPML body and
// prepares the outline sequence.
func (p *Parser) ReadHead() bool {
	if len(p.doc.Body.Outlines) == 0 {
		return false
	}
	p.title = p.doc.Head.Title
	p.queue = p.queue[:0]
	p.flatten(p.doc.Body.Outlines)
	return true
}

// Title returns the document title read by ReadHead.
func (p *Parser) Title() string {
	return p.title
}

// ReadNextSubscription advances to the next feed outline.
func (p *Parser) ReadNextSubscription() bool {
	if p.pos >= len(p.queue) {
		return false
	}
	p.current = p.queue[p.pos]
	p.pos++
	return true
}

// Subscription returns the entry produced by the last
// ReadNextSubscription.
func (p *Parser) Subscription() Entry {
	return p.current
}

func (p *Parser) flatten(outlines []outline) {
	for _, o := range outlines {
		if o.XMLURL != "" {
			title := o.Title
			if title == "" {
				title = o.Text
			}
			p.queue = append(p.queue, Entry{
				XMLURL:      o.XMLURL,
				HTMLURL:     o.HTMLURL,
				Title:       title,
				Description: o.Description,
				FeedType:    o.Type,
			})
		}
		if len(o.Outlines) > 0 {
			p.flatten(o.Outlines)
		}
	}
}

// Export generates an OPML 2.0 document from the given entries.
func Export(title string, entries []Entry) ([]byte, error) {
	doc := document{
		Version: "2.0",
		Head: head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}
	for _, e := range entries {
		feedType := e.FeedType
		if feedType == "" {
			feedType = "rss"
		}
		doc.Body.Outlines = append(doc.Body.Outlines, outline{
			Text:        e.Title,
			Title:       e.Title,
			Description: e.Description,
			Type:        feedType,
			XMLURL:      e.XMLURL,
			HTMLURL:     e.HTMLURL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
