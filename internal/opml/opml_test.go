package opml

import (
	"bytes"
	"strings"
	"testing"
)

const sampleOPML = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>My feeds</title></head>
  <body>
    <outline text="Example" title="Example" type="rss"
             xmlUrl="http://example.com/feed.xml" htmlUrl="http://example.com/"/>
    <outline text="Tech">
      <outline text="Nested Feed" description="deep"
               xmlUrl="http://example.org/rss" htmlUrl="http://example.org/"/>
    </outline>
  </body>
</opml>`

func TestParseFlattensNestedOutlines(t *testing.T) {
	p, err := NewParser(strings.NewReader(sampleOPML))
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	if !p.ReadHead() {
		t.Fatal("Expected ReadHead to succeed")
	}
	if p.Title() != "My feeds" {
		t.Errorf("Expected title %q, got %q", "My feeds", p.Title())
	}

	var entries []Entry
	for p.ReadNextSubscription() {
		entries = append(entries, p.Subscription())
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 feed entries, got %d", len(entries))
	}
	if entries[0].XMLURL != "http://example.com/feed.xml" || entries[0].Title != "Example" {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}
	if entries[1].XMLURL != "http://example.org/rss" || entries[1].Description != "deep" {
		t.Errorf("Expected the nested feed to be flattened, got %+v", entries[1])
	}
}

func TestParseRejectsNonOPML(t *testing.T) {
	if _, err := NewParser(strings.NewReader("not xml at all")); err == nil {
		t.Error("Expected an error for non-XML input")
	}

	p, err := NewParser(strings.NewReader(`<?xml version="1.0"?><opml version="2.0"><body/></opml>`))
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	if p.ReadHead() {
		t.Error("Expected ReadHead to fail for a document without outlines")
	}
}

func TestExportRoundTrip(t *testing.T) {
	entries := []Entry{
		{XMLURL: "http://example.com/feed.xml", HTMLURL: "http://example.com/", Title: "Example"},
		{XMLURL: "http://example.org/rss", Title: "Other", Description: "more"},
	}
	doc, err := Export("Exported", entries)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	p, err := NewParser(bytes.NewReader(doc))
	if err != nil {
		t.Fatalf("Exported document does not parse: %v", err)
	}
	if !p.ReadHead() {
		t.Fatal("Expected ReadHead to succeed on exported document")
	}
	if p.Title() != "Exported" {
		t.Errorf("Expected title %q, got %q", "Exported", p.Title())
	}

	var got []Entry
	for p.ReadNextSubscription() {
		got = append(got, p.Subscription())
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(got))
	}
	if got[0].XMLURL != entries[0].XMLURL || got[1].Description != "more" {
		t.Errorf("Entries did not round-trip: %+v", got)
	}
	// A missing feed type defaults to rss on export.
	if got[0].FeedType != "rss" {
		t.Errorf("Expected default feed type rss, got %q", got[0].FeedType)
	}
}
