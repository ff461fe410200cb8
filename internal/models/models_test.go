package models

import (
	"testing"
	"time"
)

func TestWatermark(t *testing.T) {
	var sub Subscription
	if !sub.Watermark().IsZero() {
		t.Error("Expected a zero watermark for a never-fetched subscription")
	}

	stamp := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	sub.LastUpdated = &stamp
	if !sub.Watermark().Equal(stamp) {
		t.Errorf("Expected watermark %v, got %v", stamp, sub.Watermark())
	}
}

func TestSourceTypeString(t *testing.T) {
	cases := map[SourceType]string{
		SourceTypeURL:       "url",
		SourceTypeLocalFile: "localfile",
		SourceTypeCommand:   "command",
		SourceTypePlugin:    "plugin",
		SourceType(99):      "unknown",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}
