// This file defines the core data structures (models) for the application.
// These structs represent the subscriptions and articles in the database.

package models

import "time"

// SourceType determines which transport strategy is used to retrieve a
// subscription's feed. It is immutable after creation; changing it is
// equivalent to replacing the subscription.
type SourceType int

const (
	SourceTypeURL SourceType = iota
	SourceTypeLocalFile
	SourceTypeCommand
	SourceTypePlugin
)

func (t SourceType) String() string {
	switch t {
	case SourceTypeURL:
		return "url"
	case SourceTypeLocalFile:
		return "localfile"
	case SourceTypeCommand:
		return "command"
	case SourceTypePlugin:
		return "plugin"
	default:
		return "unknown"
	}
}

// PluginSource is the structured form of Subscription.Source when
// SourceType is SourceTypePlugin. Settings are passed verbatim to the
// plugin's getFeed function.
type PluginSource struct {
	PluginID string            `json:"pluginId"`
	Settings map[string]string `json:"settings,omitempty"`
}

// Subscription represents a configured feed source tracked for updates.
type Subscription struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Source             string     `json:"source"`
	SourceType         SourceType `json:"source_type"`
	URL                string     `json:"url"`
	IconPath           string     `json:"icon_path,omitempty"`
	DownloadEnclosures bool       `json:"download_enclosures"`
	UpdateInterval     int        `json:"update_interval"` // seconds; 0 disables auto-update
	LastUpdated        *time.Time `json:"last_updated,omitempty"`
	UnreadArticles     int        `json:"unread_articles"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Watermark returns the diffing cutoff for a fetch. Articles dated at or
// before the watermark are never re-ingested.
func (s *Subscription) Watermark() time.Time {
	if s.LastUpdated == nil {
		return time.Time{}
	}
	return *s.LastUpdated
}
