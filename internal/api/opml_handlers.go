package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/feedhaven/feedhaven/internal/models"
	"github.com/feedhaven/feedhaven/internal/opml"
)

// handleImportOPML ingests an OPML document posted as the request body.
// Every feed outline becomes a URL subscription; the whole batch lands in
// one transaction and the first fetch of each feed is queued off the bus.
func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	parser, err := opml.NewParser(r.Body)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid OPML document")
		return
	}
	if !parser.ReadHead() {
		RespondWithError(w, http.StatusBadRequest, "OPML document contains no feeds")
		return
	}

	downloadEnclosures := r.URL.Query().Get("download_enclosures") == "true"

	var subs []*models.Subscription
	for parser.ReadNextSubscription() {
		entry := parser.Subscription()
		subs = append(subs, &models.Subscription{
			ID:                 uuid.NewString(),
			Title:              entry.Title,
			Description:        entry.Description,
			Source:             entry.XMLURL,
			SourceType:         models.SourceTypeURL,
			URL:                entry.HTMLURL,
			DownloadEnclosures: downloadEnclosures,
			CreatedAt:          time.Now(),
		})
	}
	if len(subs) == 0 {
		RespondWithError(w, http.StatusBadRequest, "OPML document contains no feeds")
		return
	}

	if err := s.await(func() (<-chan error, bool) { return s.gw.AddSubscriptions(subs) }); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to import subscriptions")
		return
	}
	RespondWithJSON(w, http.StatusCreated, map[string]int{"imported": len(subs)})
}

// handleExportOPML writes the URL-backed subscriptions as an OPML 2.0
// document. Command, file and plugin sources have no meaning outside this
// instance and are skipped.
func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	res, err := s.querySubscriptions(s.gw.FetchSubscriptions)
	if err != nil || res.Err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve subscriptions")
		return
	}

	var entries []opml.Entry
	for res.Cursor.Next() {
		sub := res.Cursor.Record()
		if sub.SourceType != models.SourceTypeURL {
			continue
		}
		entries = append(entries, opml.Entry{
			XMLURL:      sub.Source,
			HTMLURL:     sub.URL,
			Title:       sub.Title,
			Description: sub.Description,
		})
	}

	doc, err := opml.Export("Subscriptions", entries)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to export subscriptions")
		return
	}
	w.Header().Set("Content-Type", "text/x-opml")
	w.Header().Set("Content-Disposition", `attachment; filename="subscriptions.opml"`)
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}
