package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/feedhaven/feedhaven/internal/gateway"
	"github.com/feedhaven/feedhaven/internal/models"
	"github.com/feedhaven/feedhaven/internal/store"
)

func parseSourceType(v string) (models.SourceType, error) {
	switch v {
	case "", "url":
		return models.SourceTypeURL, nil
	case "localfile":
		return models.SourceTypeLocalFile, nil
	case "command":
		return models.SourceTypeCommand, nil
	case "plugin":
		return models.SourceTypePlugin, nil
	}
	return 0, fmt.Errorf("unknown source type %q", v)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title              string `json:"title"`
		Source             string `json:"source"`
		SourceType         string `json:"source_type"`
		DownloadEnclosures bool   `json:"download_enclosures"`
		UpdateInterval     int    `json:"update_interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if strings.TrimSpace(payload.Source) == "" {
		RespondWithError(w, http.StatusBadRequest, "Source is required")
		return
	}

	sourceType, err := parseSourceType(payload.SourceType)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sourceType == models.SourceTypePlugin {
		var src models.PluginSource
		if err := json.Unmarshal([]byte(payload.Source), &src); err != nil || src.PluginID == "" {
			RespondWithError(w, http.StatusBadRequest, "Plugin source must be a JSON object with a pluginId")
			return
		}
	}

	sub := &models.Subscription{
		ID:                 uuid.NewString(),
		Title:              payload.Title,
		Source:             payload.Source,
		SourceType:         sourceType,
		DownloadEnclosures: payload.DownloadEnclosures,
		UpdateInterval:     payload.UpdateInterval,
		CreatedAt:          time.Now(),
	}

	if err := s.await(func() (<-chan error, bool) { return s.gw.AddSubscription(sub) }); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to create subscription")
		return
	}

	// The first fetch is queued automatically off the bus notification.
	RespondWithJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	res, err := s.querySubscriptions(s.gw.FetchSubscriptions)
	if err != nil || res.Err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve subscriptions")
		return
	}

	subs := make([]*models.Subscription, 0, res.Cursor.Len())
	for res.Cursor.Next() {
		subs = append(subs, res.Cursor.Record())
	}
	RespondWithJSON(w, http.StatusOK, subs)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	subID := chi.URLParam(r, "subID")
	res, err := s.querySubscriptions(func() (<-chan gateway.SubscriptionResult, bool) { return s.gw.FetchSubscription(subID) })
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve subscription")
		return
	}
	sub, err := res.One()
	if err != nil {
		RespondWithError(w, http.StatusNotFound, "Subscription not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, sub)
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	subID := chi.URLParam(r, "subID")

	var payload struct {
		Title          *string `json:"title,omitempty"`
		Description    *string `json:"description,omitempty"`
		URL            *string `json:"url,omitempty"`
		UpdateInterval *int    `json:"update_interval,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	upd := store.SubscriptionUpdate{
		Title:          payload.Title,
		Description:    payload.Description,
		URL:            payload.URL,
		UpdateInterval: payload.UpdateInterval,
	}
	if err := s.await(func() (<-chan error, bool) { return s.gw.UpdateSubscription(subID, upd) }); err != nil {
		if strings.Contains(err.Error(), "not found") {
			RespondWithError(w, http.StatusNotFound, "Subscription not found")
		} else {
			RespondWithError(w, http.StatusInternalServerError, "Failed to update subscription")
		}
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Subscription updated successfully."})
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID := chi.URLParam(r, "subID")
	if err := s.await(func() (<-chan error, bool) { return s.gw.DeleteSubscription(subID) }); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkSubscriptionRead(w http.ResponseWriter, r *http.Request) {
	subID := chi.URLParam(r, "subID")

	payload := struct {
		Read bool `json:"read"`
	}{Read: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	if err := s.await(func() (<-chan error, bool) { return s.gw.MarkSubscriptionRead(subID, payload.Read) }); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to mark subscription")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Subscription marked."})
}

func (s *Server) handleUpdateSubscriptionNow(w http.ResponseWriter, r *http.Request) {
	s.updater.Enqueue(chi.URLParam(r, "subID"))
	RespondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Update has been queued."})
}

func (s *Server) handleUpdateAll(w http.ResponseWriter, r *http.Request) {
	res, err := s.querySubscriptions(s.gw.FetchSubscriptions)
	if err != nil || res.Err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve subscriptions")
		return
	}
	ids := make([]string, 0, res.Cursor.Len())
	for res.Cursor.Next() {
		ids = append(ids, res.Cursor.Record().ID)
	}
	s.updater.EnqueueAll(ids)
	RespondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"message": "Update has been queued.",
		"queued":  len(ids),
	})
}

func (s *Server) handleGetSubscriptionIcon(w http.ResponseWriter, r *http.Request) {
	iconPath := s.cache.IconPath(chi.URLParam(r, "subID"))
	if _, err := os.Stat(iconPath); err != nil {
		RespondWithError(w, http.StatusNotFound, "No icon for subscription")
		return
	}
	http.ServeFile(w, r, iconPath)
}
