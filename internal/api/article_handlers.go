package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/feedhaven/feedhaven/internal/gateway"
	"github.com/feedhaven/feedhaven/internal/models"
)

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ArticleFilter{
		SubscriptionID: q.Get("subscription_id"),
		OnlyFavourites: q.Get("favourites") == "true",
		OnlyUnread:     q.Get("unread") == "true",
		Search:         q.Get("search"),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	res, err := s.queryArticles(func() (<-chan gateway.ArticleResult, bool) { return s.gw.FetchArticles(filter) })
	if err != nil || res.Err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve articles")
		return
	}

	articles := make([]*models.Article, 0, res.Cursor.Len())
	for res.Cursor.Next() {
		articles = append(articles, res.Cursor.Record())
	}
	RespondWithJSON(w, http.StatusOK, articles)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "articleID")
	res, err := s.queryArticles(func() (<-chan gateway.ArticleResult, bool) { return s.gw.FetchArticle(articleID) })
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve article")
		return
	}
	if res.Err != nil || !res.Cursor.Next() {
		RespondWithError(w, http.StatusNotFound, "Article not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, res.Cursor.Record())
}

func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "articleID")
	if err := s.await(func() (<-chan error, bool) { return s.gw.DeleteArticle(articleID) }); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete article")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkArticleRead(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "articleID")

	payload := struct {
		Read bool `json:"read"`
	}{Read: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	if err := s.await(func() (<-chan error, bool) { return s.gw.MarkArticleRead(articleID, payload.Read) }); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to mark article")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Article marked."})
}

func (s *Server) handleMarkArticleFavourite(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "articleID")

	payload := struct {
		Favourite bool `json:"favourite"`
	}{Favourite: true}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
			return
		}
	}

	if err := s.await(func() (<-chan error, bool) { return s.gw.MarkArticleFavourite(articleID, payload.Favourite) }); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to mark article")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Article marked."})
}
