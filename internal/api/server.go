// It defines the API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/feedhaven/feedhaven/internal/cache"
	"github.com/feedhaven/feedhaven/internal/core"
	"github.com/feedhaven/feedhaven/internal/gateway"
	"github.com/feedhaven/feedhaven/internal/plugins"
	"github.com/feedhaven/feedhaven/internal/transfers"
	"github.com/feedhaven/feedhaven/internal/updater"
	"github.com/feedhaven/feedhaven/internal/websocket"
)

var errGatewayBusy = errors.New("storage gateway busy")

// Deps are the long-lived components the handlers operate on.
type Deps struct {
	Gateway   *gateway.Gateway
	Updater   *updater.Updater
	Transfers *transfers.Manager
	Plugins   *plugins.Manager
	Hub       *websocket.Hub
	Cache     *cache.Manager
}

// Server holds the dependencies for our API.
type Server struct {
	app       *core.App
	db        *sql.DB
	updater   *updater.Updater
	transfers *transfers.Manager
	plugins   *plugins.Manager
	hub       *websocket.Hub
	cache     *cache.Manager

	// The gateway rejects overlapping calls on one instance, so handler
	// access is serialized; concurrent requests queue here instead of
	// bouncing off the busy guard.
	gwMu sync.Mutex
	gw   *gateway.Gateway
}

// NewServer creates a new Server instance.
func NewServer(app *core.App, deps Deps) *Server {
	return &Server{
		app:       app,
		db:        app.DB,
		gw:        deps.Gateway,
		updater:   deps.Updater,
		transfers: deps.Transfers,
		plugins:   deps.Plugins,
		hub:       deps.Hub,
		cache:     deps.Cache,
	}
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)    // Logs requests to the console
	r.Use(middleware.Recoverer) // Recovers from panics
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api", func(r chi.Router) {
		// Subscription Routes
		r.Post("/subscriptions", s.handleCreateSubscription)
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Post("/subscriptions/import", s.handleImportOPML)
		r.Get("/subscriptions/export", s.handleExportOPML)
		r.Post("/subscriptions/update-all", s.handleUpdateAll)
		r.Get("/subscriptions/{subID}", s.handleGetSubscription)
		r.Put("/subscriptions/{subID}", s.handleUpdateSubscription)
		r.Delete("/subscriptions/{subID}", s.handleDeleteSubscription)
		r.Post("/subscriptions/{subID}/read", s.handleMarkSubscriptionRead)
		r.Post("/subscriptions/{subID}/update", s.handleUpdateSubscriptionNow)
		r.Get("/subscriptions/{subID}/icon", s.handleGetSubscriptionIcon)

		// Article Routes
		r.Get("/articles", s.handleListArticles)
		r.Get("/articles/{articleID}", s.handleGetArticle)
		r.Delete("/articles/{articleID}", s.handleDeleteArticle)
		r.Post("/articles/{articleID}/read", s.handleMarkArticleRead)
		r.Post("/articles/{articleID}/favourite", s.handleMarkArticleFavourite)

		// Updater Routes
		r.Get("/updater/status", s.handleGetUpdaterStatus)
		r.Post("/updater/cancel", s.handleCancelUpdates)

		// Enclosure Transfer Routes
		r.Get("/transfers", s.handleListTransfers)
		r.Post("/transfers/{itemID}/action", s.handleTransferAction)

		// Plugin Routes
		r.Get("/plugins", s.handleListPlugins)
		r.Post("/plugins/reload", s.handleReloadPlugins)
		r.Delete("/plugins/{pluginID}", s.handleUnloadPlugin)
	})

	// WebSocket route
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.hub.ServeWs(w, r)
	})

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(); err != nil {
			RespondWithError(w, http.StatusServiceUnavailable, "Database connection failed")
			return
		}
		RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// await runs one gateway mutation with the serialization lock held.
func (s *Server) await(call func() (<-chan error, bool)) error {
	s.gwMu.Lock()
	defer s.gwMu.Unlock()
	reply, ok := call()
	if !ok {
		return errGatewayBusy
	}
	return <-reply
}

func (s *Server) querySubscriptions(call func() (<-chan gateway.SubscriptionResult, bool)) (gateway.SubscriptionResult, error) {
	s.gwMu.Lock()
	defer s.gwMu.Unlock()
	reply, ok := call()
	if !ok {
		return gateway.SubscriptionResult{}, errGatewayBusy
	}
	return <-reply, nil
}

func (s *Server) queryArticles(call func() (<-chan gateway.ArticleResult, bool)) (gateway.ArticleResult, error) {
	s.gwMu.Lock()
	defer s.gwMu.Unlock()
	reply, ok := call()
	if !ok {
		return gateway.ArticleResult{}, errGatewayBusy
	}
	return <-reply, nil
}
