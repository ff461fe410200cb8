package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/feedhaven/feedhaven/internal/api"
	"github.com/feedhaven/feedhaven/internal/cache"
	"github.com/feedhaven/feedhaven/internal/core"
	"github.com/feedhaven/feedhaven/internal/gateway"
	"github.com/feedhaven/feedhaven/internal/plugins"
	"github.com/feedhaven/feedhaven/internal/scheduler"
	"github.com/feedhaven/feedhaven/internal/transfers"
	"github.com/feedhaven/feedhaven/internal/updater"
	"github.com/feedhaven/feedhaven/internal/websocket"
)

func main() {
	// Initialize the core application components
	app, err := core.New()
	if err != nil {
		log.Fatalf("Fatal error during application setup: %v", err)
	}
	defer app.Close()

	// Relay bus notifications to websocket clients.
	hub := websocket.NewHub()
	go hub.Run()
	go hub.RelayEvents(app.Bus.Subscribe(256))

	cacheManager := cache.New(app.Config.Cache.Path)

	// Plugins are optional; a failed load only disables plugin-backed feeds.
	pluginManager := plugins.NewManager(app.Config.Plugins.Path, app.Config.Updates.UserAgent)
	if err := pluginManager.LoadPlugins(); err != nil {
		log.Printf("Warning: plugin load failed: %v", err)
	}

	transferManager := transfers.NewManager(app.Config.Downloads.Path, app.Config.Updates.UserAgent, app.Bus)
	transferManager.Start()

	// Each long-lived caller gets its own gateway instance; an instance
	// serves one outstanding request at a time.
	upd := updater.New(
		gateway.New(app.Store, app.Bus, nil),
		gateway.New(app.Store, app.Bus, nil),
		app.Bus,
		cacheManager,
		pluginManager,
		transferManager,
		updater.Options{
			UserAgent:   app.Config.Updates.UserAgent,
			UseFavicons: app.Config.Updates.Favicons,
		},
	)

	sched := scheduler.Start(gateway.New(app.Store, app.Bus, nil), upd, scheduler.Options{
		ScanInterval: app.Config.Updates.ScanInterval,
		ExpiryDays:   app.Config.Updates.ExpiryDays,
	})
	defer sched.Stop()

	watcher := scheduler.NewWatcher(gateway.New(app.Store, app.Bus, nil), upd, app.Bus)
	if err := watcher.Start(); err != nil {
		log.Printf("Warning: file watcher failed to start: %v", err)
	} else {
		defer watcher.Stop()
	}

	// Setup the API server
	server := api.NewServer(app, api.Deps{
		Gateway:   gateway.New(app.Store, app.Bus, cacheManager),
		Updater:   upd,
		Transfers: transferManager,
		Plugins:   pluginManager,
		Hub:       hub,
		Cache:     cacheManager,
	})
	addr := fmt.Sprintf(":%d", app.Config.Port)
	log.Printf("Starting web server on %s", addr)

	// Start the HTTP server
	if err := http.ListenAndServe(addr, server.Router()); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
