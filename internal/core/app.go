package core

import (
	"database/sql"
	"fmt"
	"log"

	feedhaven "github.com/feedhaven/feedhaven"
	"github.com/feedhaven/feedhaven/internal/config"
	"github.com/feedhaven/feedhaven/internal/db"
	"github.com/feedhaven/feedhaven/internal/events"
	"github.com/feedhaven/feedhaven/internal/store"
)

// App holds the core components shared between the server and any future
// command line tooling.
type App struct {
	Config *config.Config
	DB     *sql.DB
	Store  *store.Store
	Bus    *events.Bus
}

// New sets up and returns a new App instance. It handles loading the
// configuration, initializing the database connection, and running migrations.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, feedhaven.MigrationsFS); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	log.Println("Core application setup complete.")
	return &App{
		Config: cfg,
		DB:     database,
		Store:  store.New(database),
		Bus:    events.NewBus(),
	}, nil
}

// Close gracefully closes the application's resources, like the DB connection.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
