// To handle all database interactions. This is our data access layer,
// keeping SQL queries separate from business logic. The asynchronous
// request/response surface lives in internal/gateway; everything here is
// plain synchronous SQL.

package store

import (
	"database/sql"
)

// Store provides all functions to interact with the database.
type Store struct {
	db *sql.DB
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that manage their own
// transactions (tests, mostly).
func (s *Store) DB() *sql.DB {
	return s.db
}
