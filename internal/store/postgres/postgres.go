// Package postgres implements the store interfaces using PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"shopsync/internal/store"

	_ "github.com/lib/pq"
)

// Store provides PostgreSQL-backed implementations of all repositories.
type Store struct {
	db *sql.DB
}

var (
	_ store.Ledger   = (*Store)(nil)
	_ store.Registry = (*Store)(nil)
	_ store.Catalog  = (*Store)(nil)
	_ store.Cache    = (*Store)(nil)
)

// New connects to PostgreSQL and runs pending migrations.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
