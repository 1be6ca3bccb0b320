// Package store is the durable relational backing for centrix-ci:
// projects, builds, steps, errors, occurrences, environments, and
// artifacts, plus the transactional operations the scheduler and
// executor drive state through.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Registers the "pgx" driver name with database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// Store wraps a connection pool to Postgres and exposes the operations
// the rest of centrix-ci needs. All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open connects to the Postgres instance named by dsn (a postgres://
// URL) and applies any pending schema migrations before returning.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB without running migrations, for
// callers that manage schema setup themselves.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and
// rolling back on error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}
