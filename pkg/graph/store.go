// Package graph is the Postgres-backed store for the user knowledge graph
// and its supporting records: fact relations, sessions, turns, episodes,
// prospective tasks, notifications, and the scheduler lock.
package graph

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store executes all graph queries over a shared connection pool.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// now is swappable in tests.
var now = time.Now

func sqlxIn(query string, args ...any) (string, []any, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand IN clause: %w", err)
	}
	return q, a, nil
}
