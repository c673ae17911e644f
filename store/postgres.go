// Package store is the metadata persistence layer: knowledge bases,
// documents, document structure, and the app settings singleton (§3).
// It owns nothing about vectors or lexical payloads — those live in
// ragstore — only the durable rows the rest of the engine reasons about.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kbrag/engine/errorsx"
	"github.com/kbrag/engine/logging"
)

// Store wraps a pgx connection pool, following the teacher pack's
// pgxpool-construction and health-check pattern (vasic-digital-SuperAgent's
// NewPostgresDB/HealthCheck), generalized from database/sql-flavored
// wrapper methods to direct pgxpool usage idiomatic to pgx v5.
type Store struct {
	pool *pgxpool.Pool
	log  logging.Logger
}

// New connects to dsn and verifies the connection with a bounded ping.
func New(ctx context.Context, dsn string, log logging.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: connect")
	}
	if log == nil {
		log = logging.Global
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errorsx.Wrap(err, errorsx.StoreUnavailable, "store: ping")
	}

	return &Store{pool: pool, log: log}, nil
}

// HealthCheck reports whether the pool can still reach the database,
// pinging it with a 3-second timeout.
func (s *Store) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.pool.Ping(pingCtx); err != nil {
		return errorsx.Wrap(err, errorsx.StoreUnavailable, "store: health check")
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }
