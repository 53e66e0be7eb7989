// Package postgres is the PostgreSQL store implementation built on pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Store provides PostgreSQL-backed persistence.
type Store struct {
	db      *pgxpool.Pool
	timeout time.Duration
	logger  *slog.Logger

	searchIndexer store.SearchIndexer
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, applies the schema and returns a store whose
// operations each run under timeout.
func Open(ctx context.Context, dsn string, timeout time.Duration, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{
		db:            pool,
		timeout:       timeout,
		logger:        logger,
		searchIndexer: store.NewNoopSearchIndexer(),
	}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.Ping(ctx)
}

// SetSearchIndexer sets the indexer notified after request rows change.
func (s *Store) SetSearchIndexer(indexer store.SearchIndexer) {
	s.searchIndexer = indexer
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) indexRequest(ctx context.Context, r *domain.Request) {
	if err := s.searchIndexer.IndexRequest(ctx, r); err != nil {
		s.logger.Warn("search index update failed", "request_id", r.ID, "error", err)
	}
}

func (s *Store) unindexRequest(ctx context.Context, id string) {
	if err := s.searchIndexer.DeleteRequest(ctx, id); err != nil {
		s.logger.Warn("search index delete failed", "request_id", id, "error", err)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
