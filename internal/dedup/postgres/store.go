// Package postgres provides the durable Postgres-backed dedup store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StoreConfig controls the Postgres connection pool used for seen-URL rows.
type StoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store keeps one row per URL hash. The unique index on url_hash makes
// AddIfNew an atomic check-and-insert; it scales to tens of millions of rows
// without holding them in process memory.
type Store struct {
	pool  pgxIface
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dedup.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "seen_urls"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "seen_urls"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// AddIfNew inserts the URL record and reports whether this was the first-ever
// sighting of its hash. Concurrent inserts of the same hash race on the
// unique index; exactly one caller observes an affected row.
func (s *Store) AddIfNew(ctx context.Context, rec crawl.URLRecord) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("dedup store is not configured")
	}
	if rec.URLHash == "" {
		return false, fmt.Errorf("%w: empty url hash", crawl.ErrMalformedURL)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url_hash, canonical_url, domain, first_seen_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url_hash) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query, rec.URLHash, rec.CanonicalURL, rec.Domain, rec.FirstSeenAt)
	if err != nil {
		return false, fmt.Errorf("insert seen url: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// HasSeen is a pure lookup on the hash index.
func (s *Store) HasSeen(ctx context.Context, urlHash string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("dedup store is not configured")
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url_hash = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, urlHash).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup seen url: %w", err)
	}
	return exists, nil
}

// Count returns the number of distinct hashes recorded.
func (s *Store) Count(ctx context.Context) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, fmt.Errorf("dedup store is not configured")
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen urls: %w", err)
	}
	return n, nil
}
