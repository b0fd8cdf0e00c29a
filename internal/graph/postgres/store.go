// Package postgres persists link-graph nodes, edges and importance scores.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// StoreConfig controls the Postgres connection pool for graph rows.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store writes graph rows into Postgres. Scores are replaced wholesale per
// scoring run; they are derived data and never updated incrementally.
type Store struct {
	pool pgxIface
}

// New creates a Postgres-backed graph store.
func New(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("graph.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertNode inserts or refreshes a graph node row.
func (s *Store) UpsertNode(ctx context.Context, rec crawl.URLRecord) error {
	query := `
INSERT INTO graph_nodes (url_hash, canonical_url, domain, first_seen_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url_hash) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, rec.URLHash, rec.CanonicalURL, rec.Domain, rec.FirstSeenAt); err != nil {
		return fmt.Errorf("upsert graph node: %w", err)
	}
	return nil
}

// InsertEdge records one discovery edge. Repeated (source, target) pairs keep
// the earliest row.
func (s *Store) InsertEdge(ctx context.Context, edge crawl.DiscoveryEdge) error {
	query := `
INSERT INTO graph_edges (source_hash, target_hash, depth, discovery_source, anchor_text, confidence)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_hash, target_hash) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		edge.SourceHash,
		edge.TargetHash,
		edge.Depth,
		edge.DiscoverySource,
		edge.AnchorText,
		edge.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert graph edge: %w", err)
	}
	return nil
}

// ReplaceScores overwrites the score table with the latest batch run inside
// one transaction, so readers never observe a half-written run.
func (s *Store) ReplaceScores(ctx context.Context, scores []crawl.ImportanceScore) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin score replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM graph_scores`); err != nil {
		return fmt.Errorf("clear graph scores: %w", err)
	}
	insert := `
INSERT INTO graph_scores (url_hash, pagerank, hub, authority, inlinks, outlinks)
VALUES ($1, $2, $3, $4, $5, $6)`
	for _, sc := range scores {
		if _, err := tx.Exec(ctx, insert,
			sc.URLHash, sc.PageRank, sc.Hub, sc.Authority, sc.Inlinks, sc.Outlinks,
		); err != nil {
			return fmt.Errorf("insert graph score: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit score replace: %w", err)
	}
	return nil
}
