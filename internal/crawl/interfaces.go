package crawl

import (
	"context"
	"io"
	"time"
)

// DedupStore gates what enters the frontier. AddIfNew must be race-safe:
// concurrent inserts of the same hash yield exactly one true.
type DedupStore interface {
	AddIfNew(ctx context.Context, rec URLRecord) (bool, error)
	HasSeen(ctx context.Context, urlHash string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// GraphStore persists link-graph nodes, edges and importance scores.
type GraphStore interface {
	UpsertNode(ctx context.Context, rec URLRecord) error
	InsertEdge(ctx context.Context, edge DiscoveryEdge) error
	ReplaceScores(ctx context.Context, scores []ImportanceScore) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes stage lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for fingerprints and integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
