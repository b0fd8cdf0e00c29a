// Package memory provides an in-memory dedup store for tests and dry runs.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Store tracks seen URL hashes in process memory. LoadOrStore gives the
// exactly-once admission guarantee under concurrent callers.
type Store struct {
	seen  sync.Map
	count atomic.Int64
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// AddIfNew records the URL hash and reports whether this was the first-ever
// sighting.
func (s *Store) AddIfNew(_ context.Context, rec crawl.URLRecord) (bool, error) {
	if rec.URLHash == "" {
		return false, crawl.ErrMalformedURL
	}
	_, loaded := s.seen.LoadOrStore(rec.URLHash, struct{}{})
	if loaded {
		return false, nil
	}
	s.count.Add(1)
	return true, nil
}

// HasSeen reports whether the hash has been recorded.
func (s *Store) HasSeen(_ context.Context, urlHash string) (bool, error) {
	_, ok := s.seen.Load(urlHash)
	return ok, nil
}

// Count returns the number of distinct hashes recorded.
func (s *Store) Count(_ context.Context) (int64, error) {
	return s.count.Load(), nil
}
