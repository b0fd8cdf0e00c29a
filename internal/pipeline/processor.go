// Package pipeline composes dedup, depth, priority, batching, checkpoints
// and the retry gate into the stage execution engine.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/depth"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/graph"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/retry"
)

// Processor handles one queue item for a stage. A returned error marks the
// item failed; it never aborts the stage.
type Processor interface {
	Process(ctx context.Context, item crawl.QueueItem) (crawl.StageRecord, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, item crawl.QueueItem) (crawl.StageRecord, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, item crawl.QueueItem) (crawl.StageRecord, error) {
	return f(ctx, item)
}

// FetchResult is what the external fetch engine reports for one attempt:
// the outcome plus any outlinks parsed from the body.
type FetchResult struct {
	Outcome   crawl.FetchOutcome
	Outlinks  []string
	WordCount int
	HasText   bool
}

// Fetcher is the external fetch engine boundary. Implementations do the
// network I/O; everything above them stays deterministic.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// FetchProcessor wraps a Fetcher with the retry gate and feeds outcomes back
// into the per-domain circuit state, the depth manager and the link graph.
type FetchProcessor struct {
	fetcher Fetcher
	gate    *retry.Gate
	depths  *depth.Manager
	scorer  *graph.Scorer
	graphs  crawl.GraphStore
	clock   crawl.Clock
}

// NewFetchProcessor wires a fetcher behind the dispatch gate. Scorer and
// graph store are optional; nil disables link-graph feeding.
func NewFetchProcessor(fetcher Fetcher, gate *retry.Gate, depths *depth.Manager, scorer *graph.Scorer, graphs crawl.GraphStore, clock crawl.Clock) *FetchProcessor {
	return &FetchProcessor{fetcher: fetcher, gate: gate, depths: depths, scorer: scorer, graphs: graphs, clock: clock}
}

// Process fetches one URL with classification-driven retries. An open
// circuit surfaces as a skip via ErrCircuitOpen, not a hard failure.
func (p *FetchProcessor) Process(ctx context.Context, item crawl.QueueItem) (crawl.StageRecord, error) {
	rec := crawl.StageRecord{
		URL:             item.URL,
		URLHash:         item.URLHash,
		Depth:           item.Depth,
		DiscoverySource: item.DiscoverySource,
		Importance:      item.Importance,
		ProcessedAt:     p.clock.Now(),
	}
	domain := crawl.Domain(item.URL)
	if domain == "" {
		rec.Status = "failed"
		rec.Error = crawl.ErrMalformedURL.Error()
		return rec, crawl.ErrMalformedURL
	}

	attempts := 0
	for {
		if err := p.gate.Acquire(ctx, domain); err != nil {
			rec.Status = "skipped"
			rec.Error = err.Error()
			return rec, err
		}

		res := p.fetcher.Fetch(ctx, item.URL)
		class, retryAllowed, backoff := p.gate.Report(domain, res.Outcome, attempts)
		if class == retry.ClassNone {
			p.depths.RecordValidation(item.URL, true, res.HasText, res.WordCount, item.Depth)
			p.recordOutlinks(ctx, item, res.Outlinks)
			rec.Status = "ok"
			rec.ProcessedAt = p.clock.Now()
			return rec, nil
		}

		attempts++
		if !retryAllowed {
			p.depths.RecordValidation(item.URL, false, false, 0, item.Depth)
			rec.Status = "failed"
			rec.Error = outcomeError(res.Outcome, class)
			return rec, errFromOutcome(res.Outcome, class)
		}
		select {
		case <-ctx.Done():
			rec.Status = "failed"
			rec.Error = ctx.Err().Error()
			return rec, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// recordOutlinks feeds discovered links into the in-memory scorer and the
// durable graph store. Failures here are non-fatal: the page itself fetched.
func (p *FetchProcessor) recordOutlinks(ctx context.Context, item crawl.QueueItem, outlinks []string) {
	if len(outlinks) == 0 {
		return
	}
	if p.scorer != nil {
		_ = p.scorer.AddPage(item.URL, outlinks, item.Depth)
	}
	if p.graphs == nil {
		return
	}
	_ = p.graphs.UpsertNode(ctx, crawl.URLRecord{
		CanonicalURL: item.URL,
		URLHash:      item.URLHash,
		Domain:       crawl.Domain(item.URL),
		FirstSeenAt:  p.clock.Now(),
	})
	for _, link := range outlinks {
		canonical, err := crawl.Canonicalize(link)
		if err != nil {
			continue
		}
		targetHash := crawl.HashURL(canonical)
		_ = p.graphs.UpsertNode(ctx, crawl.URLRecord{
			CanonicalURL: canonical,
			URLHash:      targetHash,
			Domain:       crawl.Domain(canonical),
			FirstSeenAt:  p.clock.Now(),
		})
		_ = p.graphs.InsertEdge(ctx, crawl.DiscoveryEdge{
			SourceHash:      item.URLHash,
			TargetHash:      targetHash,
			Depth:           item.Depth + 1,
			DiscoverySource: "link",
			Confidence:      1,
		})
	}
}

func outcomeError(out crawl.FetchOutcome, class retry.Class) string {
	return errFromOutcome(out, class).Error()
}

func errFromOutcome(out crawl.FetchOutcome, class retry.Class) error {
	if out.Err != nil {
		return fmt.Errorf("%s: %w", class, out.Err)
	}
	return fmt.Errorf("%s: status %d", class, out.StatusCode)
}
