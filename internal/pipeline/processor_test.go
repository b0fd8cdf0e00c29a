package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/depth"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/graph"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/retry"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	results []FetchResult
	calls   int
}

func (f *scriptedFetcher) Fetch(_ context.Context, _ string) FetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.results[f.calls]
	if f.calls < len(f.results)-1 {
		f.calls++
	}
	return res
}

func newTestGate(failureThreshold int) *retry.Gate {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	breaker := retry.NewBreaker(retry.BreakerConfig{FailureThreshold: failureThreshold, Timeout: time.Minute}, clock, nil)
	policy := retry.NewPolicy(retry.PolicyConfig{
		TransientMaxAttempts: 2,
		BaseDelay:            time.Millisecond,
		MaxDelay:             2 * time.Millisecond,
	})
	return retry.NewGate(retry.GateConfig{}, breaker, policy)
}

func queueItem(url string) crawl.QueueItem {
	canonical, _ := crawl.Canonicalize(url)
	return crawl.QueueItem{URL: canonical, URLHash: crawl.HashURL(canonical), Depth: 1}
}

func TestFetchProcessorRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: []FetchResult{
		{Outcome: crawl.FetchOutcome{StatusCode: 503}},
		{Outcome: crawl.FetchOutcome{StatusCode: 200}, WordCount: 800, HasText: true},
	}}
	depths := depth.NewManager(depth.Config{BaseDepth: 3, MaxDepth: 10}, nil)
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	p := NewFetchProcessor(fetcher, newTestGate(100), depths, nil, nil, clock)

	rec, err := p.Process(context.Background(), queueItem("https://example.com/products/x"))
	require.NoError(t, err)
	require.Equal(t, "ok", rec.Status)
	require.Equal(t, 2, fetcher.calls+1)
}

func TestFetchProcessorPermanentFailureNoRetry(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: []FetchResult{
		{Outcome: crawl.FetchOutcome{StatusCode: 404}},
	}}
	depths := depth.NewManager(depth.Config{BaseDepth: 3, MaxDepth: 10}, nil)
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	p := NewFetchProcessor(fetcher, newTestGate(100), depths, nil, nil, clock)

	rec, err := p.Process(context.Background(), queueItem("https://example.com/gone"))
	require.Error(t, err)
	require.Equal(t, "failed", rec.Status)
	require.Equal(t, 0, fetcher.calls)
}

func TestFetchProcessorOpenCircuitIsSkip(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: []FetchResult{
		{Outcome: crawl.FetchOutcome{StatusCode: 500}},
	}}
	depths := depth.NewManager(depth.Config{BaseDepth: 3, MaxDepth: 10}, nil)
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	gate := newTestGate(1)
	p := NewFetchProcessor(fetcher, gate, depths, nil, nil, clock)

	// First item exhausts retries and trips the one-failure breaker.
	_, err := p.Process(context.Background(), queueItem("https://example.com/a"))
	require.Error(t, err)

	rec, err := p.Process(context.Background(), queueItem("https://example.com/b"))
	require.ErrorIs(t, err, crawl.ErrCircuitOpen)
	require.Equal(t, "skipped", rec.Status)
}

func TestFetchProcessorFeedsLinkGraph(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{results: []FetchResult{
		{
			Outcome:  crawl.FetchOutcome{StatusCode: 200},
			Outlinks: []string{"https://example.com/b", "https://example.com/c", "not a url"},
			HasText:  true,
		},
	}}
	depths := depth.NewManager(depth.Config{BaseDepth: 3, MaxDepth: 10}, nil)
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	scorer := graph.NewScorer()
	p := NewFetchProcessor(fetcher, newTestGate(100), depths, scorer, nil, clock)

	_, err := p.Process(context.Background(), queueItem("https://example.com/a"))
	require.NoError(t, err)
	require.Equal(t, 3, scorer.NodeCount())
	require.Equal(t, 2, scorer.EdgeCount())
}

func TestFetchProcessorMalformedURLFails(t *testing.T) {
	t.Parallel()

	depths := depth.NewManager(depth.Config{BaseDepth: 3, MaxDepth: 10}, nil)
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	p := NewFetchProcessor(&scriptedFetcher{results: []FetchResult{{}}}, newTestGate(100), depths, nil, nil, clock)

	_, err := p.Process(context.Background(), crawl.QueueItem{URL: "not-a-url"})
	require.ErrorIs(t, err, crawl.ErrMalformedURL)
}
