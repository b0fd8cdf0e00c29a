// Package httpfetch is the minimal HTTP boundary for stage workers. Real
// deployments plug a full fetch/parse engine into pipeline.Fetcher; this
// implementation reports outcomes only, leaving link extraction to that
// engine.
package httpfetch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/pipeline"
)

// Config tunes the HTTP fetcher.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps how much of a response body is read for the word
	// count estimate.
	MaxBodyBytes int64
}

// Fetcher performs plain GET requests.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "realtime-cpi-orchestrator/0.1"
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
	}
}

// Fetch issues one GET and reports the attempt outcome.
func (f *Fetcher) Fetch(ctx context.Context, url string) pipeline.FetchResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pipeline.FetchResult{Outcome: crawl.FetchOutcome{URL: url, Err: err}}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return pipeline.FetchResult{Outcome: crawl.FetchOutcome{URL: url, Err: err, ResponseTime: time.Since(start)}}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	contentType := resp.Header.Get("Content-Type")
	hasText := strings.Contains(contentType, "text/html") || strings.Contains(contentType, "text/plain")

	words := 0
	if hasText {
		words = len(strings.Fields(string(body)))
	}
	return pipeline.FetchResult{
		Outcome: crawl.FetchOutcome{
			URL:          url,
			StatusCode:   resp.StatusCode,
			ResponseTime: time.Since(start),
			Headers:      resp.Header,
		},
		WordCount: words,
		HasText:   hasText,
	}
}
