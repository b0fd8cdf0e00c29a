// Package crawl defines core types shared across the orchestration subsystems.
package crawl

import (
	"net/http"
	"time"
)

// StageName identifies a pipeline stage.
type StageName string

// Pipeline stages, in execution order.
const (
	StageDiscovery  StageName = "discovery"
	StageValidation StageName = "validation"
	StageEnrichment StageName = "enrichment"
)

// URLRecord is the identity row kept for every URL the crawl has ever seen.
type URLRecord struct {
	CanonicalURL string    `json:"canonical_url"`
	URLHash      string    `json:"url_hash"`
	Domain       string    `json:"domain"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
}

// DiscoveryEdge is one link-graph edge. Multiple edges may target one node.
type DiscoveryEdge struct {
	SourceHash      string  `json:"source_hash"`
	TargetHash      string  `json:"target_hash"`
	Depth           int     `json:"depth"`
	DiscoverySource string  `json:"discovery_source"`
	AnchorText      string  `json:"anchor_text,omitempty"`
	Confidence      float64 `json:"confidence"`
}

// ImportanceScore holds the batch-recomputed link scores for one URL.
// Rows are overwritten on every scoring run, never updated incrementally.
type ImportanceScore struct {
	URLHash   string  `json:"url_hash"`
	PageRank  float64 `json:"pagerank"`
	Hub       float64 `json:"hub"`
	Authority float64 `json:"authority"`
	Inlinks   int     `json:"inlinks"`
	Outlinks  int     `json:"outlinks"`
}

// QueueItem is the transient unit of work flowing through a stage. It is
// created when a URL passes dedup and consumed exactly once on dispatch;
// durability comes from checkpoints, not from the queue.
type QueueItem struct {
	URL             string  `json:"url"`
	URLHash         string  `json:"url_hash"`
	Importance      float64 `json:"importance_score"`
	Depth           int     `json:"discovery_depth"`
	DiscoverySource string  `json:"discovery_source"`
	InsertionOrder  int64   `json:"insertion_order"`
}

// StageRecord is one append-only NDJSON row written per URL per stage.
type StageRecord struct {
	URL             string    `json:"url"`
	URLHash         string    `json:"url_hash"`
	Depth           int       `json:"depth"`
	DiscoverySource string    `json:"discovery_source,omitempty"`
	Importance      float64   `json:"importance_score,omitempty"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// FetchOutcome is the per-attempt result reported by the external fetch
// engine, fed into the retry classifier.
type FetchOutcome struct {
	URL          string
	StatusCode   int
	Err          error
	ResponseTime time.Duration
	Headers      http.Header
}

// StageSummary is the user-visible result of one stage execution.
type StageSummary struct {
	Stage       StageName `json:"stage"`
	Processed   int       `json:"processed"`
	Successful  int       `json:"successful"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	ResumedFrom int       `json:"resumed_from,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}
