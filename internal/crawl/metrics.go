package crawl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalURLsSeen tracks first-ever sightings admitted by the dedup store.
	TotalURLsSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_urls_seen_total",
		Help: "The total number of URLs admitted to the frontier for the first time.",
	})
	// TotalDuplicates tracks URLs rejected by the dedup store.
	TotalDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_urls_duplicate_total",
		Help: "The total number of URLs rejected as already seen.",
	})
	// TotalRetries tracks retry attempts scheduled by the retry layer.
	TotalRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_retries_total",
		Help: "The total number of retry attempts scheduled.",
	})
	// TotalCircuitOpens tracks closed-to-open circuit breaker transitions.
	TotalCircuitOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_circuit_opens_total",
		Help: "The total number of per-domain circuit breaker trips.",
	})
	// StageItemsProcessed tracks per-stage item outcomes.
	StageItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_stage_items_total",
		Help: "The total number of items processed per stage and result.",
	}, []string{"stage", "result"})
	// QueueDepth reports the current batch queue occupancy per stage.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "orchestrator_queue_depth",
		Help: "Current number of items buffered in the stage batch queue.",
	}, []string{"stage"})
)
