// Package priority orders discovery batches for dispatch.
package priority

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
)

// Strategy selects the batch ordering discipline.
type Strategy string

// Supported ordering strategies.
const (
	StrategyScore  Strategy = "score"
	StrategyFIFO   Strategy = "fifo"
	StrategyDepth  Strategy = "depth"
	StrategyRandom Strategy = "random"
)

// Config controls the Orderer.
type Config struct {
	Strategy Strategy
	// Ablation splits each batch: the first SplitRatio part is
	// score-ordered, the remainder FIFO. Enables A/B comparison in one run.
	Ablation   bool
	SplitRatio float64
	// Seed fixes the random strategy for reproducible runs; 0 leaves the
	// shuffle unseeded.
	Seed int64
}

// Orderer applies the configured strategy to discovery batches. Insertion
// order is assigned by the frontier feeder before ordering and is never
// reassigned here.
type Orderer struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewOrderer validates the config and builds an Orderer.
func NewOrderer(cfg Config) (*Orderer, error) {
	switch cfg.Strategy {
	case StrategyScore, StrategyFIFO, StrategyDepth, StrategyRandom:
	case "":
		cfg.Strategy = StrategyScore
	default:
		return nil, fmt.Errorf("unknown priority strategy %q", cfg.Strategy)
	}
	if cfg.Ablation && (cfg.SplitRatio < 0 || cfg.SplitRatio > 1) {
		return nil, fmt.Errorf("ablation split ratio %v out of [0,1]", cfg.SplitRatio)
	}
	o := &Orderer{cfg: cfg}
	if cfg.Seed != 0 {
		o.rng = rand.New(rand.NewSource(cfg.Seed))
	} else {
		o.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return o, nil
}

// OrderBatch returns a new slice holding the batch in dispatch order.
func (o *Orderer) OrderBatch(items []crawl.QueueItem) []crawl.QueueItem {
	out := make([]crawl.QueueItem, len(items))
	copy(out, items)

	if o.cfg.Ablation {
		split := int(math.Floor(float64(len(out)) * o.cfg.SplitRatio))
		head := out[:split]
		tail := out[split:]
		o.apply(StrategyScore, head)
		o.apply(StrategyFIFO, tail)
		return out
	}

	o.apply(o.cfg.Strategy, out)
	return out
}

func (o *Orderer) apply(strategy Strategy, items []crawl.QueueItem) {
	switch strategy {
	case StrategyScore:
		// Stable keeps original order on score ties.
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Importance > items[j].Importance
		})
	case StrategyFIFO:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].InsertionOrder < items[j].InsertionOrder
		})
	case StrategyDepth:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Depth != items[j].Depth {
				return items[i].Depth < items[j].Depth
			}
			return items[i].Importance > items[j].Importance
		})
	case StrategyRandom:
		o.mu.Lock()
		o.rng.Shuffle(len(items), func(i, j int) {
			items[i], items[j] = items[j], items[i]
		})
		o.mu.Unlock()
	}
}
