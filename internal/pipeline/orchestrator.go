package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/batchqueue"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/checkpoint"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/depth"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/priority"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/records"
)

// StageConfig tunes one stage execution.
type StageConfig struct {
	Workers       int
	BatchSize     int
	QueueCapacity int
	// BatchTimeout bounds how long a consumer waits for the first item of a
	// batch before looping.
	BatchTimeout time.Duration
	// ApplyDedup runs every input URL through the dedup store and drops
	// already-seen ones. Only the discovery stage wants this.
	ApplyDedup bool
	// ApplyDepthGate drops items deeper than their section's recommended
	// depth.
	ApplyDepthGate bool
}

func (c StageConfig) withDefaults() StageConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 4 * c.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 2 * time.Second
	}
	return c
}

// Orchestrator drives the discovery, validation and enrichment stages. Every
// collaborator is injected; it holds no global state.
type Orchestrator struct {
	dedup       crawl.DedupStore
	depths      *depth.Manager
	orderer     *priority.Orderer
	checkpoints *checkpoint.Manager
	archive     crawl.BlobStore
	events      crawl.Publisher
	eventTopic  string
	clock       crawl.Clock
	ids         crawl.IDGenerator
	logger      *zap.Logger
}

// Deps carries the orchestrator's collaborators. Archive and Events are
// optional; nil disables output archiving and event publishing.
type Deps struct {
	Dedup       crawl.DedupStore
	Depths      *depth.Manager
	Orderer     *priority.Orderer
	Checkpoints *checkpoint.Manager
	Archive     crawl.BlobStore
	Events      crawl.Publisher
	// EventTopic names the topic completion events go to. Defaults to
	// "stage-completed".
	EventTopic string
	Clock      crawl.Clock
	IDs        crawl.IDGenerator
	Logger     *zap.Logger
}

// New builds an Orchestrator from its dependencies.
func New(d Deps) (*Orchestrator, error) {
	if d.Dedup == nil || d.Depths == nil || d.Orderer == nil || d.Checkpoints == nil {
		return nil, errors.New("dedup store, depth manager, orderer and checkpoint manager are required")
	}
	if d.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.EventTopic == "" {
		d.EventTopic = "stage-completed"
	}
	return &Orchestrator{
		dedup:       d.Dedup,
		depths:      d.Depths,
		orderer:     d.Orderer,
		checkpoints: d.Checkpoints,
		archive:     d.Archive,
		events:      d.Events,
		eventTopic:  d.EventTopic,
		clock:       d.Clock,
		ids:         d.IDs,
		logger:      d.Logger,
	}, nil
}

// RunStage executes one stage end to end: load input records, start or
// resume the checkpoint, run the producer and consumer pool concurrently,
// then finalize the checkpoint and archive the output. Per-item failures are
// recorded and never abort the stage; input corruption does.
func (o *Orchestrator) RunStage(ctx context.Context, stage crawl.StageName, inputPath, outputPath string, cfg StageConfig, proc Processor) (crawl.StageSummary, error) {
	cfg = cfg.withDefaults()
	log := o.logger.With(zap.String("stage", string(stage)))
	if o.ids != nil {
		if runID, err := o.ids.NewID(); err == nil {
			log = log.With(zap.String("run_id", runID))
		}
	}
	summary := crawl.StageSummary{Stage: stage}

	recs, err := records.ReadAll(inputPath)
	if err != nil {
		return summary, fmt.Errorf("load stage input: %w", err)
	}

	cp := o.checkpoints.Stage(stage)
	resumedFrom := -1
	switch cp.Status() {
	case checkpoint.StatusRecovering, checkpoint.StatusPaused:
		if err := cp.Resume(); err != nil {
			return summary, fmt.Errorf("resume stage %s: %w", stage, err)
		}
		resumedFrom = cp.ResumeIndex()
		log.Info("stage resumed", zap.Int("resume_index", resumedFrom))
	default:
		if err := cp.Start(len(recs), inputPath); err != nil {
			return summary, fmt.Errorf("start stage %s: %w", stage, err)
		}
	}
	summary.ResumedFrom = resumedFrom + 1

	writer, err := records.NewWriter(outputPath)
	if err != nil {
		failErr := cp.Fail(err.Error())
		if failErr != nil {
			log.Error("checkpoint fail write lost", zap.Error(failErr))
		}
		return summary, fmt.Errorf("open stage output: %w", err)
	}

	queue := batchqueue.New[crawl.QueueItem](cfg.QueueCapacity, cfg.BatchSize)

	var prodWG sync.WaitGroup
	prodWG.Add(1)
	go func() {
		defer prodWG.Done()
		defer queue.MarkProducerDone()
		o.produce(ctx, stage, recs, cp, queue, cfg, log)
	}()

	var tally struct {
		mu         sync.Mutex
		successful int
		failed     int
		lastError  string
	}

	var consWG sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		consWG.Add(1)
		go func() {
			defer consWG.Done()
			for {
				batch, err := queue.GetBatchOrWait(ctx, cfg.BatchTimeout)
				if err != nil {
					return
				}
				crawl.QueueDepth.WithLabelValues(string(stage)).Set(float64(queue.Len()))
				for _, item := range batch {
					rec, procErr := proc.Process(ctx, item)
					if writeErr := writer.Append(rec); writeErr != nil {
						log.Error("output record lost", zap.String("url", item.URL), zap.Error(writeErr))
					}

					succ, fail := 1, 0
					result := "success"
					if procErr != nil {
						succ, fail = 0, 1
						result = "failed"
						cp.RecordError(procErr.Error())
						tally.mu.Lock()
						tally.lastError = procErr.Error()
						tally.mu.Unlock()
					}
					crawl.StageItemsProcessed.WithLabelValues(string(stage), result).Inc()
					tally.mu.Lock()
					tally.successful += succ
					tally.failed += fail
					tally.mu.Unlock()

					if err := cp.UpdateProgress(1, succ, fail, 0, item.URL, int(item.InsertionOrder)); err != nil {
						log.Error("checkpoint update failed", zap.Error(err))
					}
				}
			}
		}()
	}

	prodWG.Wait()
	consWG.Wait()

	if err := writer.Close(); err != nil {
		log.Error("closing stage output failed", zap.Error(err))
	}

	st := cp.State()
	summary.Processed = st.Processed
	summary.Successful = st.Successful
	summary.Failed = st.Failed
	summary.Skipped = st.Skipped
	tally.mu.Lock()
	summary.LastError = tally.lastError
	tally.mu.Unlock()

	if ctx.Err() != nil {
		// Interrupted: leave the checkpoint resumable.
		if err := cp.Pause(); err != nil {
			log.Error("checkpoint pause failed", zap.Error(err))
		}
		log.Warn("stage interrupted", zap.Int("processed", st.Processed))
		return summary, ctx.Err()
	}

	if err := cp.Complete(); err != nil {
		return summary, fmt.Errorf("complete stage %s: %w", stage, err)
	}
	log.Info("stage completed",
		zap.Int("processed", summary.Processed),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))

	o.finalize(ctx, stage, outputPath, summary, log)
	return summary, nil
}

// StagePlan binds one stage to its processor and tuning.
type StagePlan struct {
	Stage     crawl.StageName
	Config    StageConfig
	Processor Processor
}

// Run executes the plans in order, feeding each stage's output file to the
// next stage's input. The first plan reads seedFile. A stage error stops the
// pipeline; summaries for completed stages are still returned.
func (o *Orchestrator) Run(ctx context.Context, dataDir, seedFile string, plans []StagePlan) ([]crawl.StageSummary, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	summaries := make([]crawl.StageSummary, 0, len(plans))
	input := seedFile
	for _, plan := range plans {
		output := filepath.Join(dataDir, fmt.Sprintf("%s.out.ndjson", plan.Stage))
		summary, err := o.RunStage(ctx, plan.Stage, input, output, plan.Config, plan.Processor)
		summaries = append(summaries, summary)
		if err != nil {
			return summaries, fmt.Errorf("stage %s: %w", plan.Stage, err)
		}
		input = output
	}
	return summaries, nil
}

// produce feeds input records through checkpoint replay, dedup and the depth
// gate, orders each window by priority, and puts items on the queue.
// InsertionOrder is the record's index in the input file, which is what
// checkpoint replay keys on.
func (o *Orchestrator) produce(ctx context.Context, stage crawl.StageName, recs []crawl.StageRecord, cp *checkpoint.Checkpoint, queue *batchqueue.Queue[crawl.QueueItem], cfg StageConfig, log *zap.Logger) {
	window := make([]crawl.QueueItem, 0, cfg.BatchSize)

	flush := func() bool {
		for _, item := range o.orderer.OrderBatch(window) {
			if err := queue.Put(ctx, item); err != nil {
				return false
			}
		}
		window = window[:0]
		return true
	}

	for i, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		if cp.ShouldSkip(i) {
			continue
		}

		item := crawl.QueueItem{
			URL:             rec.URL,
			URLHash:         rec.URLHash,
			Importance:      rec.Importance,
			Depth:           rec.Depth,
			DiscoverySource: rec.DiscoverySource,
			InsertionOrder:  int64(i),
		}
		if item.URLHash == "" {
			canonical, err := crawl.Canonicalize(rec.URL)
			if err != nil {
				log.Warn("malformed input url dropped", zap.String("url", rec.URL), zap.Error(err))
				o.recordSkip(cp, stage, rec.URL, i, log)
				continue
			}
			item.URL = canonical
			item.URLHash = crawl.HashURL(canonical)
		}

		if cfg.ApplyDedup {
			fresh, err := o.dedup.AddIfNew(ctx, crawl.URLRecord{
				CanonicalURL: item.URL,
				URLHash:      item.URLHash,
				Domain:       crawl.Domain(item.URL),
				FirstSeenAt:  o.clock.Now(),
			})
			if err != nil {
				log.Error("dedup store failed", zap.String("url", item.URL), zap.Error(err))
				o.recordSkip(cp, stage, item.URL, i, log)
				continue
			}
			if !fresh {
				crawl.TotalDuplicates.Inc()
				o.recordSkip(cp, stage, item.URL, i, log)
				continue
			}
			crawl.TotalURLsSeen.Inc()
			o.depths.RecordDiscovery(item.URL, item.Depth)
		}

		if cfg.ApplyDepthGate && item.Depth > o.depths.DepthForURL(item.URL) {
			o.recordSkip(cp, stage, item.URL, i, log)
			continue
		}

		window = append(window, item)
		if len(window) >= cfg.BatchSize {
			if !flush() {
				return
			}
		}
	}
	flush()
}

// recordSkip advances the checkpoint past an item that will never reach the
// queue, so resume does not replay it.
func (o *Orchestrator) recordSkip(cp *checkpoint.Checkpoint, stage crawl.StageName, url string, index int, log *zap.Logger) {
	crawl.StageItemsProcessed.WithLabelValues(string(stage), "skipped").Inc()
	if err := cp.UpdateProgress(1, 0, 0, 1, url, index); err != nil {
		log.Error("checkpoint update failed", zap.Error(err))
	}
}

// finalize archives the stage output and publishes a completion event. Both
// are best-effort: the stage already completed.
func (o *Orchestrator) finalize(ctx context.Context, stage crawl.StageName, outputPath string, summary crawl.StageSummary, log *zap.Logger) {
	if o.archive != nil {
		data, err := os.ReadFile(outputPath)
		if err != nil {
			log.Error("reading stage output for archive failed", zap.Error(err))
		} else {
			object := fmt.Sprintf("stages/%s/%s/%s", stage, o.clock.Now().Format("2006-01-02"), filepath.Base(outputPath))
			uri, err := o.archive.PutObject(ctx, object, "application/x-ndjson", bytes.NewReader(data))
			if err != nil {
				log.Error("archiving stage output failed", zap.Error(err))
			} else {
				log.Info("stage output archived", zap.String("uri", uri))
			}
		}
	}
	if o.events != nil {
		if _, err := o.events.Publish(ctx, o.eventTopic, summary); err != nil {
			log.Error("publishing stage event failed", zap.Error(err))
		}
	}
}
