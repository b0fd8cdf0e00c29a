// Package main wires together the crawl orchestration service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/api"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/checkpoint"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/clock/system"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/config"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/crawl"
	memorydedup "github.com/JakeFAU/realtime-cpi-orchestrator/internal/dedup/memory"
	postgresdedup "github.com/JakeFAU/realtime-cpi-orchestrator/internal/dedup/postgres"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/depth"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/fetcher/httpfetch"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/graph"
	postgresgraph "github.com/JakeFAU/realtime-cpi-orchestrator/internal/graph/postgres"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/hash/sha256"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/id/uuid"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/logging"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/pipeline"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/priority"
	memorypublisher "github.com/JakeFAU/realtime-cpi-orchestrator/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/realtime-cpi-orchestrator/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-cpi-orchestrator/internal/retry"
	gcsstorage "github.com/JakeFAU/realtime-cpi-orchestrator/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-cpi-orchestrator/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-cpi-orchestrator/internal/storage/memory"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	stageFlag := flag.String("stage", "all", "Stage to run: discovery, validation, enrichment or all")
	resetCheckpoints := flag.Bool("reset-checkpoints", false, "Remove checkpoints for the selected stages before running")
	dryRun := flag.Bool("dry-run", false, "Print stage status and exit without running")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stages, err := parseStages(*stageFlag)
	if err != nil {
		logger.Fatal("invalid stage selection", zap.Error(err))
	}

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	checkpoints, err := checkpoint.NewManager(cfg.Checkpoint.Dir, checkpoint.Config{
		FlushEvery:    cfg.Checkpoint.FlushEvery,
		FlushInterval: time.Duration(cfg.Checkpoint.FlushIntervalSeconds) * time.Second,
	}, clock, hasher, logger.Named("checkpoint"))
	if err != nil {
		logger.Fatal("checkpoint manager init failed", zap.Error(err))
	}

	if *resetCheckpoints {
		for _, stage := range stages {
			if err := checkpoints.Reset(stage); err != nil {
				logger.Fatal("checkpoint reset failed", zap.String("stage", string(stage)), zap.Error(err))
			}
			logger.Info("checkpoint reset", zap.String("stage", string(stage)))
		}
	}

	if *dryRun {
		report := make([]checkpoint.State, 0, len(stages))
		for _, stage := range stages {
			report = append(report, checkpoints.Stage(stage).State())
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Fatal("status report failed", zap.Error(err))
		}
		return
	}

	var dedupStore crawl.DedupStore
	var graphStore crawl.GraphStore
	if cfg.DB.DSN != "" {
		pgDedup, err := postgresdedup.New(ctx, postgresdedup.StoreConfig{DSN: cfg.DB.DSN, Table: cfg.DB.DedupTable})
		if err != nil {
			logger.Fatal("postgres dedup store init failed", zap.Error(err))
		}
		defer pgDedup.Close()
		dedupStore = pgDedup

		pgGraph, err := postgresgraph.New(ctx, postgresgraph.StoreConfig{DSN: cfg.DB.DSN})
		if err != nil {
			logger.Fatal("postgres graph store init failed", zap.Error(err))
		}
		defer pgGraph.Close()
		graphStore = pgGraph
	} else {
		logger.Warn("no database configured, dedup state will not survive restarts")
		dedupStore = memorydedup.New()
	}

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}

	depths := depth.NewManager(depth.Config{BaseDepth: cfg.Depth.Base, MaxDepth: cfg.Depth.Max}, logger.Named("depth"))
	orderer, err := priority.NewOrderer(priority.Config{
		Strategy:   priority.Strategy(cfg.Priority.Strategy),
		Ablation:   cfg.Priority.Ablation,
		SplitRatio: cfg.Priority.SplitRatio,
		Seed:       cfg.Priority.Seed,
	})
	if err != nil {
		logger.Fatal("orderer init failed", zap.Error(err))
	}

	breaker := retry.NewBreaker(retry.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.BreakerTimeout(),
	}, clock, logger.Named("breaker"))
	policy := retry.NewPolicy(retry.PolicyConfig{
		TransientMaxAttempts: cfg.Retry.TransientMaxAttempts,
		RateLimitMaxAttempts: cfg.Retry.RateLimitMaxAttempts,
		BaseDelay:            time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		RateLimitBaseDelay:   time.Duration(cfg.Retry.RateLimitBaseDelayMs) * time.Millisecond,
		MaxDelay:             time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier:           cfg.Retry.Multiplier,
		JitterFactor:         cfg.Retry.JitterFactor,
	})
	gate := retry.NewGate(retry.GateConfig{
		DefaultRPS:   cfg.RateLimit.DefaultRPS,
		DefaultBurst: cfg.RateLimit.DefaultBurst,
	}, breaker, policy)

	scorer := graph.NewScorer()
	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	orchestrator, err := pipeline.New(pipeline.Deps{
		Dedup:       dedupStore,
		Depths:      depths,
		Orderer:     orderer,
		Checkpoints: checkpoints,
		Archive:     archive,
		Events:      publisher,
		EventTopic:  cfg.PubSub.TopicName,
		Clock:       clock,
		IDs:         idGen,
		Logger:      logger.Named("pipeline"),
	})
	if err != nil {
		logger.Fatal("orchestrator init failed", zap.Error(err))
	}

	apiServer := api.NewServer(checkpoints, idGen, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	fetcher := httpfetch.New(httpfetch.Config{})
	processor := pipeline.NewFetchProcessor(fetcher, gate, depths, scorer, graphStore, clock)

	stageCfg := pipeline.StageConfig{
		Workers:       cfg.Pipeline.Workers,
		BatchSize:     cfg.Pipeline.BatchSize,
		QueueCapacity: cfg.Pipeline.QueueCapacity,
		BatchTimeout:  cfg.BatchTimeout(),
	}
	plans := make([]pipeline.StagePlan, 0, len(stages))
	for _, stage := range stages {
		planCfg := stageCfg
		if stage == crawl.StageDiscovery {
			planCfg.ApplyDedup = true
			planCfg.ApplyDepthGate = true
		}
		plans = append(plans, pipeline.StagePlan{Stage: stage, Config: planCfg, Processor: processor})
	}

	summaries, runErr := orchestrator.Run(ctx, cfg.Pipeline.DataDir, cfg.Pipeline.SeedFile, plans)
	for _, s := range summaries {
		logger.Info("stage summary",
			zap.String("stage", string(s.Stage)),
			zap.Int("processed", s.Processed),
			zap.Int("successful", s.Successful),
			zap.Int("failed", s.Failed),
			zap.Int("skipped", s.Skipped))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("pipeline run failed", zap.Error(runErr))
	}

	persistScores(ctx, cfg, scorer, graphStore, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// persistScores runs the batch PageRank/HITS pass over everything the run
// discovered and replaces the stored scores.
func persistScores(ctx context.Context, cfg config.Config, scorer *graph.Scorer, store crawl.GraphStore, logger *zap.Logger) {
	if store == nil || scorer.NodeCount() == 0 {
		return
	}
	scores := scorer.ScoresWith(cfg.Scoring.Damping, cfg.Scoring.MaxIterations, cfg.Scoring.Tolerance)
	if err := store.ReplaceScores(ctx, scores); err != nil {
		logger.Error("persisting importance scores failed", zap.Error(err))
		return
	}
	logger.Info("importance scores persisted",
		zap.Int("nodes", scorer.NodeCount()),
		zap.Int("edges", scorer.EdgeCount()))
}

func buildArchive(ctx context.Context, cfg config.Config) (crawl.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
	}
}

// buildPublisher selects Cloud Pub/Sub when a project is configured and the
// in-memory publisher otherwise.
func buildPublisher(ctx context.Context, cfg config.Config) (crawl.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return pubsubpublisher.New(client), nil
}

func parseStages(raw string) ([]crawl.StageName, error) {
	if raw == "" || raw == "all" {
		return []crawl.StageName{crawl.StageDiscovery, crawl.StageValidation, crawl.StageEnrichment}, nil
	}
	var out []crawl.StageName
	for _, part := range strings.Split(raw, ",") {
		switch stage := crawl.StageName(strings.TrimSpace(part)); stage {
		case crawl.StageDiscovery, crawl.StageValidation, crawl.StageEnrichment:
			out = append(out, stage)
		default:
			return nil, fmt.Errorf("unknown stage %q", part)
		}
	}
	return out, nil
}
