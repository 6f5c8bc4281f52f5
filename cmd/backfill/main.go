package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/actor"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/batch"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/config"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/enrichment"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rulestore"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/scoring"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
)

const jobActor = "backfill-job"

func main() {
	time.Local = time.UTC

	configPath := flag.String("config", "", "directory containing default.yaml")
	limit := flag.Int("limit", 0, "stop after this many leads (0 = all)")
	pageSize := flag.Int("page-size", 0, "leads fetched per page (defaults to batch.pageSize)")
	useML := flag.Bool("use-ml", false, "include the ML sub-score")
	noEnrich := flag.Bool("no-enrichment", false, "skip Census lookups")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	observer.InitMetrics(false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = actor.WithActorID(ctx, jobActor)

	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, storage.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}
	defer func() { _ = repo.Close(context.Background()) }()

	var enricher scoring.Enricher
	if cfg.Enrichment.Enabled && !*noEnrich {
		var opts []enrichment.Option
		if cfg.Redis.Addr != "" {
			rdb, err := enrichment.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
			}
			defer rdb.Close()
			opts = append(opts, enrichment.WithCache(enrichment.NewRedisCache(rdb, cfg.Enrichment.CacheTTL)))
		}
		enricher = enrichment.NewClient(enrichment.Config{
			BaseURL:   cfg.Enrichment.BaseURL,
			APIKey:    cfg.Enrichment.APIKey,
			Timeout:   cfg.Enrichment.Timeout,
			RateLimit: cfg.Enrichment.RateLimit,
			Burst:     cfg.Enrichment.Burst,
		}, opts...)
	}

	scorer := scoring.NewService(repo, repo, rulestore.New(repo, cfg.Scoring.RuleCacheTTL), enricher, scoring.Config{
		RuleMaxRawScore:        cfg.Scoring.RuleMaxRawScore,
		DeriveRuleDivisor:      cfg.Scoring.DeriveRuleDivisor,
		DemographicMaxRawScore: cfg.Scoring.DemographicMaxRawScore,
		ScoreVersion:           cfg.Scoring.ScoreVersion,
		TopFactors:             cfg.Scoring.TopFactors,
	})

	orchestrator, err := batch.NewOrchestrator(scorer, nil, batch.Config{
		ChunkSize:  cfg.Batch.ChunkSize,
		ChunkDelay: cfg.Batch.ChunkDelay,
	})
	if err != nil {
		logger.Log.Fatal("Failed to initialize batch orchestrator", zap.Error(err))
	}
	defer orchestrator.Release()

	if *pageSize <= 0 {
		*pageSize = cfg.Batch.PageSize
	}

	start := time.Now()
	logger.Log.Info("Starting score backfill", zap.Int("page_size", *pageSize), zap.Int("limit", *limit))
	summary, err := orchestrator.Backfill(ctx, repo, batch.BackfillOptions{
		PageSize: *pageSize,
		Limit:    *limit,
		Score:    scoring.ScoreOptions{UseML: *useML, ScoredBy: jobActor},
	})
	logger.Log.Info("Score backfill finished",
		zap.Int("total", summary.Total),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		logger.Log.Error("Score backfill stopped early", zap.Error(err))
		os.Exit(1)
	}
}
