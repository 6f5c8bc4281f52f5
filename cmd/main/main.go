package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/api"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/assignment"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/batch"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/config"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/enrichment"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/healthcheck"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/ingestion"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/jetstream"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/notify"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/observer"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/rulestore"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/scoring"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/settings"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/internal/storage"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/logger"
	"gitlab.com/panda-exteriors/api/lead-routing-engine/pkg/utils"
)

const version = "1.0.0"

func main() {
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting lead routing engine",
		zap.String("environment", cfg.Environment),
		zap.Bool("nats_enabled", cfg.NATS.URL != ""),
		zap.Bool("redis_enabled", cfg.Redis.Addr != ""),
		zap.Bool("enrichment_enabled", cfg.Enrichment.Enabled),
	)

	startCtx, startCancel := context.WithTimeout(context.Background(), time.Minute)
	defer startCancel()

	repo, err := initPostgresRepo(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = enrichment.NewRedisClient(startCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
	}

	var jsClient *jetstream.Client
	if cfg.NATS.URL != "" {
		jsClient, err = jetstream.NewClient(cfg.NATS.URL)
		if err != nil {
			logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
		}
	}

	rules := rulestore.New(repo, cfg.Scoring.RuleCacheTTL)
	settingsProvider := settings.NewProvider(repo)

	var enricher scoring.Enricher
	if cfg.Enrichment.Enabled {
		var opts []enrichment.Option
		if rdb != nil {
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

	scorer := scoring.NewService(repo, repo, rules, enricher, scoring.Config{
		RuleMaxRawScore:        cfg.Scoring.RuleMaxRawScore,
		DeriveRuleDivisor:      cfg.Scoring.DeriveRuleDivisor,
		DemographicMaxRawScore: cfg.Scoring.DemographicMaxRawScore,
		ScoreVersion:           cfg.Scoring.ScoreVersion,
		TopFactors:             cfg.Scoring.TopFactors,
	})

	var publisher notify.Publisher
	if jsClient != nil {
		publisher = jsClient
	}
	notifier := notify.NewService(repo, publisher, cfg.NATS.SubjectPrefix)

	engine := assignment.NewEngine(repo, rules, settingsProvider, notifier, assignment.Config{
		TerminalStatuses:        cfg.Assignment.TerminalStatuses,
		DefaultOpportunityStage: cfg.Assignment.DefaultOpportunityStage,
	})

	orchestrator, err := batch.NewOrchestrator(scorer, engine, batch.Config{
		ChunkSize:  cfg.Batch.ChunkSize,
		ChunkDelay: cfg.Batch.ChunkDelay,
	})
	if err != nil {
		logger.Log.Fatal("Failed to initialize batch orchestrator", zap.Error(err))
	}

	var consumer *ingestion.Consumer
	if jsClient != nil {
		router := ingestion.NewRouter(cfg.NATS.SubjectPrefix)
		router.Register(jetstream.SubjectLeadCreated, ingestion.NewLeadCreatedHandler(scorer, engine).Handle)
		consumer = ingestion.NewConsumer(jsClient, router, cfg.NATS)
		if err := consumer.Setup(startCtx); err != nil {
			logger.Log.Fatal("Failed to set up lead event consumer", zap.Error(err))
		}
	}

	server := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), version, logger.Log)
	server.AddCheck("postgres", repo.Ping)
	if rdb != nil {
		server.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	if jsClient != nil {
		server.AddCheck("nats", func(context.Context) error {
			if !jsClient.Connected() {
				return fmt.Errorf("nats not connected")
			}
			return nil
		})
	}
	if cfg.Metrics.Enabled {
		server.RegisterMetricsHandler(promhttp.Handler())
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server.Handle("/v1/", api.NewHandler(scorer, engine, orchestrator, settingsProvider, rules).Routes())
	server.Start()

	if consumer != nil {
		if err := consumer.Start(); err != nil {
			logger.Log.Fatal("Failed to start lead event consumer", zap.Error(err))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	// Inbound work stops first, then the pool, then the connections it used.
	var wg sync.WaitGroup
	wg.Add(1)
	utils.SafeGo(func() {
		defer wg.Done()
		if consumer != nil {
			shutdownStep("lead event consumer", consumer.Stop)
		}
		shutdownStep("HTTP server", func() {
			if err := server.Stop(shutdownCtx); err != nil && err != http.ErrServerClosed {
				logger.Log.Error("[shutdown] Error stopping HTTP server", zap.Error(err))
			}
		})
		shutdownStep("batch worker pool", orchestrator.Release)
		if jsClient != nil {
			shutdownStep("JetStream connection", jsClient.Close)
		}
		if rdb != nil {
			shutdownStep("Redis connection", func() { _ = rdb.Close() })
		}
		shutdownStep("PostgreSQL connection", func() {
			if err := repo.Close(shutdownCtx); err != nil {
				logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
			}
		})
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic during shutdown", zap.Any("panic", r), zap.ByteString("stack", stack))
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}
	logger.Log.Info("Lead routing engine shutdown complete")
}

func shutdownStep(name string, stop func()) {
	logger.Log.Info("[shutdown] Stopping " + name)
	start := time.Now()
	stop()
	logger.Log.Info("[shutdown] Stopped "+name, zap.Duration("duration", time.Since(start)))
}

func initPostgresRepo(cfg *config.Config) (*storage.PostgresRepo, error) {
	if cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, storage.Options{
		AutoMigrate:     cfg.Database.PostgresAutoMigrate,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		TxMaxElapsed:    cfg.Assignment.ClaimMaxElapsed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}
	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}
