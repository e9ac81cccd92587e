package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/keremalp/mentionrank/config"
	appcache "github.com/keremalp/mentionrank/internal/app/cache"
	"github.com/keremalp/mentionrank/internal/app/external"
	appmodel "github.com/keremalp/mentionrank/internal/app/model"
	"github.com/keremalp/mentionrank/internal/app/parse"
	appqueue "github.com/keremalp/mentionrank/internal/app/queue"
	apprepository "github.com/keremalp/mentionrank/internal/app/repository"
	appscheduler "github.com/keremalp/mentionrank/internal/app/scheduler"
	appserver "github.com/keremalp/mentionrank/internal/app/server"
	appservice "github.com/keremalp/mentionrank/internal/app/service"
	"github.com/keremalp/mentionrank/internal/infra/logger"
	infraNATS "github.com/keremalp/mentionrank/internal/infra/nats"
	infraPostgres "github.com/keremalp/mentionrank/internal/infra/postgres"
	infraPrometheus "github.com/keremalp/mentionrank/internal/infra/prometheus"
	infraRedis "github.com/keremalp/mentionrank/internal/infra/redis"
)

func main() {
	ctx := context.Background()

	isDev := os.Getenv("APP_ENV") != "production"
	log := logger.MustInit(logger.Config{
		Development: isDev,
		Level:       os.Getenv("LOG_LEVEL"),
	})
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Configuration loaded successfully",
		zap.String("postgres_host", cfg.Postgres.Host),
		zap.Int("postgres_port", cfg.Postgres.Port),
		zap.String("postgres_db", cfg.Postgres.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Int("redis_port", cfg.Redis.Port),
		zap.String("nats_host", cfg.NATS.Host),
		zap.Int("nats_port", cfg.NATS.Port),
		zap.Int("batch_capacity", cfg.Pipeline.BatchCapacity),
		zap.Int("top_count", cfg.Pipeline.TopCount),
	)

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to open GORM connection", zap.Error(err))
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		log.Fatal("Failed to access underlying SQL DB", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := infraPostgres.AutoMigrate(ctx, gormDB,
		&appmodel.Counter{},
		&appmodel.RankingSnapshot{},
		&appmodel.ResolvedLink{},
		&appmodel.BanList{},
	); err != nil {
		log.Fatal("Failed to run database migrations", zap.Error(err))
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Connected to Postgres successfully")

	redisClient, err := infraRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("Connected to Redis successfully")

	natsConn, js, err := infraNATS.Connect(cfg.NATS)
	if err != nil {
		log.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer natsConn.Drain()
	if err := appqueue.Setup(js); err != nil {
		log.Fatal("Failed to set up pipeline stream", zap.Error(err))
	}
	log.Info("Connected to NATS successfully")

	if !isDev {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server",
				zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	} else {
		log.Info("Skipping Prometheus metrics server in development mode")
	}

	// Storage: repositories, tiered cache gateway, dirty-key index.
	counterRepo := apprepository.NewCounterRepository(gormDB)
	snapshotRepo := apprepository.NewSnapshotRepository(gormDB)
	linkRepo := apprepository.NewResolvedLinkRepository(gormDB)
	banListRepo := apprepository.NewBanListRepository(gormDB)

	gateway := appcache.NewGateway(log,
		appcache.NewLocal(5*time.Minute),
		appcache.NewRedis(redisClient, "mentionrank", 24*time.Hour),
		appcache.NewDurable(apprepository.DurableBackends(counterRepo, snapshotRepo, linkRepo, banListRepo)),
	)
	dirtyIndex := appservice.NewDirtyKeyIndex(redisClient)
	banLists := appservice.NewBanListProvider(gateway)

	// External capabilities.
	storeRoots := parse.DefaultRoots
	if len(cfg.Resolver.StoreRoots) > 0 {
		storeRoots = make(map[string]string, len(cfg.Resolver.StoreRoots))
		for _, root := range cfg.Resolver.StoreRoots {
			storeRoots[root] = parse.DefaultRoots[root]
		}
	}
	parser := parse.New(storeRoots)
	follower := external.NewHTTPFollower(cfg.Resolver.Deadline())
	metadata := external.NewHTTPMetadataClient(cfg.Metadata.Endpoint, cfg.Metadata.Spacing())

	// Pipeline stages.
	publisher := appqueue.NewPublisher(js, log)
	ingestor := appservice.NewMentionIngestor(log, publisher, cfg.Pipeline.BatchCapacity)
	resolver := appservice.NewLinkResolver(log, gateway, follower, parser, banLists, publisher)
	aggregator := appservice.NewCounterAggregator(log, gateway, dirtyIndex, appservice.AggregatorConfig{
		ProductMinCount: cfg.Pipeline.ProductMinCount,
		PosterMinCount:  cfg.Pipeline.PosterMinCount,
	})
	renderer := appservice.NewRankingRenderer(log, gateway, counterRepo, snapshotRepo,
		metadata, parser, publisher, appservice.RendererConfig{
			TopCount:   cfg.Pipeline.TopCount,
			MaxRetries: cfg.Pipeline.MaxEnrichRetries,
		})
	sweeper := appservice.NewRetentionSweeper(log, pool, gateway, publisher, cfg.Pipeline.SweepPageSize)
	banSync := appservice.NewBanSynchronizer(log, counterRepo, snapshotRepo, banLists, cfg.Pipeline.SpamCountLimit)

	consumers := []*appqueue.Consumer{
		appqueue.NewConsumer(js, log, appmodel.SubjectResolveURLs, "url-resolver", resolver.HandleBatch),
		appqueue.NewConsumer(js, log, appmodel.SubjectCountMentions, "mention-counter", aggregator.HandleBatch),
		appqueue.NewConsumer(js, log, appmodel.SubjectUpdateRanking, "ranking-updater", renderer.HandleUpdate),
		appqueue.NewConsumer(js, log, appmodel.SubjectEnrichEntry, "snapshot-enricher", renderer.HandleEnrich),
		appqueue.NewConsumer(js, log, appmodel.SubjectSweep, "retention-sweeper", sweeper.HandleSweep),
		appqueue.NewConsumer(js, log, appmodel.SubjectSyncBans, "ban-synchronizer", banSync.HandleSync),
	}
	for _, consumer := range consumers {
		if err := consumer.Start(ctx); err != nil {
			log.Fatal("Failed to start consumer", zap.Error(err))
		}
	}

	flusher := appservice.NewCounterFlusher(log, gateway, dirtyIndex, cfg.Pipeline.FlushEvery())
	flusher.Start()
	defer flusher.Stop()

	sched := appscheduler.New(log, publisher, parser.Roots())
	if err := sched.Start(); err != nil {
		log.Fatal("Failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	server := appserver.New(appserver.Dependencies{
		Logger:    log,
		Redis:     redisClient,
		Ingestor:  ingestor,
		Snapshots: snapshotRepo,
		TopCount:  cfg.Pipeline.TopCount,
	})

	if err := server.Listen(":8080"); err != nil {
		log.Fatal("Fiber server exited", zap.Error(err))
	}
}
