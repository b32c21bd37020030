package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/watt29/smart-service-system-backend/internal/analytics"
	"github.com/watt29/smart-service-system-backend/internal/api"
	"github.com/watt29/smart-service-system-backend/internal/cache"
	"github.com/watt29/smart-service-system-backend/internal/catalog"
	"github.com/watt29/smart-service-system-backend/internal/config"
	"github.com/watt29/smart-service-system-backend/internal/events"
	"github.com/watt29/smart-service-system-backend/internal/indexing"
	"github.com/watt29/smart-service-system-backend/internal/interest"
	"github.com/watt29/smart-service-system-backend/internal/lexicon"
	"github.com/watt29/smart-service-system-backend/internal/models"
	"github.com/watt29/smart-service-system-backend/internal/observability"
	"github.com/watt29/smart-service-system-backend/internal/query"
	"github.com/watt29/smart-service-system-backend/internal/recommend"
	"github.com/watt29/smart-service-system-backend/internal/retrieval"
	"github.com/watt29/smart-service-system-backend/internal/scoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	instanceID := uuid.New().String()
	logger.Info("starting service",
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("instance", instanceID),
	)

	tracerShutdown, err := observability.InitTracer(cfg.Observability.ServiceName)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without tracing", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Query understanding
	lex := lexicon.Default()
	if cfg.Engine.LexiconPath != "" {
		lex, err = lexicon.Load(cfg.Engine.LexiconPath)
		if err != nil {
			return fmt.Errorf("loading lexicon: %w", err)
		}
	}
	pre := query.NewPreprocessor(lex)
	scorer := scoring.NewScorer()

	// Cache
	redisCache, err := cache.NewRedisCache(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("initializing redis: %w", err)
	}
	defer redisCache.Close()

	// Catalog: Firestore is the system of record, Elasticsearch the index.
	var fsCatalog *catalog.FirestoreCatalog
	if cfg.Firestore.ProjectID != "" {
		fsCatalog, err = catalog.NewFirestoreCatalog(ctx, cfg.Firestore, logger)
		if err != nil {
			logger.Warn("firestore initialization failed, hydration will be unavailable", zap.Error(err))
			fsCatalog = nil
		} else {
			defer fsCatalog.Close()
		}
	}

	var hydrator catalog.Hydrator
	if fsCatalog != nil {
		hydrator = fsCatalog
	}

	esStore, err := catalog.NewESStore(cfg.Elasticsearch, cfg.Engine, hydrator, logger)
	if err != nil {
		return fmt.Errorf("initializing catalog store: %w", err)
	}
	defer esStore.Close()

	// Analytics (optional)
	var chStore *analytics.Store
	chStore, err = analytics.NewStore(cfg.ClickHouse, logger)
	if err != nil {
		logger.Warn("clickhouse initialization failed, analytics will be unavailable", zap.Error(err))
		chStore = nil
	} else {
		defer chStore.Close()
		if err := chStore.EnsureTables(ctx); err != nil {
			logger.Warn("clickhouse table creation failed", zap.Error(err))
		}
	}

	var analyticsWriter observability.AnalyticsWriter
	if chStore != nil {
		analyticsWriter = chStore
	}
	slowQuery := observability.NewSlowQueryDetector(
		cfg.Engine.SlowQuery.WarningThreshold,
		cfg.Engine.SlowQuery.CriticalThreshold,
		logger,
		analyticsWriter,
	)

	// Interest profiles and the event bus
	tracker := interest.NewTracker(pre, cfg.Interest, logger)

	producer := events.NewProducer(cfg.Kafka, logger)
	defer producer.Close()
	publisher := events.NewInstanceStamper(producer, instanceID)

	// Engines
	engineOpts := retrieval.Options{
		Cache:     redisCache,
		Interests: tracker,
		Publisher: publisher,
		SlowQuery: slowQuery,
	}
	if chStore != nil {
		engineOpts.SearchLog = chStore
	}
	searchEngine := retrieval.NewEngine(esStore, pre, scorer, cfg.Engine, logger, engineOpts)
	recEngine := recommend.NewEngine(esStore, tracker, pre, redisCache, cfg.Engine, logger)

	// Interest sync consumer: replays interactions from other replicas into
	// the local profile store. Events from this instance are already applied.
	consumerHandler := func(ctx context.Context, event *models.InteractionEvent) error {
		if event.InstanceID == instanceID {
			return nil
		}
		shown := make([]models.CatalogEntry, 0, len(event.ShownCodes))
		for _, code := range event.ShownCodes {
			if len(shown) >= 5 {
				break
			}
			if entry, err := esStore.GetByCode(ctx, code); err == nil {
				shown = append(shown, *entry)
			}
		}
		tracker.Record(event.UserID, event.Text, shown)
		return nil
	}
	consumer := events.NewConsumer(cfg.Kafka, consumerHandler, logger)
	if err := consumer.Start(ctx); err != nil {
		logger.Warn("kafka consumer start failed, profile sync will be unavailable", zap.Error(err))
	} else {
		defer consumer.Stop()
	}

	// Catalog sync: mirror document changes into the search index.
	if fsCatalog != nil {
		syncWorker := indexing.NewSyncWorker(esStore, redisCache, logger)
		go func() {
			if err := fsCatalog.Watch(ctx, syncWorker.HandleChange); err != nil && ctx.Err() == nil {
				logger.Error("catalog watch stopped", zap.Error(err))
			}
		}()
	}

	// HTTP server
	var popular api.PopularSource
	if chStore != nil {
		popular = chStore
	}
	handler := api.NewHandler(searchEngine, recEngine, tracker, popular, publisher, esStore, logger)

	healthHandler := api.NewHealthHandler(logger)
	healthHandler.Register("redis", redisCache)
	healthHandler.Register("elasticsearch", esStore)
	if chStore != nil {
		healthHandler.Register("clickhouse", chStore)
	}
	if fsCatalog != nil {
		healthHandler.Register("firestore", fsCatalog)
	}
	healthHandler.Register("kafka", consumer)

	router := api.NewRouter(handler, healthHandler, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	cancel()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
