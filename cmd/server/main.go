// Command server is the entry point for the geolocation inference
// service: ingestion and locate HTTP endpoints backed by the
// partitioned report log, plus a background aggregation worker and
// partition lifecycle manager.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/aggregation"
	"github.com/dogwalking/geoloc-service/internal/cache"
	"github.com/dogwalking/geoloc-service/internal/config"
	"github.com/dogwalking/geoloc-service/internal/handlers"
	"github.com/dogwalking/geoloc-service/internal/inference"
	"github.com/dogwalking/geoloc-service/internal/invalidation"
	"github.com/dogwalking/geoloc-service/internal/logging"
	"github.com/dogwalking/geoloc-service/internal/metrics"
	"github.com/dogwalking/geoloc-service/internal/repository"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	defaultRateLimit       = 200.0 // requests/second
	partitionCheckInterval = time.Hour
	workerPollInterval     = 2 * time.Second
	localCacheSize         = 100_000
)

func main() {
	logger, err := logging.New(false)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting geolocation inference service")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", zap.Error(err))
		os.Exit(1)
	}

	m := metrics.New()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to construct storage pool", zap.Error(err))
		os.Exit(2)
	}
	if err := pool.Ping(context.Background()); err != nil {
		logger.Error("storage unreachable at startup", zap.Error(err))
		os.Exit(2)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	reportLog := repository.NewPgReportLog(pool, logger)
	partitionMgr := repository.NewPartitionManager(pool, logger)
	emitterStore := repository.NewPgEmitterStore(pool, logger)
	coarseCells := repository.NewPgCoarseCellDataset(pool, logger)

	emitterCache, err := cache.New(redisClient, cfg.CacheTTL, localCacheSize, emitterStore.GetMany, m, logger)
	if err != nil {
		logger.Error("failed to construct emitter cache", zap.Error(err))
		os.Exit(1)
	}

	// inval is left as a true nil interface when Kafka isn't configured
	// or fails to construct: assigning a nil *invalidation.Publisher to
	// it directly would produce a non-nil interface value, breaking the
	// worker's `invalidator != nil` check.
	var inval aggregation.Invalidator
	var shutdownKafka func()
	if len(cfg.KafkaBrokers) > 0 {
		publisher, pubErr := invalidation.NewPublisher(cfg.KafkaBrokers, cfg.InvalidationTopic, logger)
		if pubErr != nil {
			logger.Warn("invalidation publisher unavailable, cache will rely on TTL alone", zap.Error(pubErr))
		} else {
			consumer, consumerErr := invalidation.NewConsumer(cfg.KafkaBrokers, cfg.InvalidationTopic, "geoloc-service", emitterCache, logger)
			if consumerErr != nil {
				logger.Warn("invalidation consumer unavailable, cache will rely on TTL alone", zap.Error(consumerErr))
			} else {
				inval = publisher
				consumerCtx, cancel := context.WithCancel(context.Background())
				go consumer.Run(consumerCtx)
				shutdownKafka = func() {
					cancel()
					publisher.Close()
				}
			}
		}
	}

	worker := aggregation.New(reportLog, emitterStore, inval, cfg.WorkerBatch, cfg.GNSSMaxAccuracyM, m, logger)
	engine := inference.New(emitterCache, coarseCells, m)

	outcomes := handlers.NewOutcomeLog()
	locateHandler := handlers.NewLocateHandler(engine, m, logger)
	reportHandler := handlers.NewReportHandler(reportLog, m, logger, false, outcomes)
	geosubmitHandler := handlers.NewReportHandler(reportLog, m, logger, true, outcomes)
	adminHandler := handlers.NewAdminHandler(reportLog, m, logger, outcomes)

	router := handlers.NewRouter(locateHandler, reportHandler, geosubmitHandler, adminHandler, m, logger, cfg.AuthToken, defaultRateLimit)

	httpServer := &http.Server{Addr: cfg.BindAddr, Handler: router}

	// Graceful shutdown drains the worker pool in addition to the HTTP
	// server: a half-processed batch should finish or roll back cleanly
	// rather than being torn down mid-transaction.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	var workerWG sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			worker.RunForever(workerCtx, workerPollInterval)
		}()
	}

	if err := partitionMgr.EnsureForward(context.Background(), cfg.PartitionHorizonDays); err != nil {
		logger.Warn("initial partition ensure failed", zap.Error(err))
	}
	partitionTicker := time.NewTicker(partitionCheckInterval)
	go func() {
		for {
			select {
			case <-workerCtx.Done():
				partitionTicker.Stop()
				return
			case <-partitionTicker.C:
				if err := partitionMgr.EnsureForward(workerCtx, cfg.PartitionHorizonDays); err != nil {
					logger.Warn("partition ensure failed", zap.Error(err))
				}
				if err := partitionMgr.DropExpired(workerCtx, cfg.RetainDays, true); err != nil {
					logger.Warn("partition drop failed", zap.Error(err))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("http server listening", zap.String("address", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	sig := <-quit
	logger.Info("caught signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	cancelWorkers()
	workerWG.Wait()

	if shutdownKafka != nil {
		shutdownKafka()
	}

	logger.Info("shutdown complete")
}
