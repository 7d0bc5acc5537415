// Command cache-invalidator runs the emitter cache invalidation
// consumer as a standalone process, separate from the ingestion and
// locate HTTP server. Running it out-of-process lets the Kafka
// consumer group scale independently of request-serving replicas
// while still keeping every replica's Redis tier consistent.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/cache"
	"github.com/dogwalking/geoloc-service/internal/config"
	"github.com/dogwalking/geoloc-service/internal/domain"
	"github.com/dogwalking/geoloc-service/internal/invalidation"
	"github.com/dogwalking/geoloc-service/internal/logging"
	"github.com/dogwalking/geoloc-service/internal/metrics"
)

const localCacheSize = 1 // this process never serves GetMany, only Invalidate

func main() {
	logger, err := logging.New(false)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", zap.Error(err))
		os.Exit(1)
	}
	if len(cfg.KafkaBrokers) == 0 {
		logger.Error("KAFKA_BROKERS must be set to run the cache invalidator")
		os.Exit(1)
	}

	m := metrics.New()
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()

	// No Emitter Store is wired here: this process only evicts, it
	// never resolves a miss, so GetMany is unreachable and the loader
	// exists purely to satisfy cache.New's signature.
	noopLoad := func(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error) {
		return nil, errors.New("cache-invalidator does not serve lookups")
	}

	emitterCache, err := cache.New(redisClient, cfg.CacheTTL, localCacheSize, noopLoad, m, logger)
	if err != nil {
		logger.Error("failed to construct emitter cache", zap.Error(err))
		os.Exit(1)
	}

	consumer, err := invalidation.NewConsumer(cfg.KafkaBrokers, cfg.InvalidationTopic, "geoloc-cache-invalidator", emitterCache, logger)
	if err != nil {
		logger.Error("failed to construct invalidation consumer", zap.Error(err))
		os.Exit(2)
	}

	logger.Info("cache invalidator starting",
		zap.String("brokers", strings.Join(cfg.KafkaBrokers, ",")),
		zap.String("topic", cfg.InvalidationTopic),
	)

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		logger.Info("caught signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	consumer.Run(ctx)
	logger.Info("cache invalidator stopped")
}
