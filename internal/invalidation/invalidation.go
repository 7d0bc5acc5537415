// Package invalidation broadcasts emitter-key invalidation events over
// Kafka so that a write on one instance of the service evicts that
// key's cache entry on every other instance.
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/kafka-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/cache"
	"github.com/dogwalking/geoloc-service/internal/domain"
)

// Event is the wire shape of one invalidation broadcast.
type Event struct {
	Kind domain.EmitterKind `json:"kind"`
	Key  string             `json:"key"`
}

// Publisher produces invalidation events after the aggregation worker
// commits an upsert batch.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

func NewPublisher(brokers []string, topic string, logger *zap.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("building kafka invalidation producer: %w", err)
	}
	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// PublishMany emits one invalidation event per touched emitter key.
// Delivery is best-effort: a failed publish only delays eviction on
// remote instances until their own cache entry's TTL expires, it never
// corrupts the underlying aggregate — the upsert is already committed
// to storage before this is called.
func (p *Publisher) PublishMany(ctx context.Context, kind domain.EmitterKind, keys []string) {
	for _, key := range keys {
		ev := Event{Kind: kind, Key: key}
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		record := &kgo.Record{Topic: p.topic, Key: []byte(key), Value: b}
		p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
			if err != nil {
				p.logger.Warn("invalidation publish failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

func (p *Publisher) Close() {
	p.client.Close()
}

// Consumer applies remote invalidation events to a local EmitterCache.
// Run as its own goroutine (or its own binary, cmd/cache-invalidator)
// so a cache-only process can run independently of the HTTP/worker
// process.
type Consumer struct {
	client *kgo.Client
	cache  *cache.EmitterCache
	logger *zap.Logger
}

func NewConsumer(brokers []string, topic, group string, c *cache.EmitterCache, logger *zap.Logger) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumerGroup(group),
	)
	if err != nil {
		return nil, fmt.Errorf("building kafka invalidation consumer: %w", err)
	}
	return &Consumer{client: client, cache: c, logger: logger}, nil
}

// Run polls until ctx is canceled, applying every fetched event to the
// local cache.
func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			c.client.Close()
			return
		}
		fetches := c.client.PollFetches(ctx)
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.logger.Warn("invalidation fetch error", zap.Error(e.Err))
			}
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			var ev Event
			if err := json.Unmarshal(rec.Value, &ev); err != nil {
				c.logger.Warn("invalidation event decode failed", zap.Error(err))
				return
			}
			c.cache.Invalidate(ctx, ev.Kind, ev.Key)
		})
	}
}
