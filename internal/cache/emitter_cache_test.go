package cache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/domain"
	"github.com/dogwalking/geoloc-service/internal/metrics"
)

func TestEmitterCache_MissFallsThroughToLoader(t *testing.T) {
	calls := 0
	loader := func(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error) {
		calls++
		out := map[string]domain.EmitterAggregate{}
		for _, k := range keys {
			out[k] = domain.EmitterAggregate{Lat: 1, Lon: 2}
		}
		return out, nil
	}
	c, err := New(nil, time.Minute, 100, loader, metrics.New(), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := c.GetMany(context.Background(), domain.KindWifi, []string{"aa"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result) != 1 || result["aa"].Lat != 1 {
		t.Fatalf("expected loaded aggregate, got %+v", result)
	}
	if calls != 1 {
		t.Fatalf("expected loader called once, got %d", calls)
	}
}

func TestEmitterCache_SecondLookupHitsLocalLRU(t *testing.T) {
	calls := 0
	loader := func(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error) {
		calls++
		out := map[string]domain.EmitterAggregate{}
		for _, k := range keys {
			out[k] = domain.EmitterAggregate{Lat: 1, Lon: 2}
		}
		return out, nil
	}
	c, err := New(nil, time.Minute, 100, loader, metrics.New(), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.GetMany(context.Background(), domain.KindWifi, []string{"aa"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.GetMany(context.Background(), domain.KindWifi, []string{"aa"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected loader called once across both lookups, got %d", calls)
	}
}

func TestEmitterCache_InvalidateEvictsLocalEntry(t *testing.T) {
	calls := 0
	loader := func(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error) {
		calls++
		out := map[string]domain.EmitterAggregate{}
		for _, k := range keys {
			out[k] = domain.EmitterAggregate{Lat: 1, Lon: 2}
		}
		return out, nil
	}
	c, err := New(nil, time.Minute, 100, loader, metrics.New(), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.GetMany(context.Background(), domain.KindWifi, []string{"aa"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Invalidate(context.Background(), domain.KindWifi, "aa")
	if _, err := c.GetMany(context.Background(), domain.KindWifi, []string{"aa"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected loader called again after invalidation, got %d", calls)
	}
}

func TestCacheKey_NamespacesByKind(t *testing.T) {
	a := cacheKey(domain.KindWifi, "aa")
	b := cacheKey(domain.KindBluetooth, "aa")
	if a == b {
		t.Fatalf("expected different cache keys for different kinds sharing a raw key, got %q and %q", a, b)
	}
}
