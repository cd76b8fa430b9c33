package evaluation

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/alertindex"
	"github.com/p9labs/alertengine/internal/candlestore"
	"github.com/p9labs/alertengine/internal/domain"
	"github.com/p9labs/alertengine/internal/journal"
	"github.com/p9labs/alertengine/internal/pricecache"
	"github.com/p9labs/alertengine/internal/throttle"
	"github.com/p9labs/alertengine/internal/triggerbus"
)

type testHarness struct {
	engine *Engine
	bus    *triggerbus.Bus
	index  *alertindex.Index
	cache  *pricecache.PriceCache
	store  *candlestore.Store
	gate   *throttle.Gate
	cancel context.CancelFunc
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	j, err := journal.Open(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	bus := triggerbus.New(zap.NewNop(), j, nil)
	idx := alertindex.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go idx.Run(ctx)

	cache := pricecache.New(zap.NewNop(), []domain.Timeframe{domain.Timeframe1h, domain.Timeframe1d})
	store := candlestore.New(zap.NewNop(), 256)
	gate := throttle.New()

	eng := New(zap.NewNop(), cache, store, idx, gate, bus, 3)

	return &testHarness{engine: eng, bus: bus, index: idx, cache: cache, store: store, gate: gate, cancel: cancel}
}

func tick(symbol string, price float64, ts time.Time) domain.TickEvent {
	return domain.TickEvent{
		Symbol: domain.NewSymbol(symbol), Price: price, Volume: 1, Timestamp: ts, Volume24h: 1_000_000,
	}
}

func TestPriceLevelTargetFiresAndPublishes(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	rule := domain.Rule{
		ID: "r1", Symbol: domain.NewSymbol("btcusdt"), Active: true,
		Direction: domain.DirectionAbove,
		Target:    domain.Target{Kind: domain.TargetPriceLevel, Level: 100},
		Throttle:  domain.DefaultThrottle(),
	}
	h.index.Upsert(rule)

	subID, feed := h.bus.Subscribe()
	defer h.bus.Unsubscribe(subID)

	ctx := context.Background()
	now := time.Now().UTC()
	if err := h.engine.ProcessTick(ctx, tick("btcusdt", 101, now)); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	select {
	case event := <-feed:
		if event.RuleID != "r1" {
			t.Fatalf("want rule r1, got %s", event.RuleID)
		}
		if event.PriceAtFiring != 101 {
			t.Fatalf("want price 101, got %v", event.PriceAtFiring)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a trigger event")
	}
}

func TestPriceLevelTargetBelowThresholdDoesNotFire(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	rule := domain.Rule{
		ID: "r1", Symbol: domain.NewSymbol("btcusdt"), Active: true,
		Direction: domain.DirectionAbove,
		Target:    domain.Target{Kind: domain.TargetPriceLevel, Level: 1000},
		Throttle:  domain.DefaultThrottle(),
	}
	h.index.Upsert(rule)

	_, feed := h.bus.Subscribe()

	if err := h.engine.ProcessTick(context.Background(), tick("btcusdt", 101, time.Now().UTC())); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	select {
	case <-feed:
		t.Fatal("did not expect a trigger event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInactiveRuleSkipped(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	rule := domain.Rule{
		ID: "r1", Symbol: domain.NewSymbol("btcusdt"), Active: false,
		Direction: domain.DirectionAbove,
		Target:    domain.Target{Kind: domain.TargetPriceLevel, Level: 1},
		Throttle:  domain.DefaultThrottle(),
	}
	h.index.Upsert(rule)

	_, feed := h.bus.Subscribe()
	if err := h.engine.ProcessTick(context.Background(), tick("btcusdt", 101, time.Now().UTC())); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	select {
	case <-feed:
		t.Fatal("inactive rule must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRSIRuleSkippedUntilWarmedUp(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	rule := domain.Rule{
		ID: "r1", Symbol: domain.NewSymbol("btcusdt"), Active: true,
		Direction: domain.DirectionAbove,
		Target:    domain.Target{Kind: domain.TargetPriceLevel, Level: 1},
		RSI:       &domain.RSIRule{Timeframe: domain.Timeframe1h, Period: 14, Condition: domain.CondAbove, Level: 50},
		Throttle:  domain.DefaultThrottle(),
	}
	h.index.Upsert(rule)

	_, feed := h.bus.Subscribe()
	if err := h.engine.ProcessTick(context.Background(), tick("btcusdt", 101, time.Now().UTC())); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	select {
	case <-feed:
		t.Fatal("rule depending on un-warmed series must not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestThrottleSuppressesSecondFireInSameBucket(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	rule := domain.Rule{
		ID: "r1", Symbol: domain.NewSymbol("btcusdt"), Active: true,
		Direction: domain.DirectionAbove,
		Target:    domain.Target{Kind: domain.TargetPriceLevel, Level: 100},
		Throttle:  domain.ThrottleConfig{Timeframe: domain.Timeframe1h, MaxPerBucket: 1},
	}
	h.index.Upsert(rule)

	_, feed := h.bus.Subscribe()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := h.engine.ProcessTick(ctx, tick("btcusdt", 101, now)); err != nil {
		t.Fatalf("ProcessTick 1: %v", err)
	}
	select {
	case <-feed:
	case <-time.After(time.Second):
		t.Fatal("expected first trigger")
	}

	if err := h.engine.ProcessTick(ctx, tick("btcusdt", 102, now.Add(time.Second))); err != nil {
		t.Fatalf("ProcessTick 2: %v", err)
	}
	select {
	case <-feed:
		t.Fatal("second fire in the same throttle bucket must be suppressed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPercentTargetReferenceAtCreation(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	rule := domain.Rule{
		ID: "r1", Symbol: domain.NewSymbol("ethusdt"), Active: true,
		Direction: domain.DirectionAbove,
		Target: domain.Target{
			Kind: domain.TargetPercent, PercentValue: 5,
			BaselineMode: domain.BaselineReferenceAtCreation, ReferencePrice: 100,
		},
		Throttle: domain.DefaultThrottle(),
	}
	h.index.Upsert(rule)

	_, feed := h.bus.Subscribe()
	if err := h.engine.ProcessTick(context.Background(), tick("ethusdt", 106, time.Now().UTC())); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}
	select {
	case event := <-feed:
		if event.Snapshot.PercentChange < 5 {
			t.Fatalf("want percent change >= 5, got %v", event.Snapshot.PercentChange)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a trigger for a 6%% move past a 5%% threshold")
	}
}

func TestBucketRollResetsThrottle(t *testing.T) {
	h := newHarness(t)
	defer h.cancel()

	now := time.Now().UTC().Truncate(time.Hour)
	rule := domain.Rule{
		ID: "r1", Symbol: domain.NewSymbol("btcusdt"), Active: true,
		Direction: domain.DirectionAbove,
		Target:    domain.Target{Kind: domain.TargetPriceLevel, Level: 100},
		Throttle:  domain.ThrottleConfig{Timeframe: domain.Timeframe1h, MaxPerBucket: 1},
	}
	h.index.Upsert(rule)

	_, feed := h.bus.Subscribe()
	ctx := context.Background()

	if err := h.engine.ProcessTick(ctx, tick("btcusdt", 101, now)); err != nil {
		t.Fatalf("ProcessTick 1: %v", err)
	}
	<-feed

	h.engine.HandleBucketRoll(domain.Timeframe1h, now.Add(time.Hour))

	if err := h.engine.ProcessTick(ctx, tick("btcusdt", 102, now.Add(time.Hour+time.Minute))); err != nil {
		t.Fatalf("ProcessTick 2: %v", err)
	}
	select {
	case <-feed:
	case <-time.After(time.Second):
		t.Fatal("expected a trigger in the new throttle bucket after roll")
	}
}
