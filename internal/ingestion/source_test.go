package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
)

type fakeConnector struct {
	name string
	runs chan func(ctx context.Context, out chan<- domain.TickEvent) error
}

func (f *fakeConnector) Name() string { return f.name }

func (f *fakeConnector) Run(ctx context.Context, _ []domain.Symbol, out chan<- domain.TickEvent) error {
	select {
	case fn := <-f.runs:
		return fn(ctx, out)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSourceDeliversTicks(t *testing.T) {
	fc := &fakeConnector{name: "fake", runs: make(chan func(context.Context, chan<- domain.TickEvent) error, 1)}
	s := NewSource(zap.NewNop(), fc, []domain.Symbol{domain.NewSymbol("btcusdt")}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	fc.runs <- func(ctx context.Context, out chan<- domain.TickEvent) error {
		out <- domain.TickEvent{Symbol: domain.NewSymbol("btcusdt"), Price: 100}
		<-ctx.Done()
		return ctx.Err()
	}

	tick, ok := s.Next(ctx)
	if !ok {
		t.Fatal("expected a tick")
	}
	if tick.Price != 100 {
		t.Fatalf("want price 100, got %v", tick.Price)
	}
}

func TestSourceCoalescesSameSymbolLastWriteWins(t *testing.T) {
	s := NewSource(zap.NewNop(), &fakeConnector{name: "fake", runs: make(chan func(context.Context, chan<- domain.TickEvent) error, 1)},
		nil, nil)

	sym := domain.NewSymbol("ethusdt")
	s.deliver(domain.TickEvent{Symbol: sym, Price: 1})
	s.deliver(domain.TickEvent{Symbol: sym, Price: 2})
	s.deliver(domain.TickEvent{Symbol: sym, Price: 3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tick, ok := s.Next(ctx)
	if !ok {
		t.Fatal("expected a tick")
	}
	if tick.Price != 3 {
		t.Fatalf("want last-write-wins price 3, got %v", tick.Price)
	}
	if s.Dropped() != 2 {
		t.Fatalf("want 2 dropped, got %d", s.Dropped())
	}
}

func TestSourceNextBlocksUntilCanceled(t *testing.T) {
	s := NewSource(zap.NewNop(), &fakeConnector{name: "fake", runs: make(chan func(context.Context, chan<- domain.TickEvent) error, 1)},
		nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	var ok bool
	go func() {
		defer wg.Done()
		_, ok = s.Next(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()
	if ok {
		t.Fatal("expected Next to return ok=false on cancellation")
	}
}

func TestCalculateBackoffCapsAtMax(t *testing.T) {
	b := calculateBackoff(100)
	if b != maxBackoff {
		t.Fatalf("want backoff capped at %v, got %v", maxBackoff, b)
	}
	b1 := calculateBackoff(1)
	if b1 != initialBackoff {
		t.Fatalf("want first backoff == initial, got %v", b1)
	}
}
