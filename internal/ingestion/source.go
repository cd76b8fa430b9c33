// Package ingestion implements C5: a resilient upstream tick feed. Source
// supervises a Connector with exponential backoff (the same
// calculateBackoff shape supervisor.Supervisor uses) wrapped in a gobreaker
// circuit breaker, and delivers into a bounded, per-symbol last-write-wins
// buffer so a slow consumer only ever sees stale ticks replaced by fresher
// ones rather than piling up a queue.
package ingestion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
	"github.com/p9labs/alertengine/internal/metrics"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
)

// Source drives a Connector to completion, reconnecting with backoff, and
// exposes the resulting tick stream through Next().
type Source struct {
	logger    *zap.Logger
	connector Connector
	symbols   []domain.Symbol
	breaker   *gobreaker.CircuitBreaker

	mu      sync.Mutex
	pending map[domain.Symbol]domain.TickEvent
	notify  chan struct{}

	dropped uint64
	metrics *metrics.Metrics
}

// NewSource wraps connector with reconnect/backoff and a circuit breaker
// around repeated connect failures: upstream errors are always transient,
// never fatal to the process. m may be nil.
func NewSource(logger *zap.Logger, connector Connector, symbols []domain.Symbol, m *metrics.Metrics) *Source {
	s := &Source{
		logger:    logger.Named("ingestion"),
		connector: connector,
		symbols:   symbols,
		pending:   make(map[domain.Symbol]domain.TickEvent),
		notify:    make(chan struct{}, 1),
		metrics:   m,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ingestion-" + connector.Name(),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     maxBackoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ingestion circuit breaker state change",
				zap.String("connector", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if m != nil {
				connected := 0.0
				if to == gobreaker.StateClosed {
					connected = 1.0
				}
				m.UpstreamConnected.WithLabelValues(connector.Name()).Set(connected)
			}
		},
	})
	return s
}

// Run drives the supervised reconnect loop until ctx is canceled.
func (s *Source) Run(ctx context.Context) {
	raw := make(chan domain.TickEvent, 4096)
	go s.pump(ctx, raw)

	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}

		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.connector.Run(ctx, s.symbols, raw)
		})

		if ctx.Err() != nil {
			return
		}

		retries++
		backoff := calculateBackoff(retries)
		s.logger.Warn("ingestion connector stopped, reconnecting",
			zap.String("connector", s.connector.Name()), zap.Error(err), zap.Duration("backoff", backoff))
		if s.metrics != nil {
			s.metrics.UpstreamReconnects.WithLabelValues(s.connector.Name()).Inc()
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

func calculateBackoff(retries int) time.Duration {
	backoff := initialBackoff
	for i := 0; i < retries-1; i++ {
		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

// pump drains raw ticks from the active connector into the per-symbol
// coalescing buffer.
func (s *Source) pump(ctx context.Context, raw <-chan domain.TickEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-raw:
			s.deliver(tick)
		}
	}
}

func (s *Source) deliver(tick domain.TickEvent) {
	s.mu.Lock()
	if _, exists := s.pending[tick.Symbol]; exists {
		atomic.AddUint64(&s.dropped, 1)
		if s.metrics != nil {
			s.metrics.TicksDropped.WithLabelValues(s.connector.Name()).Inc()
		}
	}
	s.pending[tick.Symbol] = tick
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TicksIngested.WithLabelValues(s.connector.Name()).Inc()
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a tick is available or ctx is canceled, returning one
// arbitrary pending symbol's latest tick (order across symbols is
// unspecified; within a symbol, delivery is always the most recent).
func (s *Source) Next(ctx context.Context) (domain.TickEvent, bool) {
	for {
		s.mu.Lock()
		var symbol domain.Symbol
		var tick domain.TickEvent
		found := false
		for sym, t := range s.pending {
			symbol, tick, found = sym, t, true
			break
		}
		if found {
			delete(s.pending, symbol)
		}
		s.mu.Unlock()

		if found {
			return tick, true
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return domain.TickEvent{}, false
		}
	}
}

// Dropped reports how many ticks were superseded before being consumed.
func (s *Source) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}
