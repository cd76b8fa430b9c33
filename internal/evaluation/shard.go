package evaluation

import (
	"context"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
)

// rollEvent carries a BoundaryScheduler BucketRoll through a shard's queue.
type rollEvent struct {
	timeframe domain.Timeframe
	openTime  time.Time
}

// shardJob is a shard queue element: exactly one of tick or roll is set.
type shardJob struct {
	tick *domain.TickEvent
	roll *rollEvent
}

// Router fans ticks out to a fixed pool of per-shard single-writer queues,
// one goroutine per shard, giving every symbol a stable home worker for the
// lifetime of the process: the same one-goroutine-per-worker shape as
// supervisor.Supervisor, generalized from named workers to a hashed shard
// pool since workers here are keyed by symbol hash, not by name.
type Router struct {
	logger *zap.Logger
	engine *Engine
	shards []chan shardJob
}

// NewRouter creates a Router with numShards queues, each buffered to
// queueDepth, draining into engine.
func NewRouter(logger *zap.Logger, engine *Engine, numShards, queueDepth int) *Router {
	if numShards < 1 {
		numShards = 1
	}
	r := &Router{
		logger: logger.Named("evaluation.router"),
		engine: engine,
		shards: make([]chan shardJob, numShards),
	}
	for i := range r.shards {
		r.shards[i] = make(chan shardJob, queueDepth)
	}
	return r
}

// Run starts one worker goroutine per shard queue, returning once ctx is
// canceled and every worker has exited.
func (r *Router) Run(ctx context.Context) {
	done := make(chan struct{}, len(r.shards))
	for i := range r.shards {
		go r.runShard(ctx, i, done)
	}
	for range r.shards {
		<-done
	}
}

func (r *Router) runShard(ctx context.Context, idx int, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	queue := r.shards[idx]
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-queue:
			r.process(ctx, j)
		}
	}
}

func (r *Router) process(ctx context.Context, j shardJob) {
	switch {
	case j.tick != nil:
		if err := r.engine.ProcessTick(ctx, *j.tick); err != nil {
			r.logger.Warn("tick processing failed",
				zap.String("symbol", j.tick.Symbol.String()), zap.Error(err))
		}
	case j.roll != nil:
		r.engine.HandleBucketRoll(j.roll.timeframe, j.roll.openTime)
	}
}

// RouteTick enqueues tick onto the shard owning its symbol. If that shard's
// queue is full, the incoming tick is dropped with a log warning and the
// ticks already queued are kept.
func (r *Router) RouteTick(tick domain.TickEvent) {
	idx := shardIndex(tick.Symbol, len(r.shards))
	select {
	case r.shards[idx] <- shardJob{tick: &tick}:
	default:
		r.logger.Warn("dropping tick: shard queue full",
			zap.String("symbol", tick.Symbol.String()), zap.Int("shard", idx))
	}
}

// BroadcastBucketRoll pushes the same BucketRoll onto every shard's queue so
// each shard observes it before its next tick for any bucket that aligns to
// newOpenTime (spec §4.8's cross-shard ordering requirement). PriceCache.Roll
// and Gate.OnBucketRoll are both idempotent past the first shard to process
// the event, so the broadcast never double-applies the rollover.
func (r *Router) BroadcastBucketRoll(tf domain.Timeframe, newOpenTime time.Time) {
	for i, q := range r.shards {
		ev := rollEvent{timeframe: tf, openTime: newOpenTime}
		select {
		case q <- shardJob{roll: &ev}:
		default:
			r.logger.Warn("dropping bucket roll: shard queue full",
				zap.String("timeframe", string(tf)), zap.Int("shard", i))
		}
	}
}

// NumShards reports the configured shard count, for diagnostics/tests.
func (r *Router) NumShards() int {
	return len(r.shards)
}

// shardIndex maps a symbol to a stable shard index via FNV-1a, giving every
// symbol a fixed home worker so per-symbol tick order is preserved (spec
// §4.6's "within a symbol... non-decreasing firedAt order").
func shardIndex(symbol domain.Symbol, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol.String()))
	return int(h.Sum32() % uint32(n))
}
