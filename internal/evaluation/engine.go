// Package evaluation implements C6: for every tick, resolve the rules that
// depend on its symbol and evaluate their combined predicate set against
// C1/C2/C3, handing admitted firings to ThrottleGate (C7) and TriggerBus
// (C9). Its dispatch shape follows the dispatch-to-single-writer idiom used
// throughout this engine (supervisor.Supervisor's goroutine-per-worker pool,
// generalized here to a goroutine-per-shard pool).
package evaluation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/alertindex"
	"github.com/p9labs/alertengine/internal/candlestore"
	"github.com/p9labs/alertengine/internal/domain"
	"github.com/p9labs/alertengine/internal/pricecache"
	"github.com/p9labs/alertengine/internal/throttle"
	"github.com/p9labs/alertengine/internal/triggerbus"
)

// SkipReason names why a rule was not evaluated to completion. evaluateOne
// does not record these values, and the HTTP status endpoint does not report
// them: it derives its warm-up state from CandleStore directly.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipInactive   SkipReason = "inactive"
	SkipWarmingUp  SkipReason = "warming_up"
	SkipSuppressed SkipReason = "suppressed_this_bucket"
)

// Engine is the C6 EvaluationEngine.
type Engine struct {
	logger  *zap.Logger
	cache   *pricecache.PriceCache
	candles *candlestore.Store
	index   *alertindex.Index
	gate    *throttle.Gate
	bus     *triggerbus.Bus

	warmupDepth int
	now         func() time.Time
}

// New builds an Engine wired to its collaborators. warmupDepth is the
// minimum closed-candle count a series must hold before any rule depending
// on it is evaluated.
func New(logger *zap.Logger, cache *pricecache.PriceCache, candles *candlestore.Store,
	index *alertindex.Index, gate *throttle.Gate, bus *triggerbus.Bus, warmupDepth int) *Engine {
	return &Engine{
		logger:      logger.Named("evaluation"),
		cache:       cache,
		candles:     candles,
		index:       index,
		gate:        gate,
		bus:         bus,
		warmupDepth: warmupDepth,
		now:         time.Now,
	}
}

// ProcessTick runs the full C6 algorithm for one tick: apply to C1, resolve
// rules from C4, evaluate and throttle each, publish admitted firings to C9.
func (e *Engine) ProcessTick(ctx context.Context, tick domain.TickEvent) error {
	notice, err := e.cache.Apply(tick)
	if err != nil {
		return err
	}
	e.appendClosedBuckets(notice.ClosedBuckets)

	rules := e.index.RulesFor(tick.Symbol)
	if len(rules) == 0 {
		return nil
	}

	rec, ok := e.cache.Get(tick.Symbol)
	if !ok {
		return nil
	}

	for _, rule := range rules {
		e.evaluateOne(ctx, rule, rec)
	}
	return nil
}

// appendClosedBuckets mirrors every newly rolled candle into CandleStore,
// the only writer C2 has (spec §4.1/§4.2 data flow).
func (e *Engine) appendClosedBuckets(closed []domain.ClosedBucket) {
	for _, cb := range closed {
		e.candles.Append(cb.Symbol, cb.Timeframe, cb.Candle)
	}
}

func (e *Engine) evaluateOne(ctx context.Context, rule domain.Rule, rec domain.PriceRecord) {
	if !rule.Active {
		return
	}

	for _, tf := range rule.DependsOnSeries() {
		if !e.candles.Ready(rule.Symbol, tf, e.warmupDepth) {
			return
		}
	}

	in := predicateInputs{rec: rec, symbol: rule.Symbol, candles: e.candles, warmup: e.warmupDepth}

	targetPass, snap := evalTarget(rule, in)
	if !targetPass {
		return
	}

	shapePass, shapeBucket, shapeSnap := evalCandleShape(rule, in)
	if !shapePass {
		return
	}
	if shapeSnap.Candle != nil {
		snap.Candle, snap.Shapes = shapeSnap.Candle, shapeSnap.Shapes
	}

	rsiPass, rsiOK, rsiSnap := evalRSI(rule, in)
	if !rsiOK {
		return // tie-break: indicator undefined for insufficient history, do not fire
	}
	if !rsiPass {
		return
	}
	snap.RSI, snap.PrevRSI = rsiSnap.RSI, rsiSnap.PrevRSI

	emaPass, emaOK, emaSnap := evalEMA(rule, in)
	if !emaOK {
		return
	}
	if !emaPass {
		return
	}
	snap.EMAFast, snap.EMASlow = emaSnap.EMAFast, emaSnap.EMASlow
	snap.PrevEMAFast, snap.PrevEMASlow = emaSnap.PrevEMAFast, emaSnap.PrevEMASlow

	volPass, volOK, volSnap := evalVolumeSpike(rule, in)
	if !volOK {
		return
	}
	if !volPass {
		return
	}
	snap.VolumeSpikeRatio = volSnap.VolumeSpikeRatio

	volumeGatePass, volumeGateSnap := evalMinDailyVolume(rule, in)
	snap.Volume24h = volumeGateSnap.Volume24h
	if !volumeGatePass {
		return
	}

	bucketOpenTime := shapeBucket
	if bucketOpenTime.IsZero() {
		bucketOpenTime = rule.Throttle.Timeframe.BucketOpenTime(e.now())
	}

	decision := domain.TriggerDecision{
		Rule:           rule,
		FiredAt:        e.now(),
		PriceAtFiring:  rec.LastPrice,
		BucketOpenTime: bucketOpenTime,
		Snapshot:       snap,
	}

	outcome, _ := e.gate.TryFire(rule, decision.FiredAt)
	if outcome != throttle.Admitted {
		return
	}

	if _, err := e.bus.Publish(ctx, decision); err != nil {
		e.logger.Error("failed to publish trigger event",
			zap.String("rule_id", string(rule.ID)), zap.Error(err))
	}
}

// HandleBucketRoll applies a C8 BucketRoll to C1/C2/C7, per spec §4.8. Safe
// to call once per shard for the same event: PriceCache.Roll and
// Gate.OnBucketRoll are both idempotent past the first caller to observe the
// new boundary.
func (e *Engine) HandleBucketRoll(tf domain.Timeframe, newOpenTime time.Time) {
	e.appendClosedBuckets(e.cache.Roll(tf, newOpenTime))
	e.gate.OnBucketRoll(tf, newOpenTime)
}
