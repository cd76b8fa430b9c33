package evaluation

import (
	"math"
	"time"

	"github.com/p9labs/alertengine/internal/candlestore"
	"github.com/p9labs/alertengine/internal/domain"
	"github.com/p9labs/alertengine/internal/indicator"
)

// predicateInputs bundles the read-only state evaluateOne needs, gathered
// once per tick so every predicate function works off a consistent view.
type predicateInputs struct {
	rec      domain.PriceRecord
	symbol   domain.Symbol
	candles  *candlestore.Store
	warmup   int
}

// evalOutcome accumulates the AND-combination result and the fields that
// belong in the TriggerDecision's PredicateSnapshot.
type evalOutcome struct {
	fire           bool
	undefined      bool
	bucketOpenTime time.Time
	snapshot       domain.PredicateSnapshot
}

// evalTarget applies rule.Target against the current price, per spec §4.6.a.
func evalTarget(rule domain.Rule, in predicateInputs) (pass bool, snap domain.PredicateSnapshot) {
	current := in.rec.LastPrice
	snap.Price = current

	switch rule.Target.Kind {
	case domain.TargetPriceLevel:
		level := rule.Target.Level
		switch rule.Direction {
		case domain.DirectionAbove:
			pass = current >= level
		case domain.DirectionBelow:
			pass = current <= level
		default:
			pass = current >= level || current <= level
		}
		return pass, snap

	case domain.TargetPercent:
		baseline := rule.Target.ReferencePrice
		if rule.Target.BaselineMode == domain.BaselineCurrentCandleOpen {
			cur, ok := in.rec.Candles[rule.Target.BaselineTimeframe]
			if !ok {
				return false, snap
			}
			baseline = cur.Open
		}
		if baseline == 0 {
			return false, snap
		}
		pctChange := (current - baseline) / baseline * 100
		snap.ReferencePrice = baseline
		snap.PercentChange = pctChange

		abs := math.Abs(pctChange)
		if abs < rule.Target.PercentValue {
			return false, snap
		}
		switch rule.Direction {
		case domain.DirectionAbove:
			pass = pctChange > 0
		case domain.DirectionBelow:
			pass = pctChange < 0
		default:
			pass = true
		}
		return pass, snap
	}

	return false, snap
}

// evalCandleShape requires rule.CandleShape.Shape to classify on the current
// candle of every configured timeframe, reporting the earliest such bucket's
// openTime. The engine records it as the TriggerDecision's BucketOpenTime;
// ThrottleGate keys its counter on the firing time aligned to the rule's
// throttle timeframe, not on this value.
func evalCandleShape(rule domain.Rule, in predicateInputs) (pass bool, bucketOpenTime time.Time, snap domain.PredicateSnapshot) {
	cfg := rule.CandleShape
	if cfg == nil {
		return true, time.Time{}, snap
	}

	for _, tf := range cfg.Timeframes {
		cur, ok := in.rec.Candles[tf]
		if !ok {
			return false, time.Time{}, snap
		}
		candle := cur.Closed()
		shapes := indicator.ClassifyShape(candle, cur.Open)
		matched := false
		for _, s := range shapes {
			if s == cfg.Shape {
				matched = true
				break
			}
		}
		if !matched {
			return false, time.Time{}, snap
		}
		if bucketOpenTime.IsZero() || cur.OpenTime.Before(bucketOpenTime) {
			bucketOpenTime = cur.OpenTime
			snap.Candle = &candle
			snap.Shapes = shapes
		}
	}
	return true, bucketOpenTime, snap
}

// evalRSI computes current and, for crossing conditions, previous RSI from
// the last period+2 closed candles (spec §4.6.c: "previous vs current RSI
// using the last candle excluded vs included").
func evalRSI(rule domain.Rule, in predicateInputs) (pass, ok bool, snap domain.PredicateSnapshot) {
	cfg := rule.RSI
	if cfg == nil {
		return true, true, snap
	}
	if !in.candles.Ready(in.symbol, cfg.Timeframe, cfg.Period+1) {
		return false, false, snap
	}

	// Fetch period+2 so a crossing condition can drop the last candle and
	// still have period+1 left for the previous-value RSI (spec §4.6.c).
	closes := indicator.Closes(in.candles.Last(in.symbol, cfg.Timeframe, cfg.Period+2))
	curr, okCurr := indicator.RSI(closes, cfg.Period)
	if !okCurr {
		return false, false, snap
	}
	snap.RSI = &curr

	switch cfg.Condition {
	case domain.CondAbove:
		return curr > cfg.Level, true, snap
	case domain.CondBelow:
		return curr < cfg.Level, true, snap
	case domain.CondCrossingUp, domain.CondCrossingDown:
		if len(closes) < 2 {
			return false, false, snap
		}
		prev, okPrev := indicator.RSI(closes[:len(closes)-1], cfg.Period)
		if !okPrev {
			return false, false, snap
		}
		snap.PrevRSI = &prev
		if cfg.Condition == domain.CondCrossingUp {
			return prev < cfg.Level && cfg.Level <= curr, true, snap
		}
		return prev > cfg.Level && cfg.Level >= curr, true, snap
	}
	return false, false, snap
}

// evalEMA computes fast/slow EMA (and their previous values for crossings).
func evalEMA(rule domain.Rule, in predicateInputs) (pass, ok bool, snap domain.PredicateSnapshot) {
	cfg := rule.EMA
	if cfg == nil {
		return true, true, snap
	}
	minHistory := cfg.SlowPeriod
	if cfg.FastPeriod > minHistory {
		minHistory = cfg.FastPeriod
	}
	if !in.candles.Ready(in.symbol, cfg.Timeframe, minHistory) {
		return false, false, snap
	}

	closes := indicator.Closes(in.candles.Last(in.symbol, cfg.Timeframe, minHistory+1))
	fast, okFast := indicator.EMA(closes, cfg.FastPeriod)
	slow, okSlow := indicator.EMA(closes, cfg.SlowPeriod)
	if !okFast || !okSlow {
		return false, false, snap
	}
	snap.EMAFast, snap.EMASlow = &fast, &slow

	switch cfg.Condition {
	case domain.CondAbove:
		return fast > slow, true, snap
	case domain.CondBelow:
		return fast < slow, true, snap
	case domain.CondCrossingUp, domain.CondCrossingDown:
		if len(closes) < 2 {
			return false, false, snap
		}
		prevFast, okPF := indicator.EMA(closes[:len(closes)-1], cfg.FastPeriod)
		prevSlow, okPS := indicator.EMA(closes[:len(closes)-1], cfg.SlowPeriod)
		if !okPF || !okPS {
			return false, false, snap
		}
		snap.PrevEMAFast, snap.PrevEMASlow = &prevFast, &prevSlow
		if cfg.Condition == domain.CondCrossingUp {
			return prevFast <= prevSlow && fast > slow, true, snap
		}
		return prevFast >= prevSlow && fast < slow, true, snap
	}
	return false, false, snap
}

// evalVolumeSpike compares the live current-bucket volume against the moving
// average of the preceding closed window (spec §4.6.c, §4.3).
func evalVolumeSpike(rule domain.Rule, in predicateInputs) (pass, ok bool, snap domain.PredicateSnapshot) {
	cfg := rule.VolumeSpike
	if cfg == nil {
		return true, true, snap
	}
	if !in.candles.Ready(in.symbol, cfg.Timeframe, cfg.Window) {
		return false, false, snap
	}

	cur, exists := in.rec.Candles[cfg.Timeframe]
	if !exists {
		return false, false, snap
	}
	closed := in.candles.Last(in.symbol, cfg.Timeframe, cfg.Window)
	ratio, defined := indicator.VolumeSpikeRatio(cur.Volume, indicator.Volumes(closed), cfg.Window)
	if !defined {
		return false, false, snap
	}
	snap.VolumeSpikeRatio = &ratio
	return ratio >= cfg.Multiplier, true, snap
}

// evalMinDailyVolume gates on the 24h rolling volume tracked in PriceCache.
func evalMinDailyVolume(rule domain.Rule, in predicateInputs) (pass bool, snap domain.PredicateSnapshot) {
	snap.Volume24h = in.rec.Volume24h
	if rule.MinDailyVolume == nil {
		return true, snap
	}
	return in.rec.Volume24h >= *rule.MinDailyVolume, snap
}
