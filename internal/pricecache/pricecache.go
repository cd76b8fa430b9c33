// Package pricecache implements C1: the authoritative, single-writer-per-symbol
// last-known state for every symbol, applying the same bucket-rollover logic
// a candle generator would apply to trades, generalized here to mini-ticker
// ticks and to every configured timeframe at once.
package pricecache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/apperrors"
	"github.com/p9labs/alertengine/internal/domain"
)

// PriceCache is the canonical Symbol -> PriceRecord map (C1).
//
// Concurrency contract: Apply must only ever be called for a given symbol from
// the shard worker that owns it (see internal/evaluation.Router); Get and
// GetCandle may be called concurrently from any goroutine and always observe a
// consistent snapshot.
type PriceCache struct {
	logger     *zap.Logger
	timeframes []domain.Timeframe

	mu      sync.RWMutex
	records map[domain.Symbol]*domain.PriceRecord

	outOfOrderDropped uint64
}

// New creates a PriceCache tracking the given set of timeframes for every symbol.
func New(logger *zap.Logger, timeframes []domain.Timeframe) *PriceCache {
	return &PriceCache{
		logger:     logger.Named("pricecache"),
		timeframes: timeframes,
		records:    make(map[domain.Symbol]*domain.PriceRecord),
	}
}

// Apply folds one tick into the symbol's PriceRecord, rolling over any
// timeframe bucket the tick's timestamp has moved past. Returns the resulting
// MutationNotice, or an apperrors.KindOutOfOrderTick error if the tick is
// older than any current bucket's last applied tick timestamp (spec §4.1
// failure semantics, spec §8 scenario S6: out-of-order ticks are rejected
// against the latest tick actually folded into the bucket, not just its
// fixed openTime, so a stale tick can't corrupt high/low mid-bucket).
func (pc *PriceCache) Apply(tick domain.TickEvent) (domain.MutationNotice, error) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	rec, exists := pc.records[tick.Symbol]
	if !exists {
		rec = &domain.PriceRecord{
			Symbol:  tick.Symbol,
			Candles: make(map[domain.Timeframe]domain.CurrentCandle),
		}
		pc.records[tick.Symbol] = rec
	}

	for _, tf := range pc.timeframes {
		if cur, ok := rec.Candles[tf]; ok && tick.Timestamp.Before(cur.LastTickTime) {
			pc.outOfOrderDropped++
			pc.logger.Warn("dropping out-of-order tick",
				zap.String("symbol", tick.Symbol.String()),
				zap.String("timeframe", string(tf)),
				zap.Time("tick_ts", tick.Timestamp),
				zap.Time("bucket_last_tick", cur.LastTickTime),
			)
			return domain.MutationNotice{}, apperrors.New(apperrors.KindOutOfOrderTick, nil)
		}
	}

	priceBefore := rec.LastPrice
	var closed []domain.ClosedBucket

	for _, tf := range pc.timeframes {
		cur, ok := rec.Candles[tf]
		alignedOpen := tf.BucketOpenTime(tick.Timestamp)

		switch {
		case !ok:
			rec.Candles[tf] = domain.NewCurrentCandle(tf, tick.Timestamp, tick.Price, tick.Volume)
		case alignedOpen.After(cur.OpenTime):
			closed = append(closed, domain.ClosedBucket{Symbol: tick.Symbol, Timeframe: tf, Candle: cur.Closed()})
			rec.Candles[tf] = domain.NewCurrentCandle(tf, tick.Timestamp, tick.Price, tick.Volume)
		default:
			cur.Extend(tick.Price, tick.Volume, tick.Timestamp)
			rec.Candles[tf] = cur
		}
	}

	rec.LastPrice = tick.Price
	rec.LastVolume = tick.Volume
	rec.LastUpdate = tick.Timestamp
	rec.Open24h = tick.Open24h
	rec.High24h = tick.High24h
	rec.Low24h = tick.Low24h
	rec.Volume24h = tick.Volume24h
	rec.PercentChg24h = tick.PercentChg24
	rec.Version++

	return domain.MutationNotice{
		Symbol:        tick.Symbol,
		PriceBefore:   priceBefore,
		PriceAfter:    tick.Price,
		Version:       rec.Version,
		ClosedBuckets: closed,
	}, nil
}

// Get returns a consistent snapshot of the symbol's PriceRecord, if present.
func (pc *PriceCache) Get(symbol domain.Symbol) (domain.PriceRecord, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	rec, ok := pc.records[symbol]
	if !ok {
		return domain.PriceRecord{}, false
	}
	return rec.Clone(), true
}

// GetCandle returns a snapshot of the symbol's current bucket for timeframe tf.
func (pc *PriceCache) GetCandle(symbol domain.Symbol, tf domain.Timeframe) (domain.CurrentCandle, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	rec, ok := pc.records[symbol]
	if !ok {
		return domain.CurrentCandle{}, false
	}
	cur, ok := rec.Candles[tf]
	return cur, ok
}

// Roll forces a bucket rollover for every symbol's timeframe tf, carrying the
// bucket forward flat (O=H=L=C=lastPrice, V=0) when no tick landed in it.
// Called through EvaluationEngine.HandleBucketRoll on every BucketRoll from
// BoundaryScheduler (C8), so a quiet symbol still
// gets a new bucket exactly at the boundary.
func (pc *PriceCache) Roll(tf domain.Timeframe, newOpenTime time.Time) []domain.ClosedBucket {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	var closed []domain.ClosedBucket
	for symbol, rec := range pc.records {
		cur, ok := rec.Candles[tf]
		if ok && !cur.OpenTime.Before(newOpenTime) {
			continue // already rolled by a tick at/after the boundary
		}
		if ok {
			closed = append(closed, domain.ClosedBucket{Symbol: symbol, Timeframe: tf, Candle: cur.Closed()})
		}
		lastPrice := rec.LastPrice
		if !ok {
			continue // never seen a tick for this symbol; nothing to carry forward
		}
		rec.Candles[tf] = domain.RolloverEmpty(tf, newOpenTime, lastPrice)
		rec.Version++
	}
	return closed
}

// OutOfOrderDropped returns the running count of ticks rejected for being
// older than their timeframe's current bucket.
func (pc *PriceCache) OutOfOrderDropped() uint64 {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.outOfOrderDropped
}

// Symbols returns every symbol the cache has observed at least one tick for.
func (pc *PriceCache) Symbols() []domain.Symbol {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	out := make([]domain.Symbol, 0, len(pc.records))
	for s := range pc.records {
		out = append(out, s)
	}
	return out
}
