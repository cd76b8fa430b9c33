package domain

import "time"

// TickEvent is the normalized form of an exchange mini-ticker update, as produced
// by IngestionSource (C5) regardless of wire format.
type TickEvent struct {
	Symbol       Symbol
	Price        float64
	Volume       float64
	Timestamp    time.Time
	Open24h      float64
	High24h      float64
	Low24h       float64
	Volume24h    float64
	PercentChg24 float64
	Resync       bool // true for the first tick delivered after a reconnect
}

// PriceRecord is the authoritative last-known state for one symbol (spec §3).
type PriceRecord struct {
	Symbol        Symbol
	LastPrice     float64
	LastVolume    float64
	LastUpdate    time.Time
	Open24h       float64
	High24h       float64
	Low24h        float64
	Volume24h     float64
	PercentChg24h float64
	Candles       map[Timeframe]CurrentCandle
	Version       uint64
}

// Clone returns a deep-enough copy safe for a reader to hold without racing the writer.
func (p PriceRecord) Clone() PriceRecord {
	cp := p
	cp.Candles = make(map[Timeframe]CurrentCandle, len(p.Candles))
	for tf, c := range p.Candles {
		cp.Candles[tf] = c
	}
	return cp
}

// MutationNotice is returned by PriceCache.Apply, describing the effect of one tick.
type MutationNotice struct {
	Symbol        Symbol
	PriceBefore   float64
	PriceAfter    float64
	Version       uint64
	ClosedBuckets []ClosedBucket
}

// ClosedBucket names a timeframe bucket that rolled over as a side effect of a mutation.
type ClosedBucket struct {
	Symbol    Symbol
	Timeframe Timeframe
	Candle    Candle
}
