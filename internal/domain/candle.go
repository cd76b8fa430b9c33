package domain

import "time"

// Candle is a closed, historical OHLCV entry for one (Symbol, Timeframe) series.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Valid reports the OHLC sanity invariant from spec §8 property 4.
func (c Candle) Valid() bool {
	if c.Volume < 0 {
		return false
	}
	lo := c.Open
	if c.Close < lo {
		lo = c.Close
	}
	hi := c.Open
	if c.Close > hi {
		hi = c.Close
	}
	return c.Low <= lo && hi <= c.High
}

// CurrentCandle is the in-progress bucket PriceCache maintains per (symbol, timeframe).
type CurrentCandle struct {
	Timeframe    Timeframe `json:"timeframe"`
	OpenTime     time.Time `json:"open_time"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	LastTickTime time.Time `json:"last_tick_time"`
}

// Closed converts the in-progress bucket into a closed historical Candle.
func (c CurrentCandle) Closed() Candle {
	return Candle{
		OpenTime:  c.OpenTime,
		CloseTime: c.OpenTime.Add(c.Timeframe.Duration()),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

// Extend folds a new price/volume sample into the current bucket in place.
// ts becomes the bucket's new LastTickTime, the floor the next tick must clear.
func (c *CurrentCandle) Extend(price, volume float64, ts time.Time) {
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += volume
	c.LastTickTime = ts
}

// NewCurrentCandle opens a fresh bucket aligned to ts for the given timeframe.
func NewCurrentCandle(tf Timeframe, ts time.Time, price, volume float64) CurrentCandle {
	return CurrentCandle{
		Timeframe:    tf,
		OpenTime:     tf.BucketOpenTime(ts),
		Open:         price,
		High:         price,
		Low:          price,
		Close:        price,
		Volume:       volume,
		LastTickTime: ts,
	}
}

// RolloverEmpty carries a bucket forward with no trades: O=H=L=C=lastPrice, V=0.
// Used by PriceCache.Roll when a BucketRoll fires with no intervening tick.
func RolloverEmpty(tf Timeframe, openTime time.Time, lastPrice float64) CurrentCandle {
	return CurrentCandle{
		Timeframe:    tf,
		OpenTime:     openTime,
		Open:         lastPrice,
		High:         lastPrice,
		Low:          lastPrice,
		Close:        lastPrice,
		Volume:       0,
		LastTickTime: openTime,
	}
}
