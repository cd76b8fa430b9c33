// Package indicator implements C3: pure, stateless functions over candle
// sequences. Nothing here performs I/O or holds long-lived state — every
// function recomputes from the closes/volumes slice handed to it rather than
// maintaining an incremental running series, since EvaluationEngine needs
// both the previous and current value for crossing predicates and must
// recompute on demand per rule.
package indicator

import "github.com/p9labs/alertengine/internal/domain"

// RSI computes the latest Wilder's-smoothed Relative Strength Index over
// closes, using period. Returns ok=false when len(closes) <= period: RSI is
// undefined and callers must treat the predicate as not evaluable.
func RSI(closes []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(closes) <= period {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		p := float64(period)
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// EMA computes the latest Exponential Moving Average over closes, seeded with
// the simple mean of the first period values, using multiplier 2/(period+1).
// Returns ok=false when len(closes) < period.
func EMA(closes []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	ema := sum / float64(period)

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(closes); i++ {
		ema = (closes[i] * multiplier) + (ema * (1 - multiplier))
	}
	return ema, true
}

// VolumeSpikeRatio compares currentVolume (the live, still-forming bucket's
// volume) against the simple average of the preceding closed window
// volumes. Returns ok=false when fewer than window closed volumes are
// available or their average is zero.
func VolumeSpikeRatio(currentVolume float64, precedingClosed []float64, window int) (ratio float64, ok bool) {
	if window <= 0 || len(precedingClosed) < window {
		return 0, false
	}

	recent := precedingClosed[len(precedingClosed)-window:]
	var sum float64
	for _, v := range recent {
		sum += v
	}
	avg := sum / float64(window)
	if avg == 0 {
		return 0, false
	}
	return currentVolume / avg, true
}

const dojiBodyToRangeRatio = 0.001

// ClassifyShape returns every ShapeKind the candle satisfies, per spec §4.3.
// A candle can match more than one non-exclusive shape (e.g. green + aboveOpen).
func ClassifyShape(c domain.Candle, openRef float64) []domain.ShapeKind {
	var shapes []domain.ShapeKind

	rangeSize := c.High - c.Low
	body := c.Close - c.Open
	absBody := body
	if absBody < 0 {
		absBody = -absBody
	}

	if c.Close > openRef {
		shapes = append(shapes, domain.ShapeAboveOpen)
	} else if c.Close < openRef {
		shapes = append(shapes, domain.ShapeBelowOpen)
	}

	if c.Close > c.Open {
		shapes = append(shapes, domain.ShapeGreen)
	} else if c.Close < c.Open {
		shapes = append(shapes, domain.ShapeRed)
	}

	if rangeSize <= 0 {
		shapes = append(shapes, domain.ShapeNone)
		return shapes
	}

	if absBody <= dojiBodyToRangeRatio*rangeSize {
		shapes = append(shapes, domain.ShapeDoji)
	}

	bodyTop, bodyBottom := c.Close, c.Open
	if body < 0 {
		bodyTop, bodyBottom = c.Open, c.Close
	}
	upperWick := c.High - bodyTop
	lowerWick := bodyBottom - c.Low

	if lowerWick >= 2*absBody && upperWick <= absBody && c.Close >= c.Open {
		shapes = append(shapes, domain.ShapeBullishHammer)
	}
	if upperWick >= 2*absBody && lowerWick <= absBody && c.Close <= c.Open {
		shapes = append(shapes, domain.ShapeBearishHammer)
	}

	if upperWick >= 2*absBody {
		shapes = append(shapes, domain.ShapeLongUpperWick)
	}
	if lowerWick >= 2*absBody {
		shapes = append(shapes, domain.ShapeLongLowerWick)
	}

	if len(shapes) == 0 {
		shapes = append(shapes, domain.ShapeNone)
	}
	return shapes
}

// HasShape reports whether want is among the shapes classified for c.
func HasShape(c domain.Candle, openRef float64, want domain.ShapeKind) bool {
	for _, s := range ClassifyShape(c, openRef) {
		if s == want {
			return true
		}
	}
	return false
}

// Closes extracts the Close price of every candle, oldest first.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts the Volume of every candle, oldest first.
func Volumes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}
