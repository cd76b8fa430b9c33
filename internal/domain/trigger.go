package domain

import "time"

// PredicateSnapshot records the numeric values that caused a rule to fire,
// attached to the TriggerEvent for audit (spec glossary).
type PredicateSnapshot struct {
	Price            float64            `json:"price"`
	ReferencePrice   float64            `json:"reference_price,omitempty"`
	PercentChange    float64            `json:"percent_change,omitempty"`
	Candle           *Candle            `json:"candle,omitempty"`
	Shapes           []ShapeKind        `json:"shapes,omitempty"`
	RSI              *float64           `json:"rsi,omitempty"`
	PrevRSI          *float64           `json:"prev_rsi,omitempty"`
	EMAFast          *float64           `json:"ema_fast,omitempty"`
	EMASlow          *float64           `json:"ema_slow,omitempty"`
	PrevEMAFast      *float64           `json:"prev_ema_fast,omitempty"`
	PrevEMASlow      *float64           `json:"prev_ema_slow,omitempty"`
	VolumeSpikeRatio *float64           `json:"volume_spike_ratio,omitempty"`
	Volume24h        float64            `json:"volume_24h,omitempty"`
}

// ThrottleKey identifies the bucket a rule's firing cap applies to (spec §3, §4.7).
type ThrottleKey struct {
	RuleID            RuleID
	ThrottleTimeframe Timeframe
	BucketOpenTime    time.Time
}

// TriggerDecision is what EvaluationEngine hands to ThrottleGate/TriggerBus when
// a rule's combined predicate evaluates true.
type TriggerDecision struct {
	Rule           Rule
	FiredAt        time.Time
	PriceAtFiring  float64
	BucketOpenTime time.Time
	Snapshot       PredicateSnapshot
}

// TriggerEvent is the immutable, published record of a rule firing (spec §3).
type TriggerEvent struct {
	ID                string            `json:"id"`
	RuleID            RuleID            `json:"ruleId"`
	Symbol            Symbol            `json:"symbol"`
	FiredAt           time.Time         `json:"firedAt"`
	PriceAtFiring     float64           `json:"priceAtFiring"`
	BucketOpenTime    time.Time         `json:"bucketOpenTime"`
	ThrottleTimeframe Timeframe         `json:"throttleTimeframe"`
	Snapshot          PredicateSnapshot `json:"predicateSnapshot"`
}
