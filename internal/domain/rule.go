package domain

import "time"

// RuleID identifies a Rule, assigned by the external rule store.
type RuleID string

// Direction is the side of a price-level crossing a rule cares about.
type Direction string

const (
	DirectionAbove  Direction = "above"
	DirectionBelow  Direction = "below"
	DirectionEither Direction = "either"
)

// BaselineMode selects how a percent target's reference price is resolved.
type BaselineMode string

const (
	// BaselineCurrentCandleOpen resolves the reference price from C1's current
	// candle open for the configured timeframe, re-evaluated on every tick.
	BaselineCurrentCandleOpen BaselineMode = "current_candle_open"
	// BaselineReferenceAtCreation pins the reference price once at rule
	// creation and never updates it on edit.
	BaselineReferenceAtCreation BaselineMode = "reference_at_creation"
)

// Target is the rule's core price predicate: either an absolute level or a
// percent move away from a baseline.
type Target struct {
	Kind TargetKind `json:"kind"`

	// PriceLevel fields (Kind == TargetPriceLevel)
	Level float64 `json:"level,omitempty"`

	// Percent fields (Kind == TargetPercent)
	PercentValue     float64      `json:"percent_value,omitempty"`
	BaselineMode     BaselineMode `json:"baseline_mode,omitempty"`
	BaselineTimeframe Timeframe   `json:"baseline_timeframe,omitempty"`
	ReferencePrice   float64      `json:"reference_price,omitempty"` // captured at creation when BaselineReferenceAtCreation
}

// TargetKind discriminates Target's variant.
type TargetKind string

const (
	TargetPriceLevel TargetKind = "price_level"
	TargetPercent    TargetKind = "percent"
)

// ShapeKind enumerates candlestick shape classifications (spec §4.3).
type ShapeKind string

const (
	ShapeAboveOpen     ShapeKind = "above_open"
	ShapeBelowOpen     ShapeKind = "below_open"
	ShapeGreen         ShapeKind = "green"
	ShapeRed           ShapeKind = "red"
	ShapeDoji          ShapeKind = "doji"
	ShapeBullishHammer ShapeKind = "bullish_hammer"
	ShapeBearishHammer ShapeKind = "bearish_hammer"
	ShapeLongUpperWick ShapeKind = "long_upper_wick"
	ShapeLongLowerWick ShapeKind = "long_lower_wick"
	ShapeNone          ShapeKind = "none"
)

// CandleShapeRule requires a classified shape on the current candle of every
// listed timeframe.
type CandleShapeRule struct {
	Timeframes []Timeframe `json:"timeframes"`
	Shape      ShapeKind   `json:"shape"`
}

// IndicatorCondition enumerates the comparison an RSI/EMA predicate applies.
type IndicatorCondition string

const (
	CondAbove       IndicatorCondition = "above"
	CondBelow       IndicatorCondition = "below"
	CondCrossingUp  IndicatorCondition = "crossing_up"
	CondCrossingDown IndicatorCondition = "crossing_down"
)

// RSIRule configures an RSI predicate against one timeframe/period.
type RSIRule struct {
	Timeframe Timeframe           `json:"timeframe"`
	Period    int                 `json:"period"`
	Condition IndicatorCondition  `json:"condition"`
	Level     float64             `json:"level"`
}

// EMARule configures a dual-EMA predicate against one timeframe.
type EMARule struct {
	Timeframe  Timeframe          `json:"timeframe"`
	FastPeriod int                `json:"fast_period"`
	SlowPeriod int                `json:"slow_period"`
	Condition  IndicatorCondition `json:"condition"`
}

// VolumeSpikeRule fires when current bucket volume is at least Multiplier times
// the moving average of the preceding Window buckets.
type VolumeSpikeRule struct {
	Timeframe  Timeframe `json:"timeframe"`
	Window     int       `json:"window"`
	Multiplier float64   `json:"multiplier"`
}

// ThrottleConfig is the per-rule firing cap (spec §3, §4.7).
type ThrottleConfig struct {
	Timeframe  Timeframe `json:"timeframe"`
	MaxPerBucket int     `json:"max_per_bucket"`
}

// DefaultThrottle is the engine's default throttle: (1h, 1).
func DefaultThrottle() ThrottleConfig {
	return ThrottleConfig{Timeframe: Timeframe1h, MaxPerBucket: 1}
}

// RuleStatus is the externally observable evaluation state of a rule (spec §7).
type RuleStatus string

const (
	StatusArmed               RuleStatus = "armed"
	StatusWarmingUp           RuleStatus = "warming_up"
	StatusDormant             RuleStatus = "dormant"
	StatusSuppressedThisBucket RuleStatus = "suppressed_this_bucket"
)

// Rule is the full predicate set a user configured for one symbol (spec §3).
type Rule struct {
	ID       RuleID
	Symbol   Symbol
	Direction Direction
	Target   Target

	CandleShape *CandleShapeRule
	RSI         *RSIRule
	EMA         *EMARule
	VolumeSpike *VolumeSpikeRule
	MinDailyVolume *float64

	Throttle ThrottleConfig

	Active          bool
	CreatedAt       time.Time
	LastTriggeredAt *time.Time
}

// DependsOnSeries returns every (timeframe) this rule's indicator predicates read
// from CandleStore, used by EvaluationEngine to gate on warm-up completion.
func (r Rule) DependsOnSeries() []Timeframe {
	seen := make(map[Timeframe]struct{})
	var out []Timeframe
	add := func(tf Timeframe) {
		if tf == "" {
			return
		}
		if _, ok := seen[tf]; ok {
			return
		}
		seen[tf] = struct{}{}
		out = append(out, tf)
	}
	if r.RSI != nil {
		add(r.RSI.Timeframe)
	}
	if r.EMA != nil {
		add(r.EMA.Timeframe)
	}
	if r.VolumeSpike != nil {
		add(r.VolumeSpike.Timeframe)
	}
	return out
}
