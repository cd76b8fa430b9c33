// Package throttle implements C7: per-rule, per-bucket firing caps keyed by
// (ruleId, throttleTimeframe, bucketOpenTime), reset on BucketRoll rather
// than by any timer of its own. Driving resets off explicit scheduler events
// (see internal/scheduler) avoids the class of bug where overlapping timers
// race to reset the same key.
package throttle

import (
	"sync"
	"time"

	"github.com/p9labs/alertengine/internal/domain"
)

// Decision is the outcome of a ThrottleGate.TryFire call.
type Decision int

const (
	Admitted Decision = iota
	Suppressed
)

// Gate enforces per-rule alert-count caps (C7).
type Gate struct {
	mu       sync.Mutex
	counters map[domain.ThrottleKey]int
}

// New creates an empty Gate.
func New() *Gate {
	return &Gate{counters: make(map[domain.ThrottleKey]int)}
}

// TryFire computes the bucket open-time for rule.Throttle.Timeframe aligned to
// now, increments the counter for that key, and admits iff the post-increment
// count is <= rule.Throttle.MaxPerBucket.
func (g *Gate) TryFire(rule domain.Rule, now time.Time) (Decision, domain.ThrottleKey) {
	key := domain.ThrottleKey{
		RuleID:            rule.ID,
		ThrottleTimeframe: rule.Throttle.Timeframe,
		BucketOpenTime:    rule.Throttle.Timeframe.BucketOpenTime(now),
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.counters[key]++
	if g.counters[key] <= rule.Throttle.MaxPerBucket {
		return Admitted, key
	}
	return Suppressed, key
}

// Count returns the current counter value for key, for diagnostics/tests.
func (g *Gate) Count(key domain.ThrottleKey) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counters[key]
}

// OnBucketRoll drops every counter whose throttle timeframe matches tf and
// whose bucketOpenTime is older than newOpenTime, per spec §4.7.
func (g *Gate) OnBucketRoll(tf domain.Timeframe, newOpenTime time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key := range g.counters {
		if key.ThrottleTimeframe == tf && key.BucketOpenTime.Before(newOpenTime) {
			delete(g.counters, key)
		}
	}
}

// Len reports the number of live counters, for diagnostics/tests.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.counters)
}
