package throttle

import (
	"testing"
	"time"

	"github.com/p9labs/alertengine/internal/domain"
)

func testRule() domain.Rule {
	return domain.Rule{
		ID:       "r1",
		Throttle: domain.ThrottleConfig{Timeframe: domain.Timeframe1h, MaxPerBucket: 2},
	}
}

func TestTryFireAdmitsUpToMax(t *testing.T) {
	g := New()
	now := time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)
	r := testRule()

	d1, _ := g.TryFire(r, now)
	d2, _ := g.TryFire(r, now.Add(time.Minute))
	d3, _ := g.TryFire(r, now.Add(2*time.Minute))

	if d1 != Admitted || d2 != Admitted {
		t.Fatalf("expected first two admitted, got %v %v", d1, d2)
	}
	if d3 != Suppressed {
		t.Fatalf("expected third suppressed, got %v", d3)
	}
}

func TestOnBucketRollResetsOldCounters(t *testing.T) {
	g := New()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	r := testRule()

	g.TryFire(r, base)
	g.TryFire(r, base)
	if g.Len() != 1 {
		t.Fatalf("want 1 counter, got %d", g.Len())
	}

	g.OnBucketRoll(domain.Timeframe1h, base.Add(time.Hour))
	if g.Len() != 0 {
		t.Fatalf("want counters cleared, got %d", g.Len())
	}

	d, _ := g.TryFire(r, base.Add(time.Hour))
	if d != Admitted {
		t.Fatal("expected admitted after bucket roll reset")
	}
}

func TestOnBucketRollIgnoresOtherTimeframes(t *testing.T) {
	g := New()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	r := testRule() // throttle timeframe 1h

	g.TryFire(r, base)
	g.OnBucketRoll(domain.Timeframe1m, base.Add(time.Minute))

	if g.Len() != 1 {
		t.Fatalf("want counter unaffected by unrelated timeframe roll, got %d", g.Len())
	}
}

func TestOnBucketRollKeepsCountersAtOrAfterNewOpenTime(t *testing.T) {
	g := New()
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	r := testRule()

	g.TryFire(r, base.Add(time.Hour)) // bucket open = 11:00
	g.OnBucketRoll(domain.Timeframe1h, base.Add(time.Hour))

	if g.Len() != 1 {
		t.Fatalf("counter for current/future bucket must survive roll, got %d", g.Len())
	}
}
