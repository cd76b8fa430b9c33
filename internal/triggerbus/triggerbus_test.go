package triggerbus

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
	"github.com/p9labs/alertengine/internal/journal"
)

type fakeMirror struct {
	published []domain.TriggerEvent
	failNext  bool
}

func (m *fakeMirror) PublishTrigger(_ context.Context, event domain.TriggerEvent) error {
	if m.failNext {
		m.failNext = false
		return context.DeadlineExceeded
	}
	m.published = append(m.published, event)
	return nil
}

func testDecision(ruleID string) domain.TriggerDecision {
	return domain.TriggerDecision{
		Rule: domain.Rule{
			ID:       domain.RuleID(ruleID),
			Symbol:   domain.NewSymbol("btcusdt"),
			Throttle: domain.ThrottleConfig{Timeframe: domain.Timeframe1h, MaxPerBucket: 1},
		},
		FiredAt:        time.Now().UTC(),
		PriceAtFiring:  100,
		BucketOpenTime: time.Now().UTC().Truncate(time.Hour),
	}
}

func newTestBus(t *testing.T, mirror Mirror) *Bus {
	t.Helper()
	j, err := journal.Open(zap.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return New(zap.NewNop(), j, mirror)
}

func TestPublishJournalsAndFansOut(t *testing.T) {
	bus := newTestBus(t, nil)
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	event, err := bus.Publish(context.Background(), testDecision("r1"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if event.ID == "" {
		t.Fatal("expected stamped trigger id")
	}

	select {
	case got := <-ch:
		if got.ID != event.ID {
			t.Fatalf("want %s, got %s", event.ID, got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fan-out delivery")
	}
}

func TestPublishMirrorsExternally(t *testing.T) {
	mirror := &fakeMirror{}
	bus := newTestBus(t, mirror)

	event, err := bus.Publish(context.Background(), testDecision("r1"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(mirror.published) != 1 || mirror.published[0].ID != event.ID {
		t.Fatalf("expected event mirrored externally, got %+v", mirror.published)
	}
}

func TestPublishSucceedsWhenMirrorFails(t *testing.T) {
	mirror := &fakeMirror{failNext: true}
	bus := newTestBus(t, mirror)

	_, err := bus.Publish(context.Background(), testDecision("r1"))
	if err != nil {
		t.Fatalf("publish should succeed despite mirror failure: %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus(t, nil)
	id, ch := bus.Subscribe()
	bus.Unsubscribe(id)

	if _, err := bus.Publish(context.Background(), testDecision("r1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected closed channel to be immediately readable")
	}
}

func TestRepeatedPublishOfSameDecisionGetsDistinctIDs(t *testing.T) {
	bus := newTestBus(t, nil)
	id, ch := bus.Subscribe()
	defer bus.Unsubscribe(id)

	decision := testDecision("r1")
	event1, err := bus.Publish(context.Background(), decision)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	<-ch

	decision2 := testDecision("r1")
	event2, err := bus.Publish(context.Background(), decision2)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if event1.ID == event2.ID {
		t.Fatal("expected distinct ids from distinct sequence numbers")
	}
}
