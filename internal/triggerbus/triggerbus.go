// Package triggerbus implements C9: it stamps each TriggerDecision with a
// stable id, persists it to the Journal, and fans it out to in-process
// subscribers plus an external pub/sub mirror. The register/unregister/
// drop-on-full subscriber bookkeeping generalizes the broadcaster.Broadcaster
// shape from *websocket.Conn clients to typed TriggerEvent channels.
package triggerbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
	"github.com/p9labs/alertengine/internal/journal"
)

const subscriberQueueDepth = 256

// Mirror publishes a TriggerEvent to an external channel (e.g. Redis
// pub/sub); failures are logged by the implementation and never block the
// bus. The journal entry, not the mirror, is ground truth for a firing.
type Mirror interface {
	PublishTrigger(ctx context.Context, event domain.TriggerEvent) error
}

type subscriber struct {
	id string
	ch chan domain.TriggerEvent
}

// Bus is the C9 TriggerBus.
type Bus struct {
	logger  *zap.Logger
	journal *journal.Journal
	mirror  Mirror

	seq uint64

	mu   sync.Mutex
	subs map[string]subscriber
}

// New creates a Bus backed by journal j, optionally mirroring to an external
// pub/sub endpoint. mirror may be nil when no external channel is configured.
func New(logger *zap.Logger, j *journal.Journal, mirror Mirror) *Bus {
	return &Bus{
		logger:  logger.Named("triggerbus"),
		journal: j,
		mirror:  mirror,
		subs:    make(map[string]subscriber),
	}
}

// Subscribe registers a new in-process subscriber and returns its feed plus
// an id to later Unsubscribe. The channel is dropped from (not closed under)
// the caller if it overflows; callers should range over it until Unsubscribe.
func (b *Bus) Subscribe() (string, <-chan domain.TriggerEvent) {
	id := uuid.NewString()
	ch := make(chan domain.TriggerEvent, subscriberQueueDepth)

	b.mu.Lock()
	b.subs[id] = subscriber{id: id, ch: ch}
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe removes and closes a subscriber's feed.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Publish stamps decision with a stable trigger id, journals it, and fans it
// out. Returns the resulting TriggerEvent. A journal write failure is
// returned to the caller (EvaluationEngine) since, per spec §7, journal I/O
// failures must escalate rather than be swallowed.
func (b *Bus) Publish(ctx context.Context, decision domain.TriggerDecision) (domain.TriggerEvent, error) {
	seq := atomic.AddUint64(&b.seq, 1)
	id := fmt.Sprintf("%s-%s-%d-%d",
		decision.Rule.ID, decision.Rule.Throttle.Timeframe, decision.BucketOpenTime.Unix(), seq)

	event := domain.TriggerEvent{
		ID:                id,
		RuleID:            decision.Rule.ID,
		Symbol:            decision.Rule.Symbol,
		FiredAt:           decision.FiredAt,
		PriceAtFiring:     decision.PriceAtFiring,
		BucketOpenTime:    decision.BucketOpenTime,
		ThrottleTimeframe: decision.Rule.Throttle.Timeframe,
		Snapshot:          decision.Snapshot,
	}

	if _, err := b.journal.Append(event); err != nil {
		return domain.TriggerEvent{}, err
	}

	b.fanOut(event)

	if b.mirror != nil {
		if err := b.mirror.PublishTrigger(ctx, event); err != nil {
			b.logger.Warn("external mirror publish failed",
				zap.String("trigger_id", event.ID), zap.Error(err))
		}
	}

	return event, nil
}

func (b *Bus) fanOut(event domain.TriggerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("dropping trigger event for slow subscriber",
				zap.String("subscriber_id", id), zap.String("trigger_id", event.ID))
		}
	}
}

// SubscriberCount reports the current number of in-process subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
