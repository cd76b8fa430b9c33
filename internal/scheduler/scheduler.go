// Package scheduler implements C8: the BoundaryScheduler that wakes at each
// timeframe's next aligned bucket boundary and broadcasts BucketRoll events,
// realigning against wall clock periodically to absorb drift the same way
// supervisor.Supervisor re-derives backoff timers rather than trusting a
// single long-lived timer.Timer across reconnects.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/p9labs/alertengine/internal/domain"
)

// BucketRoll is emitted once per timeframe each time its bucket advances.
type BucketRoll struct {
	Timeframe   domain.Timeframe
	NewOpenTime time.Time
}

// Scheduler drives BucketRoll events for a fixed set of timeframes.
type Scheduler struct {
	logger     *zap.Logger
	timeframes []domain.Timeframe
	now        func() time.Time

	subsMu sync.Mutex
	subs   []chan BucketRoll
}

// New creates a Scheduler for the given timeframes. nowFunc defaults to
// time.Now when nil; tests supply a deterministic clock.
func New(logger *zap.Logger, timeframes []domain.Timeframe, nowFunc func() time.Time) *Scheduler {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Scheduler{
		logger:     logger.Named("scheduler"),
		timeframes: timeframes,
		now:        nowFunc,
	}
}

// Subscribe returns a channel that receives every BucketRoll this scheduler
// emits. The channel is buffered; when a subscriber's buffer is full, the
// incoming roll is dropped for that subscriber rather than blocking the
// scheduler.
func (s *Scheduler) Subscribe() <-chan BucketRoll {
	ch := make(chan BucketRoll, 64)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Scheduler) broadcast(roll BucketRoll) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- roll:
		default:
			s.logger.Warn("dropping BucketRoll for slow subscriber",
				zap.String("timeframe", string(roll.Timeframe)))
		}
	}
}

// Run drives the scheduler loop for one timeframe until ctx is canceled.
// Callers start one goroutine per configured timeframe.
func (s *Scheduler) Run(ctx context.Context, tf domain.Timeframe) {
	next := tf.NextBucketOpenTime(s.now())

	for {
		sleep := time.Until(next)
		if sleep < 0 {
			sleep = 0
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.logger.Debug("bucket roll",
			zap.String("timeframe", string(tf)), zap.Time("open_time", next))
		s.broadcast(BucketRoll{Timeframe: tf, NewOpenTime: next})

		// Realign against wall clock rather than chaining off `next` forever,
		// so long-running processes don't accumulate scheduling drift.
		next = tf.NextBucketOpenTime(s.now())
	}
}

// RunAll starts Run for every configured timeframe and blocks until ctx is
// canceled.
func (s *Scheduler) RunAll(ctx context.Context) {
	done := make(chan struct{})
	remaining := len(s.timeframes)
	if remaining == 0 {
		<-ctx.Done()
		return
	}
	for _, tf := range s.timeframes {
		go func(tf domain.Timeframe) {
			s.Run(ctx, tf)
			done <- struct{}{}
		}(tf)
	}
	for i := 0; i < remaining; i++ {
		<-done
	}
}
