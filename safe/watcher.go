/*
watcher.go - Subscription-driven timeline cache

The backing store re-delivers the full event set on every write. The
watcher consumes that stream and keeps the reconstructed timeline cached
so balance queries never touch the store. Reconstruction runs from
scratch on every push; duplicate delivery of an unchanged set is
harmless.
*/
package safe

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/almhof/reception-engine/ledger"
)

type Watcher struct {
	mu       sync.RWMutex
	timeline ledger.Timeline
	logger   *zap.Logger
}

func NewWatcher(logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{logger: logger}
}

// Run primes the cache from the current event set, then rebuilds it on
// every subscription push until ctx is canceled or the stream closes.
func (w *Watcher) Run(ctx context.Context, log ledger.EventLog) error {
	snapshots, cancel := log.SubscribeAll(ctx)
	defer cancel()

	events, err := log.Events(ctx)
	if err != nil {
		return err
	}
	w.apply(events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snapshot, ok := <-snapshots:
			if !ok {
				return nil
			}
			w.apply(snapshot)
		}
	}
}

func (w *Watcher) apply(events []ledger.Event) {
	timeline := ledger.BuildTimeline(events)
	w.mu.Lock()
	w.timeline = timeline
	w.mu.Unlock()
	w.logger.Debug("timeline rebuilt", zap.Int("events", len(events)))
}

// BalanceAt answers from the cached timeline.
func (w *Watcher) BalanceAt(at time.Time) decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.timeline.BalanceAt(at)
}

// Current is the balance as of now.
func (w *Watcher) Current() decimal.Decimal {
	return w.BalanceAt(time.Now())
}

// Timeline returns a copy of the cached timeline.
func (w *Watcher) Timeline() ledger.Timeline {
	w.mu.RLock()
	defer w.mu.RUnlock()
	points := make([]ledger.TimelinePoint, len(w.timeline.Points))
	copy(points, w.timeline.Points)
	return ledger.Timeline{Points: points}
}
