/*
timeline.go - Balance reconstruction by replaying the event set

PURPOSE:
  The safe balance is never stored. It is reconstructed from scratch by
  replaying the full event set in chronological order, producing one
  running-balance point per event. "Balance at time T" is then a binary
  search over the timeline.

REPLAY RULES:
  - Anchor events (opening, safeReset, reconcile) SET the running balance
    to their counted value. They are declarative "this is now the truth".
  - deposit and bankWithdrawal ADD their amount (money entering the safe).
  - withdrawal, pettyWithdrawal and bankDeposit SUBTRACT (money leaving).
  - exchange does not alter the safe balance: it is a drawer<->safe
    transfer accounted for by companion drawer entries in the originating
    workflow.

ORDERING:
  Events are stable-sorted by parsed timestamp. A malformed timestamp
  falls back to the event's arrival index so ordering stays total and
  deterministic. Events sharing a timestamp keep their arrival order.

COST:
  Reconstruction is O(n log n) for the sort; the point query is O(log n).
  The timeline is a pure function of the current event set and is rebuilt
  on every subscription push, never mutated incrementally.

SEE ALSO:
  - log.go: SubscribeAll delivers the event sets replayed here
  - safe/watcher.go: Keeps a current timeline cached per subscription
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TIMELINE - Derived running-balance points
// =============================================================================

// TimelinePoint is one running-balance snapshot, derived, never stored.
type TimelinePoint struct {
	// At is the event's timestamp in Unix milliseconds. For events with a
	// malformed timestamp this is the arrival index instead.
	At      int64
	Balance decimal.Decimal
}

type Timeline struct {
	Points []TimelinePoint
}

// =============================================================================
// RECONSTRUCTION
// =============================================================================

// BuildTimeline replays the event set (unordered as received) into a
// chronological timeline of running balances.
func BuildTimeline(events []Event) Timeline {
	type keyed struct {
		at int64
		ev Event
	}

	keyedEvents := make([]keyed, 0, len(events))
	for i, e := range events {
		at := int64(i) // total order survives malformed timestamps
		if t, ok := e.When(); ok {
			at = t.UnixMilli()
		}
		keyedEvents = append(keyedEvents, keyed{at: at, ev: e})
	}

	// Stable: equal timestamps keep arrival order.
	sort.SliceStable(keyedEvents, func(i, j int) bool {
		return keyedEvents[i].at < keyedEvents[j].at
	})

	balance := decimal.Zero
	points := make([]TimelinePoint, 0, len(keyedEvents))
	for _, k := range keyedEvents {
		switch k.ev.Type {
		case EventOpening, EventSafeReset, EventReconcile:
			balance = k.ev.Count
		case EventDeposit, EventBankWithdrawal:
			balance = balance.Add(k.ev.Amount)
		case EventWithdrawal, EventPettyWithdrawal, EventBankDeposit:
			balance = balance.Sub(k.ev.Amount)
		case EventExchange:
			// drawer<->safe transfer; safe balance unchanged
		}
		points = append(points, TimelinePoint{At: k.at, Balance: balance})
	}

	return Timeline{Points: points}
}

// =============================================================================
// QUERIES
// =============================================================================

// BalanceAt returns the balance as of the given time: the rightmost point
// whose timestamp is <= at. Before the first event the balance is zero.
func (t Timeline) BalanceAt(at time.Time) decimal.Decimal {
	return t.BalanceAtMilli(at.UnixMilli())
}

// BalanceAtMilli is BalanceAt on a raw Unix-millisecond stamp.
func (t Timeline) BalanceAtMilli(at int64) decimal.Decimal {
	// First point strictly after `at`; the answer is the point before it.
	i := sort.Search(len(t.Points), func(i int) bool {
		return t.Points[i].At > at
	})
	if i == 0 {
		return decimal.Zero
	}
	return t.Points[i-1].Balance
}

// Current returns the balance as of now.
func (t Timeline) Current() decimal.Decimal {
	return t.BalanceAt(time.Now())
}
