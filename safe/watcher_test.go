package safe_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/almhof/reception-engine/ledger"
	"github.com/almhof/reception-engine/ledger/store"
	"github.com/almhof/reception-engine/safe"
)

func waitForBalance(t *testing.T, w *safe.Watcher, want decimal.Decimal) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if w.Current().Equal(want) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("watcher never reached balance %s, at %s", want, w.Current())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWatcher_PrimesFromExistingEventsAndFollowsWrites(t *testing.T) {
	// GIVEN: A store that already holds an opening event
	// WHEN: The watcher runs and a deposit lands afterwards
	// THEN: The cached balance reflects both without querying the store

	m := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := m.Append(ctx, ledger.Event{
		User: "anna", Timestamp: "2025-06-01T08:00:00Z",
		Type: ledger.EventOpening, Count: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	w := safe.NewWatcher(nil)
	go func() { _ = w.Run(ctx, m) }()

	waitForBalance(t, w, decimal.RequireFromString("100"))

	_, err = m.Append(ctx, ledger.Event{
		User: "anna", Timestamp: "2025-06-01T09:00:00Z",
		Type: ledger.EventDeposit, Amount: decimal.RequireFromString("50"),
	})
	require.NoError(t, err)

	waitForBalance(t, w, decimal.RequireFromString("150"))
}

func TestWatcher_TimelineReturnsACopy(t *testing.T) {
	m := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := m.Append(ctx, ledger.Event{
		User: "anna", Timestamp: "2025-06-01T08:00:00Z",
		Type: ledger.EventOpening, Count: decimal.RequireFromString("100"),
	})
	require.NoError(t, err)

	w := safe.NewWatcher(nil)
	go func() { _ = w.Run(ctx, m) }()
	waitForBalance(t, w, decimal.RequireFromString("100"))

	timeline := w.Timeline()
	require.Len(t, timeline.Points, 1)
	timeline.Points[0].Balance = decimal.Zero

	assert.True(t, w.Current().Equal(decimal.RequireFromString("100")),
		"mutating the returned copy must not touch the cache")
}
