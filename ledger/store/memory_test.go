package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/almhof/reception-engine/ledger"
	"github.com/almhof/reception-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func depositEvent(amount string) ledger.Event {
	return ledger.Event{
		User:      "anna",
		Timestamp: "2025-06-01T08:00:00Z",
		Type:      ledger.EventDeposit,
		Amount:    decimal.RequireFromString(amount),
	}
}

// =============================================================================
// EVENT LOG
// =============================================================================

func TestMemory_AppendGeneratesKeyAndValidates(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	id, err := m.Append(ctx, depositEvent("50"))
	require.NoError(t, err)
	assert.NotEmpty(t, id, "append must generate a key")

	_, err = m.Append(ctx, ledger.Event{Type: "bogus"})
	assert.ErrorIs(t, err, ledger.ErrSchema, "invalid events are rejected before storage")

	events, err := m.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestMemory_SubscribeAllRedeliversFullSnapshotPerWrite(t *testing.T) {
	// GIVEN: A subscriber
	// WHEN: Two events are appended
	// THEN: Each write delivers the complete event set, not a delta

	m := store.NewMemory()
	ctx := context.Background()

	snapshots, cancel := m.SubscribeAll(ctx)
	defer cancel()

	_, err := m.Append(ctx, depositEvent("50"))
	require.NoError(t, err)
	first := <-snapshots
	assert.Len(t, first, 1)

	_, err = m.Append(ctx, depositEvent("25"))
	require.NoError(t, err)
	second := <-snapshots
	assert.Len(t, second, 2, "full set re-delivered, not just the new event")
}

func TestMemory_SlowSubscriberSeesLatestSnapshotOnly(t *testing.T) {
	// GIVEN: A subscriber that never drains its channel
	// WHEN: Several events are appended
	// THEN: The writer is never blocked and the pending snapshot is the
	//       most recent one

	m := store.NewMemory()
	ctx := context.Background()

	snapshots, cancel := m.SubscribeAll(ctx)
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := m.Append(ctx, depositEvent("10"))
		require.NoError(t, err)
	}

	latest := <-snapshots
	assert.Len(t, latest, 5, "stale snapshots are replaced, not queued")
}

func TestMemory_CancelClosesSubscription(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	snapshots, cancel := m.SubscribeAll(ctx)
	cancel()

	_, open := <-snapshots
	assert.False(t, open)

	// Appending after cancel must not panic on the closed channel.
	_, err := m.Append(ctx, depositEvent("10"))
	assert.NoError(t, err)
}

// =============================================================================
// COUNTERS
// =============================================================================

func TestMemory_AtomicUpdateIsTheSingleWritePath(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AtomicUpdate(ctx, func(n int) int { return n + 1 })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, count, "concurrent increments must not be lost")
}

func TestMemory_TillCounterIsIndependentOfSafeCounter(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	_, err := m.AddKeycards(ctx, 7)
	require.NoError(t, err)
	_, err = m.AtomicUpdate(ctx, func(n int) int { return n + 3 })
	require.NoError(t, err)

	till, err := m.Keycards(ctx)
	require.NoError(t, err)
	safe, err := m.Count(ctx)
	require.NoError(t, err)

	assert.Equal(t, 7, till)
	assert.Equal(t, 3, safe)
}

// =============================================================================
// DRAWER LOG
// =============================================================================

func TestMemory_DrawerRemoveUnknownEntry(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	id, err := m.Drawer().Append(ctx, ledger.DrawerEntry{
		User: "anna", Timestamp: "2025-06-01T08:00:00Z",
		Kind: ledger.EntryFloat, Amount: decimal.RequireFromString("20"),
	})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Remove(ctx, "missing"), ledger.ErrNotFound)
	assert.NoError(t, m.Remove(ctx, id))

	entries, err := m.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestMemory_AuditQueryFilters(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	trail := m.AuditTrail()

	require.NoError(t, trail.Append(ctx, ledger.AuditEntry{
		Actor: "anna", Timestamp: "2025-06-01T08:00:00Z", Action: ledger.AuditSafeOpened,
	}))
	require.NoError(t, trail.Append(ctx, ledger.AuditEntry{
		Actor: "ben", Timestamp: "2025-06-01T09:00:00Z", Action: ledger.AuditKeycardTransfer,
	}))

	anna := "anna"
	byActor, err := trail.Query(ctx, ledger.AuditFilter{Actor: &anna})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.Equal(t, ledger.AuditSafeOpened, byActor[0].Action)

	byAction, err := trail.Query(ctx, ledger.AuditFilter{
		Actions: []ledger.AuditAction{ledger.AuditKeycardTransfer},
	})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "ben", byAction[0].Actor)
}
